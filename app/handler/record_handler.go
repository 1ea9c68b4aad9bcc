package handler

import (
	"net/http"
	"strconv"

	"bushu/internal/service"

	"github.com/gin-gonic/gin"
)

// RecordHandler serves execution records and statistics
type RecordHandler struct {
	recordService     *service.RecordService
	statisticsService *service.StatisticsService
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(recordService *service.RecordService, statisticsService *service.StatisticsService) *RecordHandler {
	return &RecordHandler{
		recordService:     recordService,
		statisticsService: statisticsService,
	}
}

// Today lists records created today in the reference timezone, newest first
// @Router /api/records/today [get]
func (h *RecordHandler) Today(c *gin.Context) {
	records, err := h.recordService.ListToday(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, records, "")
}

// List returns the most recent records
// @Param limit query int false "max records, default 200"
// @Router /api/records [get]
func (h *RecordHandler) List(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondFail(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.recordService.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, records, "")
}

// ByAccount lists the records of one account, newest first
// @Router /api/accounts/{id}/records [get]
func (h *RecordHandler) ByAccount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	records, err := h.recordService.ListForAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, records, "")
}

// Statistics returns account totals and today's success/failed counts
// @Router /api/records/statistics [get]
func (h *RecordHandler) Statistics(c *gin.Context) {
	snapshot, err := h.statisticsService.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snapshot, "")
}
