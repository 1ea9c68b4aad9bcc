package handler

import (
	"errors"
	"io"
	"net/http"

	"bushu/internal/model"
	"bushu/internal/service"

	"github.com/gin-gonic/gin"
)

// ExecutionHandler handles manual executions and ad-hoc test submissions
type ExecutionHandler struct {
	executionService *service.ExecutionService
	defaultSteps     int
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executionService *service.ExecutionService, defaultSteps int) *ExecutionHandler {
	return &ExecutionHandler{
		executionService: executionService,
		defaultSteps:     defaultSteps,
	}
}

type executeRequest struct {
	Steps *int  `json:"steps"`
	Force *bool `json:"force"`
}

type testSubmitRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Steps    *int   `json:"steps"`
}

// Execute runs one account now. The body is optional.
// A submission that ran and failed is still a 200 with success false.
// @Router /api/accounts/{id}/execute [post]
func (h *ExecutionHandler) Execute(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondFail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	opts := model.ExecuteOptions{
		Steps:   req.Steps,
		Trigger: model.TriggerManual,
	}
	if req.Force != nil {
		opts.Force = *req.Force
	}

	result, err := h.executionService.ExecuteOne(c.Request.Context(), id, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: result.Success, Data: result, Message: result.Message})
}

// ExecuteAll runs every enabled account
// @Router /api/accounts/execute-all [post]
func (h *ExecutionHandler) ExecuteAll(c *gin.Context) {
	batch, err := h.executionService.ExecuteAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: batch.Success, Data: batch.Results, Message: batch.Message})
}

// Test submits arbitrary credentials without storing anything
// @Router /api/test [post]
func (h *ExecutionHandler) Test(c *gin.Context) {
	var req testSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	steps := h.defaultSteps
	if req.Steps != nil {
		steps = *req.Steps
	}

	outcome, err := h.executionService.TestSubmit(c.Request.Context(), req.Account, req.Password, steps)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: outcome.Success,
		Data: gin.H{
			"status_code": outcome.StatusCode,
			"raw":         outcome.Raw,
		},
		Message: outcome.Message,
	})
}
