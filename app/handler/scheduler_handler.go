package handler

import (
	"bushu/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// SchedulerHandler exposes the armed timer table
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(s *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

// Jobs lists armed timers ordered by account id
// @Router /api/scheduler/jobs [get]
func (h *SchedulerHandler) Jobs(c *gin.Context) {
	respondOK(c, h.scheduler.Entries(), "")
}
