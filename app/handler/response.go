package handler

import (
	"errors"
	"net/http"
	"strconv"

	"bushu/internal/model"
	"bushu/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every API reply
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

const (
	msgAccountNotFound  = "账号不存在"
	msgAccountDisabled  = "账号已禁用"
	msgExecutionRunning = "该账号正在执行中，请稍后再试"
	msgInternalError    = "服务器内部错误"
	msgInvalidBody      = "请求参数格式错误"
)

func respondOK(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Message: message})
}

func respondFail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Success: false, Message: message})
}

// respondError maps service errors to status codes
func respondError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		respondFail(c, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, model.ErrAccountDisabled):
		respondFail(c, http.StatusNotFound, msgAccountDisabled)
	case errors.Is(err, model.ErrAccountNotFound):
		respondFail(c, http.StatusNotFound, msgAccountNotFound)
	case errors.Is(err, model.ErrExecutionInProgress):
		respondFail(c, http.StatusConflict, msgExecutionRunning)
	default:
		logger.ErrorCtx(ctx, "request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		respondFail(c, http.StatusInternalServerError, msgInternalError)
	}
}

// parseID reads the :id path parameter and answers 400 when it is malformed
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondFail(c, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}
