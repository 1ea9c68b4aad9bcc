package handler

import (
	"net/http"

	"bushu/internal/model"
	"bushu/internal/service"

	"github.com/gin-gonic/gin"
)

// AccountHandler handles account management requests
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// List returns all accounts without passwords
// @Router /api/accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	accounts, err := h.accountService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, accounts, "")
}

// Create adds an account and arms its timer when enabled
// @Router /api/accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	var spec model.AccountSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondFail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	account, err := h.accountService.Create(c.Request.Context(), &spec)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, account.WithoutPassword(), "账号添加成功")
}

// Get returns one account including its password
// @Router /api/accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.accountService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, account, "")
}

// Update applies a partial update. Omitted fields keep their value.
// @Router /api/accounts/{id} [put]
func (h *AccountHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var patch model.AccountPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondFail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	account, err := h.accountService.Update(c.Request.Context(), id, &patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, account.WithoutPassword(), "账号更新成功")
}

// Delete removes an account and its records
// @Router /api/accounts/{id} [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.accountService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil, "账号删除成功")
}

// Toggle flips the enabled flag
// @Router /api/accounts/{id}/toggle [post]
func (h *AccountHandler) Toggle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.accountService.Toggle(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "已禁用"
	if account.Enabled {
		message = "已启用"
	}
	respondOK(c, account.WithoutPassword(), message)
}
