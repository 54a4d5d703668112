package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/response"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/service"
)

// TokenHandler serves the proxy front-end: credential selection and
// upstream rate-limit reporting.
type TokenHandler struct {
	manager *service.TokenManager
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(manager *service.TokenManager) *TokenHandler {
	return &TokenHandler{manager: manager}
}

type selectTokenRequest struct {
	QuotaGroup  string `json:"quota_group" binding:"required"`
	RequestType string `json:"request_type"`
	ForceRotate bool   `json:"force_rotate"`
	SessionID   string `json:"session_id"`
}

// Select picks the credentials for one upstream request.
// POST /api/v1/token/select
func (h *TokenHandler) Select(c *gin.Context) {
	var req selectTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	sessionHash := service.DeriveSessionHash(req.SessionID)
	selected, err := h.manager.GetToken(c.Request.Context(), req.QuotaGroup, req.RequestType, req.ForceRotate, sessionHash)
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, selected)
}

type reportRateLimitRequest struct {
	QuotaGroup  string `json:"quota_group" binding:"required"`
	RequestType string `json:"request_type"`
	AccountID   string `json:"account_id" binding:"required"`
	Status      int    `json:"status" binding:"required"`
	RetryAfter  string `json:"retry_after"`
	ErrorBody   string `json:"error_body"`
}

// ReportRateLimit records an upstream 429/5xx against an account so the
// scheduler routes around it until the quota resets.
// POST /api/v1/token/rate-limit
func (h *TokenHandler) ReportRateLimit(c *gin.Context) {
	var req reportRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	h.manager.MarkRateLimited(req.QuotaGroup, req.RequestType, req.AccountID, req.Status, req.RetryAfter, req.ErrorBody)
	response.Success(c, gin.H{
		"limited": h.manager.IsRateLimited(req.QuotaGroup, req.RequestType, req.AccountID),
	})
}

// RateLimitStatus reports whether one account is limited in a scope.
// GET /api/v1/token/rate-limit?group=claude&type=chat&account_id=xxx
func (h *TokenHandler) RateLimitStatus(c *gin.Context) {
	group := c.Query("group")
	accountID := c.Query("account_id")
	if group == "" || accountID == "" {
		response.BadRequest(c, "group and account_id are required")
		return
	}
	response.Success(c, gin.H{
		"limited": h.manager.IsRateLimited(group, c.Query("type"), accountID),
	})
}
