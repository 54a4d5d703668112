package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/response"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/service"
)

// AdminHandler serves the operator surface: reload, stats and the
// sticky-session policy.
type AdminHandler struct {
	manager *service.TokenManager
	current *service.CurrentAccount
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(manager *service.TokenManager, current *service.CurrentAccount) *AdminHandler {
	return &AdminHandler{manager: manager, current: current}
}

// ReloadAccounts re-reads every account file from disk.
// POST /api/v1/admin/accounts/reload
func (h *AdminHandler) ReloadAccounts(c *gin.Context) {
	count, err := h.manager.LoadAccounts()
	if err != nil {
		response.ErrorFrom(c, err)
		return
	}
	response.Success(c, gin.H{"accounts": count})
}

// Stats reports the pool's health for one scope.
// GET /api/v1/admin/stats?group=claude&type=chat
func (h *AdminHandler) Stats(c *gin.Context) {
	group := c.DefaultQuery("group", "claude")
	requestType := c.DefaultQuery("type", "chat")
	scope := service.ScopeGroup(group, requestType)

	snapshot := h.manager.Snapshot()
	scheduler := h.manager.Scheduler()

	stats := gin.H{
		"scope":      scope,
		"accounts":   len(snapshot),
		"healthy":    len(scheduler.HealthyAccounts(snapshot, scope)),
		"limited":    scheduler.CountLimited(snapshot, scope),
		"sessions":   h.manager.Sessions().Len(),
		"scheduling": scheduler.SnapshotMetrics(),
	}
	if h.current != nil {
		stats["current_account_id"] = h.current.CurrentAccountID()
	}
	response.Success(c, stats)
}

// GetStickyConfig returns the active sticky-session policy.
// GET /api/v1/admin/sticky-config
func (h *AdminHandler) GetStickyConfig(c *gin.Context) {
	response.Success(c, h.manager.StickyConfig())
}

type updateStickyConfigRequest struct {
	Mode           string `json:"mode" binding:"required"`
	MaxWaitSeconds int64  `json:"max_wait_seconds"`
}

// UpdateStickyConfig swaps the sticky-session policy at runtime.
// PUT /api/v1/admin/sticky-config
func (h *AdminHandler) UpdateStickyConfig(c *gin.Context) {
	var req updateStickyConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	mode, err := service.ParseSchedulingMode(req.Mode)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.MaxWaitSeconds < 0 {
		response.BadRequest(c, "max_wait_seconds must not be negative")
		return
	}

	cfg := service.StickySessionConfig{Mode: mode, MaxWaitSeconds: req.MaxWaitSeconds}
	h.manager.UpdateStickyConfig(cfg)
	response.Success(c, cfg)
}

// ClearSessions drops every sticky-session binding.
// DELETE /api/v1/admin/sessions
func (h *AdminHandler) ClearSessions(c *gin.Context) {
	h.manager.ClearAllSessions()
	response.Success(c, gin.H{"sessions": 0})
}
