package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestReloadAccounts(t *testing.T) {
	env := newTestEnv(t, "a")
	require.Equal(t, 1, env.manager.Len())

	// A file dropped in after startup appears on reload.
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dataDir, "accounts", "b.json"), []byte(testAccountJSON("b")), 0o600))

	w := env.do(t, http.MethodPost, "/admin/accounts/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Accounts int `json:"accounts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Data.Accounts)
	require.Equal(t, 2, env.manager.Len())
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, "a", "b")
	env.manager.MarkRateLimited("claude", "chat", "a", 429, "60", "")

	w := env.do(t, http.MethodGet, "/admin/stats?group=claude&type=chat", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Scope    string `json:"scope"`
			Accounts int    `json:"accounts"`
			Healthy  int    `json:"healthy"`
			Limited  int    `json:"limited"`
			Sessions int    `json:"sessions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "claude", resp.Data.Scope)
	require.Equal(t, 2, resp.Data.Accounts)
	require.Equal(t, 1, resp.Data.Healthy)
	require.Equal(t, 1, resp.Data.Limited)
	require.Zero(t, resp.Data.Sessions)
}

func TestStickyConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/admin/sticky-config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Mode           string `json:"mode"`
			MaxWaitSeconds int64  `json:"max_wait_seconds"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "cache_first", resp.Data.Mode)
	require.Equal(t, int64(120), resp.Data.MaxWaitSeconds)

	w = env.do(t, http.MethodPut, "/admin/sticky-config", gin.H{"mode": "balance", "max_wait_seconds": 30})
	require.Equal(t, http.StatusOK, w.Code)
	cfg := env.manager.StickyConfig()
	require.Equal(t, "balance", string(cfg.Mode))
	require.Equal(t, int64(30), cfg.MaxWaitSeconds)

	w = env.do(t, http.MethodPut, "/admin/sticky-config", gin.H{"mode": "round_robin"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/admin/sticky-config", gin.H{"mode": "balance", "max_wait_seconds": -1})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearSessions(t *testing.T) {
	env := newTestEnv(t, "a")

	w := env.do(t, http.MethodPost, "/token/select", gin.H{"quota_group": "claude", "session_id": "sess-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.manager.Sessions().Len())

	w = env.do(t, http.MethodDelete, "/admin/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.manager.Sessions().IsEmpty())
}
