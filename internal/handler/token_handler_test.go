package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/googleauth"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/service"
)

type stubOAuth struct{}

func (stubOAuth) RefreshAccessToken(ctx context.Context, refreshToken string) (*googleauth.TokenResponse, error) {
	return &googleauth.TokenResponse{AccessToken: "refreshed", ExpiresIn: 3600}, nil
}

type stubResolver struct{}

func (stubResolver) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	return "proj-stub", nil
}

func testAccountJSON(id string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "email": "%s@example.com",
  "quota": {"subscription_tier": "PRO"},
  "token": {
    "access_token": "access-%s",
    "refresh_token": "refresh-%s",
    "expires_in": 3600,
    "expiry_timestamp": %d,
    "project_id": "proj-%s"
  }
}`, id, id, id, id, time.Now().Unix()+7200, id)
}

type testEnv struct {
	router  *gin.Engine
	manager *service.TokenManager
	current *service.CurrentAccount
	dataDir string
}

func newTestEnv(t *testing.T, accountIDs ...string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dataDir := t.TempDir()
	accountsDir := filepath.Join(dataDir, "accounts")
	require.NoError(t, os.MkdirAll(accountsDir, 0o755))
	for _, id := range accountIDs {
		require.NoError(t, os.WriteFile(
			filepath.Join(accountsDir, id+".json"), []byte(testAccountJSON(id)), 0o600))
	}

	current := service.NewCurrentAccountStore()
	manager := service.NewTokenManager(service.TokenManagerDeps{
		DataDir:  dataDir,
		OAuth:    stubOAuth{},
		Projects: stubResolver{},
		Current:  current,
	})
	_, err := manager.LoadAccounts()
	require.NoError(t, err)

	h := New(manager, current)
	router := gin.New()
	router.POST("/token/select", h.Token.Select)
	router.POST("/token/rate-limit", h.Token.ReportRateLimit)
	router.GET("/token/rate-limit", h.Token.RateLimitStatus)
	router.POST("/admin/accounts/reload", h.Admin.ReloadAccounts)
	router.GET("/admin/stats", h.Admin.Stats)
	router.GET("/admin/sticky-config", h.Admin.GetStickyConfig)
	router.PUT("/admin/sticky-config", h.Admin.UpdateStickyConfig)
	router.DELETE("/admin/sessions", h.Admin.ClearSessions)

	return &testEnv{router: router, manager: manager, current: current, dataDir: dataDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestSelectToken(t *testing.T) {
	env := newTestEnv(t, "a")

	w := env.do(t, http.MethodPost, "/token/select", gin.H{"quota_group": "claude", "request_type": "chat"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int `json:"code"`
		Data struct {
			AccessToken string `json:"access_token"`
			ProjectID   string `json:"project_id"`
			Email       string `json:"email"`
			AccountID   string `json:"account_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Zero(t, resp.Code)
	require.Equal(t, "a", resp.Data.AccountID)
	require.Equal(t, "access-a", resp.Data.AccessToken)
	require.Equal(t, "proj-a", resp.Data.ProjectID)
}

func TestSelectTokenEmptyPool(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/token/select", gin.H{"quota_group": "claude"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "EMPTY_POOL", resp.Reason)
	require.Equal(t, "Token pool is empty", resp.Message)
}

func TestSelectTokenValidation(t *testing.T) {
	env := newTestEnv(t, "a")

	w := env.do(t, http.MethodPost, "/token/select", gin.H{"request_type": "chat"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelectTokenSessionHashing(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	body := gin.H{"quota_group": "claude", "request_type": "chat", "session_id": "conversation-1"}
	w := env.do(t, http.MethodPost, "/token/select", body)
	require.Equal(t, http.StatusOK, w.Code)

	// The binding keys on the derived hash, not the raw session id.
	hash := service.DeriveSessionHash("conversation-1")
	bound, ok := env.manager.Sessions().GetBinding("claude", hash)
	require.True(t, ok)
	_, rawBound := env.manager.Sessions().GetBinding("claude", "conversation-1")
	require.False(t, rawBound)

	// Same session sticks to the same account.
	var first struct {
		Data struct {
			AccountID string `json:"account_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Equal(t, bound, first.Data.AccountID)

	for i := 0; i < 3; i++ {
		w = env.do(t, http.MethodPost, "/token/select", body)
		require.Equal(t, http.StatusOK, w.Code)
		var again struct {
			Data struct {
				AccountID string `json:"account_id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
		require.Equal(t, first.Data.AccountID, again.Data.AccountID)
	}
}

func TestReportAndQueryRateLimit(t *testing.T) {
	env := newTestEnv(t, "a")

	w := env.do(t, http.MethodPost, "/token/rate-limit", gin.H{
		"quota_group": "claude",
		"account_id":  "a",
		"status":      429,
		"retry_after": "60",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.manager.IsRateLimited("claude", "chat", "a"))

	w = env.do(t, http.MethodGet, "/token/rate-limit?group=claude&type=chat&account_id=a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Limited bool `json:"limited"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Data.Limited)

	w = env.do(t, http.MethodGet, "/token/rate-limit?group=claude", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
