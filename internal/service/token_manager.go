package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/accountfile"
	apperrors "github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/errors"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/logger"
)

// TokenManager is the brain of the proxy's account rotation: it owns the
// account registry and drives per-request selection across tiers, rate
// limits, sticky sessions and on-the-fly OAuth refresh.
type TokenManager struct {
	tokens  sync.Map // accountID -> ProxyToken (value; replaced, never mutated)
	count   atomic.Int64
	dataDir string

	tracker   RateLimitTracker
	sessions  *SessionManager
	refresh   *RefreshCoordinator
	scheduler *AccountScheduler
	projects  ProjectResolver
	current   CurrentAccountStore
	ioPool    pond.Pool

	stickyMu sync.RWMutex
	sticky   StickySessionConfig
}

// TokenManagerDeps wires the manager's collaborators. OAuth and Projects
// are required; the rest default to in-process implementations.
type TokenManagerDeps struct {
	DataDir  string
	OAuth    OAuthClient
	Projects ProjectResolver
	Tracker  RateLimitTracker
	Current  CurrentAccountStore
	Sticky   *StickySessionConfig
	// IOWorkers bounds the blocking file-I/O pool; defaults to 8.
	IOWorkers int
}

// NewTokenManager builds a manager with an empty registry; call
// LoadAccounts to populate it.
func NewTokenManager(deps TokenManagerDeps) *TokenManager {
	tracker := deps.Tracker
	if tracker == nil {
		tracker = NewRateLimitTracker()
	}
	current := deps.Current
	if current == nil {
		current = NewCurrentAccountStore()
	}
	sticky := DefaultStickySessionConfig()
	if deps.Sticky != nil {
		sticky = *deps.Sticky
	}
	workers := deps.IOWorkers
	if workers <= 0 {
		workers = 8
	}
	ioPool := pond.NewPool(workers)

	return &TokenManager{
		dataDir:   deps.DataDir,
		tracker:   tracker,
		sessions:  NewSessionManager(),
		refresh:   NewRefreshCoordinator(deps.OAuth, ioPool),
		scheduler: NewAccountScheduler(tracker),
		projects:  deps.Projects,
		current:   current,
		ioPool:    ioPool,
		sticky:    sticky,
	}
}

// LoadAccounts reads every *.json under <dataDir>/accounts, skipping
// disabled accounts and files missing required fields. The registry and
// all session bindings are cleared first, so a reload reflects exactly the
// current disk state. Returns the number of accepted accounts.
func (m *TokenManager) LoadAccounts() (int, error) {
	accountsDir := filepath.Join(m.dataDir, "accounts")
	if _, err := os.Stat(accountsDir); err != nil {
		return 0, apperrors.Newf(http.StatusInternalServerError, apperrors.ReasonLoadIO,
			"Accounts directory does not exist: %s", accountsDir)
	}

	m.tokens.Range(func(key, _ any) bool {
		m.tokens.Delete(key)
		return true
	})
	m.count.Store(0)
	m.sessions.ClearAll()

	entries, err := os.ReadDir(accountsDir)
	if err != nil {
		return 0, apperrors.Newf(http.StatusInternalServerError, apperrors.ReasonLoadIO,
			"Failed to read accounts directory: %v", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(accountsDir, entry.Name())
		token, err := m.loadSingleAccount(path)
		if err != nil {
			logger.L().Debug("failed to load account file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if token == nil {
			// disabled account, skip
			continue
		}
		m.store(*token)
		count++
	}

	logger.L().Info("accounts loaded",
		zap.String("dir", accountsDir), zap.Int("count", count))
	return count, nil
}

// loadSingleAccount parses one account file. Returns (nil, nil) for
// disabled accounts.
func (m *TokenManager) loadSingleAccount(path string) (*ProxyToken, error) {
	var data []byte
	err := m.ioPool.SubmitErr(func() error {
		var readErr error
		data, readErr = accountfile.Read(path)
		return readErr
	}).Wait()
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)

	if root.Get("disabled").Bool() || root.Get("proxy_disabled").Bool() {
		return nil, nil
	}

	accountID := root.Get("id").String()
	if accountID == "" {
		return nil, fmt.Errorf("missing id field")
	}
	email := root.Get("email").String()
	if email == "" {
		return nil, fmt.Errorf("missing email field")
	}
	tok := root.Get("token")
	if !tok.IsObject() {
		return nil, fmt.Errorf("missing token field")
	}
	accessToken := tok.Get("access_token").String()
	if accessToken == "" {
		return nil, fmt.Errorf("missing access_token")
	}
	refreshToken := tok.Get("refresh_token").String()
	if refreshToken == "" {
		return nil, fmt.Errorf("missing refresh_token")
	}
	expiresIn := tok.Get("expires_in")
	if !expiresIn.Exists() {
		return nil, fmt.Errorf("missing expires_in")
	}
	expiry := tok.Get("expiry_timestamp")
	if !expiry.Exists() {
		return nil, fmt.Errorf("missing expiry_timestamp")
	}

	return &ProxyToken{
		AccountID:        accountID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        expiresIn.Int(),
		Timestamp:        expiry.Int(),
		Email:            email,
		AccountPath:      path,
		ProjectID:        tok.Get("project_id").String(),
		SubscriptionTier: root.Get("quota.subscription_tier").String(),
	}, nil
}

// GetToken selects the credentials to use for one request.
//
// quotaGroup is the provider family ("claude", "gemini"); requestType
// partitions rate-limit scopes ("chat", "image_gen", ...); forceRotate
// skips the sticky binding; sessionID (optional, "" = none) enables
// sticky account reuse.
func (m *TokenManager) GetToken(ctx context.Context, quotaGroup, requestType string, forceRotate bool, sessionID string) (*SelectedToken, error) {
	snapshot := m.snapshot()
	if len(snapshot) == 0 {
		return nil, apperrors.New(http.StatusServiceUnavailable, apperrors.ReasonEmptyPool,
			"Token pool is empty")
	}

	SortByTier(snapshot)

	scope := ScopeGroup(quotaGroup, requestType)
	policy := m.StickyConfig()

	boundAccount := ""
	if sessionID != "" {
		boundAccount, _ = m.sessions.GetBinding(scope, sessionID)
	}

	logger.L().Info("get_token",
		zap.String("group", quotaGroup),
		zap.String("type", requestType),
		zap.Bool("force_rotate", forceRotate),
		zap.String("session_id", sessionID))

	attempted := make(map[string]struct{}, len(snapshot))
	var lastErr error

	for attempt := 0; attempt < len(snapshot); attempt++ {
		rotate := forceRotate || attempt > 0

		var decision SchedulingDecision
		if rotate {
			// Rotation ignores the sticky binding entirely.
			if tok := m.scheduler.SelectRoundRobin(snapshot, scope, attempted); tok != nil {
				decision = SchedulingDecision{Kind: DecisionUseAccount, Token: tok}
			} else {
				decision = SchedulingDecision{Kind: DecisionAllUnavailable, MinWaitSeconds: 60}
			}
		} else {
			decision = m.scheduler.SelectWithSession(snapshot, scope, boundAccount, policy, attempted)
		}

		var token ProxyToken
		switch decision.Kind {
		case DecisionAllUnavailable:
			return nil, apperrors.Newf(http.StatusTooManyRequests, apperrors.ReasonAllLimited,
				"All accounts are currently limited. Please wait %ds.", decision.MinWaitSeconds)

		case DecisionWaitAndUse:
			logger.L().Warn("cache-first: waiting for bound account",
				zap.String("email", decision.Token.Email),
				zap.Int64("wait_seconds", decision.WaitSeconds))
			timer := time.NewTimer(time.Duration(decision.WaitSeconds) * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			token = *decision.Token

		case DecisionUseAccount:
			token = *decision.Token
		}

		if token.IsExpired() {
			if err := m.refreshToken(ctx, &token); err != nil {
				logger.L().Error("token refresh failed",
					zap.String("email", token.Email),
					zap.String("account_id", token.AccountID),
					zap.Error(err))

				reason := apperrors.ReasonRefreshTransient
				if IsPermanentError(err.Error()) {
					reason = apperrors.ReasonRefreshPermanent
					logger.L().Error("disabling account after permanent refresh error",
						zap.String("email", token.Email),
						zap.String("account_id", token.AccountID))
					if disableErr := m.disableAccount(token.AccountID, err.Error()); disableErr != nil {
						logger.L().Warn("failed to disable account on disk",
							zap.String("account_id", token.AccountID),
							zap.Error(disableErr))
					}
					m.evict(token.AccountID)
				}

				lastErr = apperrors.Newf(http.StatusBadGateway, reason,
					"Token refresh failed: %v", err).
					WithMetadata(map[string]string{"account_id": token.AccountID})
				attempted[token.AccountID] = struct{}{}
				continue
			}
		}

		projectID := token.ProjectID
		if projectID == "" {
			pid, err := m.fetchAndSaveProjectID(ctx, &token)
			if err != nil {
				lastErr = apperrors.Newf(http.StatusBadGateway, apperrors.ReasonProjectIDFetch,
					"Failed to fetch project_id: %v", err).
					WithMetadata(map[string]string{"account_id": token.AccountID})
				attempted[token.AccountID] = struct{}{}
				continue
			}
			projectID = pid
		}

		if sessionID != "" && !rotate {
			m.sessions.SetBinding(scope, sessionID, token.AccountID)
		}

		logger.L().Info("account selected",
			zap.String("email", token.Email),
			zap.String("account_id", token.AccountID))

		// Fire-and-forget observability signal; never blocks selection.
		accountID := token.AccountID
		m.ioPool.Submit(func() {
			if err := m.current.SetCurrentAccountID(accountID); err != nil {
				logger.L().Debug("failed to update current account id",
					zap.String("account_id", accountID), zap.Error(err))
			}
		})

		return &SelectedToken{
			AccessToken: token.AccessToken,
			ProjectID:   projectID,
			Email:       token.Email,
			AccountID:   token.AccountID,
		}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperrors.New(http.StatusServiceUnavailable, apperrors.ReasonInternal,
		"All accounts failed")
}

// refreshToken refreshes the account's access token under the per-account
// lock. If a concurrent caller already refreshed it, the canonical registry
// values are copied into token and no OAuth exchange happens. On success
// both the registry and the account file carry the new credentials before
// this returns.
func (m *TokenManager) refreshToken(ctx context.Context, token *ProxyToken) error {
	lock := m.refresh.AcquireLock(token.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if current, ok := m.lookup(token.AccountID); ok && !current.IsExpired() {
		*token = current
		return nil
	}

	resp, err := m.refresh.Exchange(ctx, token)
	if err != nil {
		return err
	}

	token.AccessToken = resp.AccessToken
	token.ExpiresIn = resp.ExpiresIn
	token.Timestamp = time.Now().Unix() + resp.ExpiresIn

	if err := m.refresh.PersistRefreshed(token, resp); err != nil {
		return err
	}

	m.mutate(token.AccountID, func(t *ProxyToken) {
		t.AccessToken = token.AccessToken
		t.ExpiresIn = token.ExpiresIn
		t.Timestamp = token.Timestamp
	})
	return nil
}

// fetchAndSaveProjectID resolves the project id, then writes it back to
// the registry and the account file.
func (m *TokenManager) fetchAndSaveProjectID(ctx context.Context, token *ProxyToken) (string, error) {
	projectID, err := m.projects.FetchProjectID(ctx, token.AccessToken)
	if err != nil {
		return "", err
	}

	m.mutate(token.AccountID, func(t *ProxyToken) {
		t.ProjectID = projectID
	})
	if err := m.refresh.SaveProjectID(token.AccountPath, projectID); err != nil {
		return "", err
	}
	return projectID, nil
}

// disableAccount flags the account file disabled with the failure reason.
func (m *TokenManager) disableAccount(accountID, reason string) error {
	path := filepath.Join(m.dataDir, "accounts", accountID+".json")
	if token, ok := m.lookup(accountID); ok {
		path = token.AccountPath
	}
	if err := m.refresh.DisableOnDisk(path, reason); err != nil {
		return err
	}
	logger.L().Warn("account disabled",
		zap.String("account_id", accountID), zap.String("path", path))
	return nil
}

// MarkRateLimited records an upstream 429/quota error against the account
// under the request's scope key.
func (m *TokenManager) MarkRateLimited(quotaGroup, requestType, accountID string, status int, retryAfterHeader, errorBody string) {
	m.tracker.RecordFromError(ScopeGroup(quotaGroup, requestType), accountID, status, retryAfterHeader, errorBody)
}

// IsRateLimited reports whether the account is limited under the request's
// scope key.
func (m *TokenManager) IsRateLimited(quotaGroup, requestType, accountID string) bool {
	return m.tracker.IsRateLimited(ScopeGroup(quotaGroup, requestType), accountID)
}

// StickyConfig returns the current sticky-session policy.
func (m *TokenManager) StickyConfig() StickySessionConfig {
	m.stickyMu.RLock()
	defer m.stickyMu.RUnlock()
	return m.sticky
}

// UpdateStickyConfig swaps the sticky-session policy.
func (m *TokenManager) UpdateStickyConfig(cfg StickySessionConfig) {
	m.stickyMu.Lock()
	m.sticky = cfg
	m.stickyMu.Unlock()
	logger.L().Debug("sticky-session config updated",
		zap.String("mode", string(cfg.Mode)),
		zap.Int64("max_wait_seconds", cfg.MaxWaitSeconds))
}

// ClearAllSessions drops every session binding.
func (m *TokenManager) ClearAllSessions() {
	m.sessions.ClearAll()
}

// Len returns the number of loaded accounts.
func (m *TokenManager) Len() int {
	return int(m.count.Load())
}

// IsEmpty reports whether no accounts are loaded.
func (m *TokenManager) IsEmpty() bool {
	return m.Len() == 0
}

// Sessions exposes the binding map for diagnostics.
func (m *TokenManager) Sessions() *SessionManager {
	return m.sessions
}

// Scheduler exposes the scheduler for diagnostics.
func (m *TokenManager) Scheduler() *AccountScheduler {
	return m.scheduler
}

// Snapshot clones the registry for diagnostics; order is unspecified.
func (m *TokenManager) Snapshot() []ProxyToken {
	return m.snapshot()
}

// ===== registry internals =====

func (m *TokenManager) snapshot() []ProxyToken {
	tokens := make([]ProxyToken, 0, m.Len())
	m.tokens.Range(func(_, v any) bool {
		tokens = append(tokens, v.(ProxyToken))
		return true
	})
	return tokens
}

func (m *TokenManager) lookup(accountID string) (ProxyToken, bool) {
	v, ok := m.tokens.Load(accountID)
	if !ok {
		return ProxyToken{}, false
	}
	return v.(ProxyToken), true
}

func (m *TokenManager) store(token ProxyToken) {
	if _, loaded := m.tokens.Swap(token.AccountID, token); !loaded {
		m.count.Add(1)
	}
}

func (m *TokenManager) mutate(accountID string, fn func(*ProxyToken)) {
	if current, ok := m.lookup(accountID); ok {
		fn(&current)
		m.tokens.Store(accountID, current)
	}
}

func (m *TokenManager) evict(accountID string) {
	if _, loaded := m.tokens.LoadAndDelete(accountID); loaded {
		m.count.Add(-1)
	}
}
