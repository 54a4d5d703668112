package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/accountfile"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/googleauth"
	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/logger"
)

// OAuthClient performs the refresh-token exchange. The production
// implementation is googleauth.Client; tests substitute stubs.
type OAuthClient interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*googleauth.TokenResponse, error)
}

// disabledReasonMaxChars bounds disabled_reason in account files;
// counted in characters, not bytes.
const disabledReasonMaxChars = 800

// RefreshCoordinator serializes OAuth refreshes per account and owns the
// blocking writes back to account files. The per-account mutex is held
// across the OAuth round-trip and the file write, so there is never more
// than one refresh or one writer per account file in flight.
type RefreshCoordinator struct {
	locks  sync.Map // accountID -> *sync.Mutex
	oauth  OAuthClient
	ioPool pond.Pool
}

// NewRefreshCoordinator creates a coordinator. ioPool absorbs the blocking
// file I/O so request goroutines never sit on disk.
func NewRefreshCoordinator(oauth OAuthClient, ioPool pond.Pool) *RefreshCoordinator {
	return &RefreshCoordinator{oauth: oauth, ioPool: ioPool}
}

// AcquireLock returns the account's refresh mutex, creating it on first
// use. Concurrent callers for the same account always observe the same
// mutex; entries are never removed (footprint is bounded by the number of
// accounts ever seen).
func (c *RefreshCoordinator) AcquireLock(accountID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(accountID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Exchange calls the OAuth client. Callers must hold the account's lock.
func (c *RefreshCoordinator) Exchange(ctx context.Context, token *ProxyToken) (*googleauth.TokenResponse, error) {
	return c.oauth.RefreshAccessToken(ctx, token.RefreshToken)
}

// PersistRefreshed writes the refreshed credentials back to the account
// file: access_token, expires_in and the recomputed expiry_timestamp.
// Every other field in the file survives untouched.
func (c *RefreshCoordinator) PersistRefreshed(token *ProxyToken, resp *googleauth.TokenResponse) error {
	path := token.AccountPath
	expiry := time.Now().Unix() + resp.ExpiresIn
	err := c.ioPool.SubmitErr(func() error {
		return accountfile.Apply(path, []accountfile.Field{
			{Path: "token.access_token", Value: resp.AccessToken},
			{Path: "token.expires_in", Value: resp.ExpiresIn},
			{Path: "token.expiry_timestamp", Value: expiry},
		})
	}).Wait()
	if err != nil {
		return err
	}
	logger.L().Debug("refreshed token persisted",
		zap.String("account_id", token.AccountID))
	return nil
}

// SaveProjectID writes a freshly resolved project id into the account file.
func (c *RefreshCoordinator) SaveProjectID(path, projectID string) error {
	return c.ioPool.SubmitErr(func() error {
		return accountfile.Apply(path, []accountfile.Field{
			{Path: "token.project_id", Value: projectID},
		})
	}).Wait()
}

// DisableOnDisk flags the account file disabled with a bounded reason, so
// the account stays out of the pool across reloads.
func (c *RefreshCoordinator) DisableOnDisk(path, reason string) error {
	return c.ioPool.SubmitErr(func() error {
		return accountfile.Apply(path, []accountfile.Field{
			{Path: "disabled", Value: true},
			{Path: "disabled_at", Value: time.Now().Unix()},
			{Path: "disabled_reason", Value: truncateReason(reason, disabledReasonMaxChars)},
		})
	}).Wait()
}

// IsPermanentError reports whether a refresh error means the refresh token
// is terminally broken. The check is lexical on purpose: the OAuth client
// surfaces the upstream error body opaquely, and invalid_grant is the only
// code that signifies a revoked grant.
func IsPermanentError(errMsg string) bool {
	return strings.Contains(errMsg, "invalid_grant")
}

// truncateReason limits s to maxChars characters (not bytes), appending a
// single ellipsis when truncation occurred.
func truncateReason(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "…"
}
