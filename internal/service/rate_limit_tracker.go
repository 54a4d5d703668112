package service

import (
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/logger"
)

// Fallback backoff when an upstream error carries no usable deadline.
const (
	defaultRateLimitBackoffSeconds   = 60
	defaultServerErrorBackoffSeconds = 30
)

// RateLimitTracker is the scheduler's single source of truth for
// per-(scope, account) limit state. Readings are momentary advice; the
// selection loop tolerates a deadline expiring between the read and the
// upstream call.
type RateLimitTracker interface {
	IsRateLimited(scope, accountID string) bool
	// RemainingWait returns whole seconds until reset; 0 iff not limited.
	RemainingWait(scope, accountID string) int64
	// ResetSeconds is RemainingWait with an existence flag.
	ResetSeconds(scope, accountID string) (int64, bool)
	// RecordFromError parses an upstream 429/5xx and records the deadline.
	RecordFromError(scope, accountID string, status int, retryAfterHeader, errorBody string)
	// MarkLimited records an explicit deadline, mostly for tests and ops.
	MarkLimited(scope, accountID string, seconds int64)
}

// memoryRateLimitTracker keeps deadlines in a TTL cache; expiry doubles as
// the limit clearing itself.
type memoryRateLimitTracker struct {
	deadlines *gocache.Cache
}

// NewRateLimitTracker creates the in-process tracker.
func NewRateLimitTracker() RateLimitTracker {
	return &memoryRateLimitTracker{
		deadlines: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func limitKey(scope, accountID string) string {
	return scope + "::" + accountID
}

func (t *memoryRateLimitTracker) IsRateLimited(scope, accountID string) bool {
	return t.RemainingWait(scope, accountID) > 0
}

func (t *memoryRateLimitTracker) RemainingWait(scope, accountID string) int64 {
	seconds, ok := t.ResetSeconds(scope, accountID)
	if !ok {
		return 0
	}
	return seconds
}

func (t *memoryRateLimitTracker) ResetSeconds(scope, accountID string) (int64, bool) {
	v, ok := t.deadlines.Get(limitKey(scope, accountID))
	if !ok {
		return 0, false
	}
	resetAt, ok := v.(time.Time)
	if !ok {
		return 0, false
	}
	remaining := time.Until(resetAt)
	if remaining <= 0 {
		return 0, false
	}
	// Round up so a 100ms tail still reads as limited.
	return int64((remaining + time.Second - 1) / time.Second), true
}

func (t *memoryRateLimitTracker) RecordFromError(scope, accountID string, status int, retryAfterHeader, errorBody string) {
	seconds := ParseRetryAfterSeconds(retryAfterHeader, errorBody)
	if seconds < 0 {
		switch {
		case status == http.StatusTooManyRequests:
			seconds = defaultRateLimitBackoffSeconds
		case status >= http.StatusInternalServerError:
			seconds = defaultServerErrorBackoffSeconds
		default:
			// Not a limit signal; nothing to record.
			return
		}
	}
	t.MarkLimited(scope, accountID, seconds)
	logger.L().Debug("rate limit recorded",
		zap.String("scope", scope),
		zap.String("account_id", accountID),
		zap.Int("status", status),
		zap.Int64("reset_seconds", seconds))
}

func (t *memoryRateLimitTracker) MarkLimited(scope, accountID string, seconds int64) {
	if seconds <= 0 {
		return
	}
	ttl := time.Duration(seconds) * time.Second
	t.deadlines.Set(limitKey(scope, accountID), time.Now().Add(ttl), ttl)
}
