package service

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/logger"
)

const imageGenRequestType = "image_gen"

// DecisionKind enumerates scheduling outcomes.
type DecisionKind int

const (
	// DecisionUseAccount selects the token immediately.
	DecisionUseAccount DecisionKind = iota
	// DecisionWaitAndUse sleeps WaitSeconds, then uses the token.
	DecisionWaitAndUse
	// DecisionAllUnavailable means every candidate is attempted or limited.
	DecisionAllUnavailable
)

// SchedulingDecision is the scheduler's answer for one selection attempt.
type SchedulingDecision struct {
	Kind  DecisionKind
	Token *ProxyToken
	// WaitSeconds is set for DecisionWaitAndUse.
	WaitSeconds int64
	// MinWaitSeconds is set for DecisionAllUnavailable: the smallest known
	// reset across the pool, defaulting to 60 when nothing reports one.
	MinWaitSeconds int64
}

// SchedulerMetricsSnapshot is a point-in-time read of selection counters.
type SchedulerMetricsSnapshot struct {
	SelectTotal         int64 `json:"select_total"`
	StickyHitTotal      int64 `json:"sticky_hit_total"`
	WaitAndUseTotal     int64 `json:"wait_and_use_total"`
	RoundRobinTotal     int64 `json:"round_robin_total"`
	AllUnavailableTotal int64 `json:"all_unavailable_total"`
}

type schedulerMetrics struct {
	selectTotal         atomic.Int64
	stickyHitTotal      atomic.Int64
	waitAndUseTotal     atomic.Int64
	roundRobinTotal     atomic.Int64
	allUnavailableTotal atomic.Int64
}

// AccountScheduler picks accounts: stable tier ordering first, then
// per-scope round-robin among non-limited, non-attempted candidates, with
// sticky-session preference layered on top.
type AccountScheduler struct {
	cursors sync.Map // scope -> *atomic.Uint64
	tracker RateLimitTracker
	metrics schedulerMetrics
}

// NewAccountScheduler creates a scheduler reading limit state from tracker.
func NewAccountScheduler(tracker RateLimitTracker) *AccountScheduler {
	return &AccountScheduler{tracker: tracker}
}

// ScopeGroup derives the key under which rate-limit state and round-robin
// cursors are partitioned. Image generation gets its own bucket per quota
// group; everything else shares the group's bucket.
func ScopeGroup(quotaGroup, requestType string) string {
	if requestType == imageGenRequestType {
		return quotaGroup + "::" + imageGenRequestType
	}
	return quotaGroup
}

// SortByTier stably sorts tokens by subscription tier, ULTRA first.
// Stability keeps round-robin fairness reproducible across calls.
func SortByTier(tokens []ProxyToken) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].TierPriority() < tokens[j].TierPriority()
	})
}

// nextIndex advances the scope's cursor and returns the scan start index.
func (s *AccountScheduler) nextIndex(scope string, total int) int {
	v, _ := s.cursors.LoadOrStore(scope, new(atomic.Uint64))
	counter := v.(*atomic.Uint64)
	return int((counter.Add(1) - 1) % uint64(total))
}

// SelectRoundRobin returns the first token in scan order that is neither
// attempted nor rate limited in scope, or nil if no candidate qualifies.
// The scope cursor advances exactly once per call.
func (s *AccountScheduler) SelectRoundRobin(tokens []ProxyToken, scope string, attempted map[string]struct{}) *ProxyToken {
	total := len(tokens)
	if total == 0 {
		return nil
	}

	start := s.nextIndex(scope, total)
	for offset := 0; offset < total; offset++ {
		candidate := &tokens[(start+offset)%total]
		if _, tried := attempted[candidate.AccountID]; tried {
			continue
		}
		if s.tracker.IsRateLimited(scope, candidate.AccountID) {
			continue
		}
		clone := *candidate
		return &clone
	}
	return nil
}

// SelectWithSession applies the sticky-session policy before falling back
// to round-robin.
func (s *AccountScheduler) SelectWithSession(
	tokens []ProxyToken,
	scope string,
	boundAccountID string,
	policy StickySessionConfig,
	attempted map[string]struct{},
) SchedulingDecision {
	s.metrics.selectTotal.Add(1)

	if boundAccountID != "" {
		remainingWait := s.tracker.RemainingWait(scope, boundAccountID)
		if remainingWait > 0 {
			if policy.Mode == ModeCacheFirst && remainingWait <= policy.MaxWaitSeconds {
				if token := findToken(tokens, boundAccountID); token != nil {
					s.metrics.waitAndUseTotal.Add(1)
					return SchedulingDecision{
						Kind:        DecisionWaitAndUse,
						Token:       token,
						WaitSeconds: remainingWait,
					}
				}
			}
			logger.L().Debug("bound account rate limited, rotating",
				zap.String("scope", scope),
				zap.String("account_id", boundAccountID),
				zap.Int64("remaining_wait", remainingWait))
		} else if _, tried := attempted[boundAccountID]; !tried {
			if token := findToken(tokens, boundAccountID); token != nil {
				s.metrics.stickyHitTotal.Add(1)
				return SchedulingDecision{Kind: DecisionUseAccount, Token: token}
			}
		}
	}

	if token := s.SelectRoundRobin(tokens, scope, attempted); token != nil {
		s.metrics.roundRobinTotal.Add(1)
		return SchedulingDecision{Kind: DecisionUseAccount, Token: token}
	}

	s.metrics.allUnavailableTotal.Add(1)
	return SchedulingDecision{
		Kind:           DecisionAllUnavailable,
		MinWaitSeconds: s.minResetSeconds(tokens, scope),
	}
}

// minResetSeconds is the smallest known reset across the pool; 60 when no
// account reports one.
func (s *AccountScheduler) minResetSeconds(tokens []ProxyToken, scope string) int64 {
	var minWait int64 = -1
	for i := range tokens {
		if seconds, ok := s.tracker.ResetSeconds(scope, tokens[i].AccountID); ok {
			if minWait < 0 || seconds < minWait {
				minWait = seconds
			}
		}
	}
	if minWait < 0 {
		return 60
	}
	return minWait
}

// HealthyAccounts returns the tokens not currently limited in scope.
func (s *AccountScheduler) HealthyAccounts(tokens []ProxyToken, scope string) []ProxyToken {
	healthy := make([]ProxyToken, 0, len(tokens))
	for i := range tokens {
		if !s.tracker.IsRateLimited(scope, tokens[i].AccountID) {
			healthy = append(healthy, tokens[i])
		}
	}
	return healthy
}

// CountLimited returns how many tokens are limited in scope.
func (s *AccountScheduler) CountLimited(tokens []ProxyToken, scope string) int {
	limited := 0
	for i := range tokens {
		if s.tracker.IsRateLimited(scope, tokens[i].AccountID) {
			limited++
		}
	}
	return limited
}

// SnapshotMetrics reads the selection counters.
func (s *AccountScheduler) SnapshotMetrics() SchedulerMetricsSnapshot {
	return SchedulerMetricsSnapshot{
		SelectTotal:         s.metrics.selectTotal.Load(),
		StickyHitTotal:      s.metrics.stickyHitTotal.Load(),
		WaitAndUseTotal:     s.metrics.waitAndUseTotal.Load(),
		RoundRobinTotal:     s.metrics.roundRobinTotal.Load(),
		AllUnavailableTotal: s.metrics.allUnavailableTotal.Load(),
	}
}

func findToken(tokens []ProxyToken, accountID string) *ProxyToken {
	for i := range tokens {
		if tokens[i].AccountID == accountID {
			clone := tokens[i]
			return &clone
		}
	}
	return nil
}
