package service

import (
	"fmt"
	"strings"
)

// SchedulingMode controls what happens when a session's bound account is
// rate limited.
type SchedulingMode string

const (
	// ModeCacheFirst waits for the bound account (up to MaxWaitSeconds)
	// to keep upstream prompt caches warm.
	ModeCacheFirst SchedulingMode = "cache_first"
	// ModeBalance never waits; a limited bound account rotates immediately.
	ModeBalance SchedulingMode = "balance"
)

// StickySessionConfig is the sticky-session policy.
type StickySessionConfig struct {
	Mode           SchedulingMode `json:"mode"`
	MaxWaitSeconds int64          `json:"max_wait_seconds"`
}

// DefaultStickySessionConfig matches the proxy's shipped behavior.
func DefaultStickySessionConfig() StickySessionConfig {
	return StickySessionConfig{Mode: ModeCacheFirst, MaxWaitSeconds: 120}
}

// ParseSchedulingMode validates an operator-supplied mode string.
func ParseSchedulingMode(s string) (SchedulingMode, error) {
	switch SchedulingMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCacheFirst:
		return ModeCacheFirst, nil
	case ModeBalance:
		return ModeBalance, nil
	default:
		return "", fmt.Errorf("unknown scheduling mode %q", s)
	}
}
