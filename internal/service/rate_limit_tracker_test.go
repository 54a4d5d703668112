package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   int64
	}{
		{"header delta seconds", "60", "", 60},
		{"header zero clamps to one", "0", "", 1},
		{"quota reset delay ms", "", `{"error": {"quotaResetDelay": "754.431528ms"}}`, 1},
		{"quota reset delay seconds", "", `{"error": {"quotaResetDelay": "2.5s"}}`, 3},
		{"retryDelay seconds", "", `{"error": {"retryDelay": "30s"}}`, 30},
		{"prose retry after", "", "Resource exhausted. Retry after 45 seconds.", 45},
		{"duration h m s", "", "quota resets in 1h02m03s", 3723},
		{"duration m s", "", "quota resets in 23m45s", 1425},
		{"no signal", "", "upstream exploded", -1},
		{"empty inputs", "", "", -1},
		{"header wins over body", "10", "retry after 99 seconds", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParseRetryAfterSeconds(tt.header, tt.body))
		})
	}
}

func TestParseRetryAfterSecondsHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	got := ParseRetryAfterSeconds(future, "")
	require.GreaterOrEqual(t, got, int64(85))
	require.LessOrEqual(t, got, int64(91))

	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC1123)
	require.Equal(t, int64(-1), ParseRetryAfterSeconds(past, ""))
}

func TestRateLimitTrackerMarkAndQuery(t *testing.T) {
	tracker := NewRateLimitTracker()

	require.False(t, tracker.IsRateLimited("claude", "acct-a"))
	require.Zero(t, tracker.RemainingWait("claude", "acct-a"))

	tracker.MarkLimited("claude", "acct-a", 30)
	require.True(t, tracker.IsRateLimited("claude", "acct-a"))

	wait := tracker.RemainingWait("claude", "acct-a")
	require.Greater(t, wait, int64(0))
	require.LessOrEqual(t, wait, int64(30))

	seconds, ok := tracker.ResetSeconds("claude", "acct-a")
	require.True(t, ok)
	require.Equal(t, wait, seconds)

	// Non-positive durations never record a limit.
	tracker.MarkLimited("claude", "acct-b", 0)
	tracker.MarkLimited("claude", "acct-c", -5)
	require.False(t, tracker.IsRateLimited("claude", "acct-b"))
	require.False(t, tracker.IsRateLimited("claude", "acct-c"))
}

func TestRateLimitTrackerScopeIsolation(t *testing.T) {
	tracker := NewRateLimitTracker()

	tracker.MarkLimited("claude::image_gen", "acct-a", 60)

	require.True(t, tracker.IsRateLimited("claude::image_gen", "acct-a"))
	require.False(t, tracker.IsRateLimited("claude", "acct-a"))
	require.False(t, tracker.IsRateLimited("gemini", "acct-a"))
}

func TestRateLimitTrackerRecordFromError(t *testing.T) {
	tracker := NewRateLimitTracker()

	// Explicit deadline from the error body.
	tracker.RecordFromError("claude", "acct-a", http.StatusTooManyRequests, "", "retry after 45 seconds")
	seconds, ok := tracker.ResetSeconds("claude", "acct-a")
	require.True(t, ok)
	require.LessOrEqual(t, seconds, int64(45))
	require.Greater(t, seconds, int64(40))

	// 429 with no hint falls back to the default backoff.
	tracker.RecordFromError("claude", "acct-b", http.StatusTooManyRequests, "", "")
	seconds, ok = tracker.ResetSeconds("claude", "acct-b")
	require.True(t, ok)
	require.LessOrEqual(t, seconds, int64(defaultRateLimitBackoffSeconds))
	require.Greater(t, seconds, int64(defaultRateLimitBackoffSeconds-5))

	// 5xx uses the shorter server-error backoff.
	tracker.RecordFromError("claude", "acct-c", http.StatusServiceUnavailable, "", "")
	seconds, ok = tracker.ResetSeconds("claude", "acct-c")
	require.True(t, ok)
	require.LessOrEqual(t, seconds, int64(defaultServerErrorBackoffSeconds))

	// Success statuses record nothing.
	tracker.RecordFromError("claude", "acct-d", http.StatusOK, "", "")
	require.False(t, tracker.IsRateLimited("claude", "acct-d"))
}

func TestRateLimitTrackerExpiry(t *testing.T) {
	tracker := NewRateLimitTracker()

	tracker.MarkLimited("claude", "acct-a", 1)
	require.True(t, tracker.IsRateLimited("claude", "acct-a"))

	time.Sleep(1100 * time.Millisecond)
	require.False(t, tracker.IsRateLimited("claude", "acct-a"))
	require.Zero(t, tracker.RemainingWait("claude", "acct-a"))
}
