package service

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Upstream quota errors carry their reset deadline in several shapes:
// a Retry-After header (delta seconds or HTTP date), quotaResetDelay /
// retryDelay fields inside the JSON error body, prose like
// "retry after 60 seconds", Go-style durations, or an ISO reset stamp.
var (
	quotaDelayRegex     = regexp.MustCompile(`(?i)quotaResetDelay[:\s"]+(\d+(?:\.\d+)?)(ms|s)`)
	quotaTimestampRegex = regexp.MustCompile(`(?i)quotaResetTimeStamp[:\s"]+(\d{4}-\d{2}-\d{2}T[\d:.]+Z?)`)
	retrySecondsRegex   = regexp.MustCompile(`(?i)(?:retry[-_]?after[-_]?ms|retryDelay)[:\s"]+([\d.]+)(?:s\b|s")`)
	retryMsRegex        = regexp.MustCompile(`(?i)(?:retry[-_]?after[-_]?ms|retryDelay)[:\s"]+(\d+)(?:\s*ms)?(?:\s|$|[,;}\]])`)
	retryAfterSecRegex  = regexp.MustCompile(`(?i)retry\s+(?:after\s+)?(\d+)\s*(?:sec|s\b)`)
	durationRegex       = regexp.MustCompile(`(?i)(\d+)h(\d+)m(\d+)s|(\d+)m(\d+)s|(\d+)s`)
	isoTimestampRegex   = regexp.MustCompile(`(?i)reset[:\s"]+(\d{4}-\d{2}-\d{2}T[\d:.]+Z?)`)
)

// ParseRetryAfterSeconds extracts the reset delay in whole seconds from a
// Retry-After header value and/or an upstream error body. Returns -1 when
// neither carries a usable deadline.
func ParseRetryAfterSeconds(retryAfterHeader, errorBody string) int64 {
	if header := strings.TrimSpace(retryAfterHeader); header != "" {
		if seconds, err := strconv.ParseInt(header, 10, 64); err == nil && seconds >= 0 {
			return clampSeconds(seconds)
		}
		if t, err := time.Parse(time.RFC1123, header); err == nil {
			if delta := time.Until(t); delta > 0 {
				return ceilSeconds(delta.Milliseconds())
			}
		}
	}
	if errorBody != "" {
		if ms := parseResetMillisFromBody(errorBody); ms >= 0 {
			return ceilSeconds(ms)
		}
	}
	return -1
}

func parseResetMillisFromBody(msg string) int64 {
	// quotaResetDelay, e.g. "754.431528ms" or "1.5s"
	if match := quotaDelayRegex.FindStringSubmatch(msg); match != nil {
		value, _ := strconv.ParseFloat(match[1], 64)
		if strings.EqualFold(match[2], "s") {
			return int64(value * 1000)
		}
		return int64(value)
	}

	// quotaResetTimeStamp, ISO format
	if match := quotaTimestampRegex.FindStringSubmatch(msg); match != nil {
		if t, err := time.Parse(time.RFC3339, match[1]); err == nil {
			if delta := time.Until(t).Milliseconds(); delta > 0 {
				return delta
			}
		}
	}

	// retry-after-ms / retryDelay with explicit seconds suffix
	if match := retrySecondsRegex.FindStringSubmatch(msg); match != nil {
		value, _ := strconv.ParseFloat(match[1], 64)
		return int64(value * 1000)
	}

	// retry-after-ms / retryDelay in milliseconds
	if match := retryMsRegex.FindStringSubmatch(msg); match != nil {
		ms, _ := strconv.ParseInt(match[1], 10, 64)
		return ms
	}

	// prose: "retry after 60 seconds"
	if match := retryAfterSecRegex.FindStringSubmatch(msg); match != nil {
		seconds, _ := strconv.ParseInt(match[1], 10, 64)
		return seconds * 1000
	}

	// durations: "1h23m45s", "23m45s", "45s"
	if match := durationRegex.FindStringSubmatch(msg); match != nil {
		var totalSeconds int64
		switch {
		case match[1] != "":
			h, _ := strconv.ParseInt(match[1], 10, 64)
			m, _ := strconv.ParseInt(match[2], 10, 64)
			s, _ := strconv.ParseInt(match[3], 10, 64)
			totalSeconds = h*3600 + m*60 + s
		case match[4] != "":
			m, _ := strconv.ParseInt(match[4], 10, 64)
			s, _ := strconv.ParseInt(match[5], 10, 64)
			totalSeconds = m*60 + s
		default:
			totalSeconds, _ = strconv.ParseInt(match[6], 10, 64)
		}
		if totalSeconds > 0 {
			return totalSeconds * 1000
		}
	}

	// ISO reset timestamp
	if match := isoTimestampRegex.FindStringSubmatch(msg); match != nil {
		if t, err := time.Parse(time.RFC3339, match[1]); err == nil {
			if delta := time.Until(t).Milliseconds(); delta > 0 {
				return delta
			}
		}
	}

	return -1
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 1
	}
	return clampSeconds((ms + 999) / 1000)
}

// clampSeconds floors tiny deadlines to one second so a fresh limit never
// rounds down to "not limited".
func clampSeconds(seconds int64) int64 {
	if seconds < 1 {
		return 1
	}
	return seconds
}
