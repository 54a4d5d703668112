package service

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DeriveSessionHash normalizes a caller-supplied session identifier into
// the fixed-width key stored in the binding map. Raw session ids can be
// arbitrarily long (conversation ids, header blobs), so bindings key on a
// 16-char xxhash digest instead. Empty input stays empty: no session.
func DeriveSessionHash(sessionID string) string {
	normalized := strings.TrimSpace(sessionID)
	if normalized == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized))
}
