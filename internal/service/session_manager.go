package service

import (
	"sync"
	"sync/atomic"
)

// SessionManager maps (scope, session id) to the account last selected for
// that session, so follow-up requests land on warm upstream caches.
//
// Bindings are advisory: a binding to an account that has since been
// disabled or evicted simply falls through to round-robin on next use.
// Nothing evicts bindings by age; callers bound growth via ClearAll.
type SessionManager struct {
	bindings sync.Map // "{scope}::{session}" -> accountID string
	count    atomic.Int64
}

// NewSessionManager creates an empty binding map.
func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// SessionKey builds the composite binding key.
func SessionKey(scope, sessionID string) string {
	return scope + "::" + sessionID
}

// GetBinding returns the bound account id for a session, if any.
func (m *SessionManager) GetBinding(scope, sessionID string) (string, bool) {
	v, ok := m.bindings.Load(SessionKey(scope, sessionID))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// SetBinding binds a session to an account, replacing any prior binding.
func (m *SessionManager) SetBinding(scope, sessionID, accountID string) {
	if _, loaded := m.bindings.Swap(SessionKey(scope, sessionID), accountID); !loaded {
		m.count.Add(1)
	}
}

// RemoveBinding removes a binding and reports whether one existed.
func (m *SessionManager) RemoveBinding(scope, sessionID string) bool {
	if _, loaded := m.bindings.LoadAndDelete(SessionKey(scope, sessionID)); loaded {
		m.count.Add(-1)
		return true
	}
	return false
}

// ClearAll drops every binding.
func (m *SessionManager) ClearAll() {
	m.bindings.Range(func(key, _ any) bool {
		m.bindings.Delete(key)
		return true
	})
	m.count.Store(0)
}

// Len returns the number of active bindings.
func (m *SessionManager) Len() int {
	return int(m.count.Load())
}

// IsEmpty reports whether there are no bindings.
func (m *SessionManager) IsEmpty() bool {
	return m.Len() == 0
}
