package service

import "sync/atomic"

// CurrentAccountStore receives the best-effort "account currently in use"
// signal. It is observability only: failures are logged, never surfaced,
// and updates must never block GetToken.
type CurrentAccountStore interface {
	SetCurrentAccountID(accountID string) error
}

// CurrentAccount keeps the signal in-process for the stats endpoint.
type CurrentAccount struct {
	id atomic.Value // string
}

// NewCurrentAccountStore creates the in-process store.
func NewCurrentAccountStore() *CurrentAccount {
	s := &CurrentAccount{}
	s.id.Store("")
	return s
}

func (s *CurrentAccount) SetCurrentAccountID(accountID string) error {
	s.id.Store(accountID)
	return nil
}

// CurrentAccountID returns the last account GetToken selected.
func (s *CurrentAccount) CurrentAccountID() string {
	v, _ := s.id.Load().(string)
	return v
}
