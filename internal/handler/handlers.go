// Package handler exposes the HTTP surface over the token manager.
package handler

import "github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/service"

// Handlers aggregates all HTTP handlers for route registration.
type Handlers struct {
	Token *TokenHandler
	Admin *AdminHandler
}

// New wires handlers over the shared manager.
func New(manager *service.TokenManager, current *service.CurrentAccount) *Handlers {
	return &Handlers{
		Token: NewTokenHandler(manager),
		Admin: NewAdminHandler(manager, current),
	}
}
