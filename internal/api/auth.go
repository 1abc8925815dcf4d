// Package api implements HTTP handlers and helpers for the allocation plan service.
package api

import (
	"net/http"
)

const defaultTenant = "t_demo"

type Principal struct {
	Tenant string
	Role   string // admin, dispatcher, viewer
}

// getPrincipal extracts tenant and role from headers. Authentication happens
// upstream; an absent role is treated as admin for local use.
func (s *Server) getPrincipal(r *http.Request) Principal {
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	if tenant == "" {
		tenant = defaultTenant
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Tenant: tenant, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may generate plans and edit the catalog.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == "dispatcher" }
