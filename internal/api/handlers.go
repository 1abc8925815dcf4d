package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"allocplan/internal/metrics"
	"allocplan/internal/model"
)

// GeneratePlanHandler handles POST /v1/plans/generate.
func (s *Server) GeneratePlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	if !s.limiter.Allow(p.Tenant) {
		metrics.RateLimited.WithLabelValues("/v1/plans/generate").Inc()
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "plan generation rate limit exceeded", r.URL.Path)
		return
	}
	var req model.GeneratePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID != "" && req.TenantID != p.Tenant {
		writeProblem(w, http.StatusForbidden, "Forbidden", "tenantId does not match caller", r.URL.Path)
		return
	}
	out, err := s.Planner.Generate(r.Context(), p.Tenant, req)
	if err != nil {
		s.writeError(w, r, "Plan generation failed", err)
		return
	}
	status := http.StatusCreated
	if req.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

// PlansHandler lists plans for the caller's tenant.
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
		return
	}
	items, next, err := s.Store.ListPlans(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, r, "List plans failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// PlanByIDHandler handles /v1/plans/{id} and /v1/plans/{id}/entries.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if rest == "" || rest == r.URL.Path {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p := s.getPrincipal(r)

	if len(parts) == 2 && parts[1] == "entries" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.planEntries(w, r, p.Tenant, id)
		return
	}
	if len(parts) > 1 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}

	switch r.Method {
	case http.MethodGet:
		plan, err := s.Store.GetPlan(r.Context(), p.Tenant, id)
		if err != nil {
			s.writeError(w, r, "Plan not found", err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	case http.MethodDelete:
		if !p.CanPlan() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		if err := s.Planner.Delete(r.Context(), p.Tenant, id); err != nil {
			s.writeError(w, r, "Delete plan failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// planEntries pages through entries by sequence number; cursor is the last seq seen.
func (s *Server) planEntries(w http.ResponseWriter, r *http.Request, tenantID, planID string) {
	after, err := queryInt(r, "cursor")
	if err != nil || after < 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid cursor", "cursor must be a non-negative integer", r.URL.Path)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
		return
	}
	if _, err := s.Store.GetPlan(r.Context(), tenantID, planID); err != nil {
		s.writeError(w, r, "Plan not found", err)
		return
	}
	items, next, err := s.Store.ListPlanEntries(r.Context(), tenantID, planID, after, limit)
	if err != nil {
		s.writeError(w, r, "List entries failed", err)
		return
	}
	nextCursor := ""
	if next > 0 {
		nextCursor = strconv.Itoa(next)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": nextCursor})
}

// CitiesHandler lists or upserts the tenant's cities.
func (s *Server) CitiesHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListCities(r.Context(), p.Tenant)
		if err != nil {
			s.writeError(w, r, "List cities failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !p.CanPlan() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		var in model.CityInput
		if err := decodeJSON(r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateCityInput(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid city", err.Error(), r.URL.Path)
			return
		}
		c, err := s.Store.UpsertCity(r.Context(), p.Tenant, in)
		if err != nil {
			s.writeError(w, r, "Upsert city failed", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// NodesHandler lists or upserts the tenant's nodes.
func (s *Server) NodesHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListNodes(r.Context(), p.Tenant)
		if err != nil {
			s.writeError(w, r, "List nodes failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !p.CanPlan() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
			return
		}
		var in model.NodeInput
		if err := decodeJSON(r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateNodeInput(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid node", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.UpsertNode(r.Context(), p.Tenant, in)
		if err != nil {
			s.writeError(w, r, "Upsert node failed", err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PolicyHandler reads or replaces the tenant's distribution policy.
func (s *Server) PolicyHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		pol, err := s.Planner.Policy(r.Context(), p.Tenant)
		if err != nil {
			s.writeError(w, r, "Load policy failed", err)
			return
		}
		writeJSON(w, http.StatusOK, pol)
	case http.MethodPut:
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var pol model.Policy
		if err := decodeJSON(r, &pol); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Planner.SavePolicy(r.Context(), p.Tenant, pol); err != nil {
			s.writeError(w, r, "Save policy failed", err)
			return
		}
		writeJSON(w, http.StatusOK, pol)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = p.Tenant
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			s.writeError(w, r, "Create subscription failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
			return
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			s.writeError(w, r, "List subscriptions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		s.writeError(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
