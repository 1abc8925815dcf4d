// Package planner hosts the allocation engine behind tenant-scoped storage:
// it resolves the effective policy, runs the engine and persists the plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"allocplan/internal/alloc"
	"allocplan/internal/logging"
	"allocplan/internal/metrics"
	"allocplan/internal/model"
	"allocplan/internal/observability"
	"allocplan/internal/store"
	"allocplan/internal/webhooks"
)

const (
	dateLayout = "2006-01-02"

	StatusGenerated = "generated"
	StatusDryRun    = "dry_run"
)

// Notifier fans plan events out to live listeners (SSE, WebSocket).
type Notifier interface {
	Notify(tenantID, eventType string, data map[string]any)
}

type Service struct {
	Store     store.Store
	Engine    *alloc.Engine
	Publisher *webhooks.Publisher
	Notifier  Notifier
	// Defaults applies to tenants without a saved policy.
	Defaults model.Policy
	Log      logging.Logger
}

func NewService(s store.Store, engine *alloc.Engine, defaults model.Policy, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	if engine == nil {
		engine = alloc.New(alloc.WithLogger(log))
	}
	return &Service{Store: s, Engine: engine, Defaults: defaults, Log: log, Publisher: webhooks.NewPublisher(s, log)}
}

// Outcome is a generated plan with its entries and the engine's explanations.
type Outcome struct {
	Plan        model.Plan              `json:"plan"`
	Entries     []model.AllocationEntry `json:"entries"`
	Routes      []alloc.CityPairRoute   `json:"routes"`
	Diagnostics []alloc.Diagnostic      `json:"diagnostics,omitempty"`
}

// Policy returns the tenant's saved policy or the configured defaults.
func (s *Service) Policy(ctx context.Context, tenantID string) (model.Policy, error) {
	pol, err := s.Store.GetPolicy(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return s.Defaults, nil
	}
	return pol, err
}

// SavePolicy validates and stores a tenant's policy.
func (s *Service) SavePolicy(ctx context.Context, tenantID string, pol model.Policy) error {
	if err := ValidatePolicy(pol); err != nil {
		return err
	}
	return s.Store.SavePolicy(ctx, tenantID, pol)
}

// ValidatePolicy checks percentage ranges and the weekly cap.
func ValidatePolicy(pol model.Policy) error {
	for i, v := range pol.Matrix.Values() {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: matrix cell %s must be within [0,100], got %d", alloc.ErrInvalidInput, model.MatrixCells[i].Name, v)
		}
	}
	for i, v := range pol.Seasonal.Values() {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: seasonal %s must be within [0,100], got %d", alloc.ErrInvalidInput, time.Month(i+1), v)
		}
	}
	if pol.MaxSamplesPerWeek < 0 {
		return fmt.Errorf("%w: maxSamplesPerWeek must be >= 0", alloc.ErrInvalidInput)
	}
	return nil
}

// Generate runs the engine for a tenant and, unless req.DryRun, stores the plan
// and announces it.
func (s *Service) Generate(ctx context.Context, tenantID string, req model.GeneratePlanRequest) (out Outcome, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "planner.Generate", tenantID,
		attribute.Int("total_samples", req.TotalSamples),
		attribute.Bool("dry_run", req.DryRun),
	)
	defer func() {
		observability.EndSpan(span, err)
		metrics.PlanGenerationDuration.Observe(time.Since(start).Seconds())
		switch {
		case errors.Is(err, alloc.ErrInvalidInput):
			metrics.PlansGenerated.WithLabelValues("invalid").Inc()
		case err != nil:
			metrics.PlansGenerated.WithLabelValues("error").Inc()
		case req.DryRun:
			metrics.PlansGenerated.WithLabelValues(StatusDryRun).Inc()
		default:
			metrics.PlansGenerated.WithLabelValues("persisted").Inc()
		}
	}()

	startDate, endDate, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return Outcome{}, err
	}
	cities, err := s.Store.ListCities(ctx, tenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list cities: %w", err)
	}
	nodes, err := s.Store.ListNodes(ctx, tenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list nodes: %w", err)
	}
	pol, err := s.Policy(ctx, tenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load policy: %w", err)
	}
	pol = Merge(pol, req)

	res, err := s.Engine.Generate(ctx, alloc.Input{
		TotalSamples:      req.TotalSamples,
		StartDate:         startDate,
		EndDate:           endDate,
		Cities:            cities,
		Nodes:             nodes,
		Matrix:            pol.Matrix,
		UseSeasonal:       pol.UseSeasonal,
		Seasonal:          pol.Seasonal,
		MaxSamplesPerWeek: pol.MaxSamplesPerWeek,
		Seed:              req.Seed,
	})
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int("entries", len(res.Entries)), attribute.Int("routes", len(res.Routes)))

	plan := model.Plan{
		TenantID:          tenantID,
		Name:              req.Name,
		Status:            StatusGenerated,
		TotalSamples:      req.TotalSamples,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Matrix:            res.Matrix,
		UseSeasonal:       pol.UseSeasonal,
		Seasonal:          res.Seasonal,
		MaxSamplesPerWeek: pol.MaxSamplesPerWeek,
		Summary:           Summarize(req.TotalSamples, res),
	}
	for reason, n := range plan.Summary.Diagnostics {
		metrics.PlanDiagnostics.WithLabelValues(reason).Add(float64(n))
	}
	metrics.PlanEntries.Observe(float64(len(res.Entries)))

	if req.DryRun {
		plan.Status = StatusDryRun
		plan.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		return Outcome{Plan: plan, Entries: res.Entries, Routes: res.Routes, Diagnostics: res.Diagnostics}, nil
	}

	plan, err = s.Store.CreatePlan(ctx, plan, res.Entries)
	if err != nil {
		return Outcome{}, fmt.Errorf("store plan: %w", err)
	}
	s.Log.Info(ctx, "plan generated",
		logging.String("tenant_id", tenantID),
		logging.String("plan_id", plan.ID),
		logging.Int("entries", plan.Summary.Entries),
		logging.Int("requested", plan.Summary.RequestedSamples),
		logging.Int("routed", plan.Summary.RoutedSamples),
	)
	s.announce(ctx, tenantID, webhooks.EventPlanGenerated, plan)
	return Outcome{Plan: plan, Entries: res.Entries, Routes: res.Routes, Diagnostics: res.Diagnostics}, nil
}

// Delete removes a stored plan and announces it.
func (s *Service) Delete(ctx context.Context, tenantID, planID string) error {
	plan, err := s.Store.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return err
	}
	if err := s.Store.DeletePlan(ctx, tenantID, planID); err != nil {
		return err
	}
	s.announce(ctx, tenantID, webhooks.EventPlanDeleted, plan)
	return nil
}

func (s *Service) announce(ctx context.Context, tenantID, eventType string, plan model.Plan) {
	data := map[string]any{
		"planId":  plan.ID,
		"name":    plan.Name,
		"status":  plan.Status,
		"summary": plan.Summary,
	}
	if s.Publisher != nil {
		s.Publisher.Emit(ctx, tenantID, eventType, data)
	}
	if s.Notifier != nil {
		s.Notifier.Notify(tenantID, eventType, data)
	}
}

// Merge overlays the request's explicit policy fields on the stored policy.
func Merge(pol model.Policy, req model.GeneratePlanRequest) model.Policy {
	if req.CityDistributionMatrix != nil {
		pol.Matrix = *req.CityDistributionMatrix
	}
	if req.UseSeasonalDistribution != nil {
		pol.UseSeasonal = *req.UseSeasonalDistribution
	}
	if req.SeasonalDistribution != nil {
		pol.Seasonal = *req.SeasonalDistribution
	}
	if req.MaxSamplesPerWeek != nil {
		pol.MaxSamplesPerWeek = *req.MaxSamplesPerWeek
	}
	return pol
}

// Summarize reports requested versus routed samples and diagnostics per reason.
func Summarize(requested int, res alloc.Result) model.PlanSummary {
	return model.PlanSummary{
		RequestedSamples: requested,
		RoutedSamples:    res.RoutedSamples(),
		Entries:          len(res.Entries),
		Routes:           len(res.Routes),
		Weeks:            len(res.Weeks),
		Diagnostics:      alloc.CountByReason(res.Diagnostics),
	}
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate must be YYYY-MM-DD", alloc.ErrInvalidInput)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate must be YYYY-MM-DD", alloc.ErrInvalidInput)
	}
	return s, e, nil
}
