package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"allocplan/internal/model"
)

// Store is the persistence interface used by the planner and the API server.
// Every read is scoped to a tenant.
type Store interface {
	Ping(ctx context.Context) error

	// Cities & nodes
	UpsertCity(ctx context.Context, tenantID string, in model.CityInput) (model.City, error)
	ListCities(ctx context.Context, tenantID string) ([]model.City, error)
	UpsertNode(ctx context.Context, tenantID string, in model.NodeInput) (model.Node, error)
	ListNodes(ctx context.Context, tenantID string) ([]model.Node, error)

	// Distribution policy per tenant; ErrNotFound when none was saved
	GetPolicy(ctx context.Context, tenantID string) (model.Policy, error)
	SavePolicy(ctx context.Context, tenantID string, p model.Policy) error

	// Plans and their entries
	CreatePlan(ctx context.Context, plan model.Plan, entries []model.AllocationEntry) (model.Plan, error)
	GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error)
	// ListPlans pages by plan id; generated ids are time ordered, so pages run
	// oldest first.
	ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error)
	ListPlanEntries(ctx context.Context, tenantID, planID string, afterSeq, limit int) ([]model.AllocationEntry, int, error)
	DeletePlan(ctx context.Context, tenantID, planID string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries. EnqueueWebhook returns an empty id when an identical
	// delivery is already queued.
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// newPlanID returns a UUIDv7, which sorts by creation time.
func newPlanID() string {
	return uuid.Must(uuid.NewV7()).String()
}
