package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"allocplan/internal/logging"
	"allocplan/internal/store"
)

// Event types published to subscribers.
const (
	EventPlanGenerated = "plan.generated"
	EventPlanDeleted   = "plan.deleted"
)

// Envelope is the JSON body delivered to subscribers.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

type Publisher struct {
	Store store.Store
	Log   logging.Logger
}

func NewPublisher(s store.Store, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues one delivery per subscription matching the tenant and event type
// and returns how many were queued. Failures are logged, never returned.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) int {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		p.Log.Warn(ctx, "webhook subscriptions lookup failed", logging.String("event_type", eventType), logging.Err(err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}
	body, err := json.Marshal(Envelope{
		ID:       "evt_" + uuid.New().String(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		p.Log.Error(ctx, "webhook payload encode failed", logging.String("event_type", eventType), logging.Err(err))
		return 0
	}
	queued := 0
	for _, s := range subs {
		id, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
		if err != nil {
			p.Log.Warn(ctx, "webhook enqueue failed", logging.String("subscription_id", s.ID), logging.Err(err))
			continue
		}
		if id == "" {
			p.Log.Debug(ctx, "webhook delivery already queued", logging.String("subscription_id", s.ID))
			continue
		}
		queued++
	}
	return queued
}
