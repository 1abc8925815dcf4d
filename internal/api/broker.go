package api

import (
	"context"
	"sync"
)

// PlanEvent is a plan lifecycle event streamed to SSE and WebSocket listeners.
type PlanEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans plan events out to listeners keyed by tenant.
type EventBroker interface {
	Subscribe(ctx context.Context, tenantID string) (chan PlanEvent, error)
	Unsubscribe(tenantID string, ch chan PlanEvent)
	Publish(tenantID string, evt PlanEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan PlanEvent]struct{} // tenantId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan PlanEvent]struct{}{}}
}

func (b *Broker) Subscribe(_ context.Context, tenantID string) (chan PlanEvent, error) {
	ch := make(chan PlanEvent, 8)
	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = map[chan PlanEvent]struct{}{}
	}
	b.subs[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch, nil
}

func (b *Broker) Unsubscribe(tenantID string, ch chan PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[tenantID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, tenantID)
	}
	close(ch)
}

// Publish drops the event for listeners whose buffer is full.
func (b *Broker) Publish(tenantID string, evt PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[tenantID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
