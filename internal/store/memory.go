package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"allocplan/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	cities   map[string]model.City              // id -> city
	cityIDs  map[string][]string                // tenant -> city ids in insert order
	nodes    map[string]model.Node              // id -> node
	nodeIDs  map[string][]string                // tenant -> node ids in insert order
	policies map[string]model.Policy            // tenant -> policy
	plans    map[string]model.Plan              // id -> plan
	planIDs  map[string][]string                // tenant -> plan ids in creation order
	entries  map[string][]model.AllocationEntry // plan id -> entries
	subs     map[string][]model.Subscription    // tenant -> subscriptions
	// Webhooks queue state
	deliveries   map[string]*memDelivery
	deliveryIDs  []string
	deliveryKeys map[string]bool // tenant, event, url and dedup key of queued deliveries
	deadLettered []string
}

func NewMemory() *Memory {
	return &Memory{
		cities:     map[string]model.City{},
		cityIDs:    map[string][]string{},
		nodes:      map[string]model.Node{},
		nodeIDs:    map[string][]string{},
		policies:   map[string]model.Policy{},
		plans:      map[string]model.Plan{},
		planIDs:    map[string][]string{},
		entries:    map[string][]model.AllocationEntry{},
		subs:       map[string][]model.Subscription{},
		deliveries:   map[string]*memDelivery{},
		deliveryKeys: map[string]bool{},
	}
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) UpsertCity(ctx context.Context, tenantID string, in model.CityInput) (model.City, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	c, exists := m.cities[id]
	if exists && c.TenantID != tenantID {
		return model.City{}, fmt.Errorf("city %s: %w", id, ErrConflict)
	}
	c = model.City{ID: id, TenantID: tenantID, Name: in.Name, Classification: in.Classification, Active: activeOr(in.Active, c.Active || !exists)}
	m.cities[id] = c
	if !exists {
		m.cityIDs[tenantID] = append(m.cityIDs[tenantID], id)
	}
	return c, nil
}

func (m *Memory) ListCities(ctx context.Context, tenantID string) ([]model.City, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.City, 0, len(m.cityIDs[tenantID]))
	for _, id := range m.cityIDs[tenantID] {
		out = append(out, m.cities[id])
	}
	return out, nil
}

func (m *Memory) UpsertNode(ctx context.Context, tenantID string, in model.NodeInput) (model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cities[in.CityID]; !ok || c.TenantID != tenantID {
		return model.Node{}, fmt.Errorf("city %s: %w", in.CityID, ErrNotFound)
	}
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	n, exists := m.nodes[id]
	if exists && n.TenantID != tenantID {
		return model.Node{}, fmt.Errorf("node %s: %w", id, ErrConflict)
	}
	n = model.Node{ID: id, TenantID: tenantID, CityID: in.CityID, Name: in.Name, Active: activeOr(in.Active, n.Active || !exists)}
	m.nodes[id] = n
	if !exists {
		m.nodeIDs[tenantID] = append(m.nodeIDs[tenantID], id)
	}
	return n, nil
}

func (m *Memory) ListNodes(ctx context.Context, tenantID string) ([]model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Node, 0, len(m.nodeIDs[tenantID]))
	for _, id := range m.nodeIDs[tenantID] {
		out = append(out, m.nodes[id])
	}
	return out, nil
}

func (m *Memory) GetPolicy(ctx context.Context, tenantID string) (model.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID]
	if !ok {
		return model.Policy{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) SavePolicy(ctx context.Context, tenantID string, p model.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[tenantID] = p
	return nil
}

func (m *Memory) CreatePlan(ctx context.Context, plan model.Plan, entries []model.AllocationEntry) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan.ID == "" {
		plan.ID = newPlanID()
	}
	if _, exists := m.plans[plan.ID]; exists {
		return model.Plan{}, fmt.Errorf("plan %s: %w", plan.ID, ErrConflict)
	}
	if plan.CreatedAt == "" {
		plan.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.plans[plan.ID] = plan
	m.planIDs[plan.TenantID] = append(m.planIDs[plan.TenantID], plan.ID)
	m.entries[plan.ID] = append([]model.AllocationEntry(nil), entries...)
	return plan, nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Clone(m.planIDs[tenantID])
	slices.Sort(ids)
	// keyset: a deleted cursor still resumes after its position
	start, found := slices.BinarySearch(ids, cursor)
	if found {
		start++
	}
	limit = clampLimit(limit)
	end := min(start+limit, len(ids))
	out := make([]model.Plan, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, m.plans[id])
	}
	next := ""
	if end < len(ids) {
		next = ids[end-1]
	}
	return out, next, nil
}

func (m *Memory) ListPlanEntries(ctx context.Context, tenantID, planID string, afterSeq, limit int) ([]model.AllocationEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, 0, ErrNotFound
	}
	all := m.entries[planID]
	limit = clampLimit(limit)
	out := []model.AllocationEntry{}
	next := 0
	for i, e := range all {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			if i+1 < len(all) {
				next = e.Seq
			}
			break
		}
	}
	return out, next, nil
}

func (m *Memory) DeletePlan(ctx context.Context, tenantID, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.plans, planID)
	delete(m.entries, planID)
	ids := m.planIDs[tenantID]
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != planID {
			out = append(out, id)
		}
	}
	m.planIDs[tenantID] = out
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	limit = clampLimit(limit)
	end := min(start+limit, len(list))
	items := append([]model.Subscription{}, list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(arr) {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "\x00" + eventType + "\x00" + url + "\x00" + computeDedupKey(payload)
	if m.deliveryKeys[key] {
		return "", nil
	}
	m.deliveryKeys[key] = true
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
	}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d.Status == DeliveryPending && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryDead
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.deadLettered = append(m.deadLettered, id)
	return nil
}

// DeliveryStatus reports the queue state of one delivery.
func (m *Memory) DeliveryStatus(id string) (status string, attempts int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return "", 0, false
	}
	return d.Status, d.Attempts, true
}

func activeOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
