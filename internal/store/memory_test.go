package store

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"allocplan/internal/model"
)

func TestMemoryCitiesAndNodesAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c, err := m.UpsertCity(ctx, "t1", model.CityInput{ID: "paris", Name: "Paris", Classification: model.ClassA})
	require.NoError(t, err)
	require.True(t, c.Active)

	off := false
	c, err = m.UpsertCity(ctx, "t1", model.CityInput{ID: "paris", Name: "Paris", Classification: model.ClassA, Active: &off})
	require.NoError(t, err)
	require.False(t, c.Active)

	_, err = m.UpsertCity(ctx, "t2", model.CityInput{ID: "paris"})
	require.True(t, errors.Is(err, ErrConflict))

	_, err = m.UpsertNode(ctx, "t2", model.NodeInput{CityID: "paris"})
	require.ErrorIs(t, err, ErrNotFound)

	n, err := m.UpsertNode(ctx, "t1", model.NodeInput{CityID: "paris", Name: "P-1"})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)

	cities, _ := m.ListCities(ctx, "t1")
	require.Len(t, cities, 1)
	nodes, _ := m.ListNodes(ctx, "t1")
	require.Len(t, nodes, 1)
	other, _ := m.ListNodes(ctx, "t2")
	require.Empty(t, other)
}

func TestMemoryPolicy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.GetPolicy(ctx, "t1")
	require.ErrorIs(t, err, ErrNotFound)

	pol := model.Policy{Matrix: model.CityMatrix{AA: 100}, MaxSamplesPerWeek: 4}
	require.NoError(t, m.SavePolicy(ctx, "t1", pol))
	got, err := m.GetPolicy(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, pol, got)
}

func TestMemoryPlansAndEntryPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	entries := make([]model.AllocationEntry, 5)
	for i := range entries {
		entries[i] = model.AllocationEntry{Seq: i + 1, OriginNodeID: "o", DestinationNodeID: "d"}
	}
	p, err := m.CreatePlan(ctx, model.Plan{TenantID: "t1", Status: "generated"}, entries)
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.NotEmpty(t, p.CreatedAt)

	page, next, err := m.ListPlanEntries(ctx, "t1", p.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, 2, next)

	page, next, err = m.ListPlanEntries(ctx, "t1", p.ID, 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 5, page[0].Seq)
	require.Zero(t, next)

	_, _, err = m.ListPlanEntries(ctx, "t2", p.ID, 0, 2)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.CreatePlan(ctx, model.Plan{ID: p.ID, TenantID: "t1"}, nil)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.DeletePlan(ctx, "t1", p.ID))
	_, err = m.GetPlan(ctx, "t1", p.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.DeletePlan(ctx, "t1", p.ID), ErrNotFound)
}

func TestMemoryListPlansCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for range 3 {
		_, err := m.CreatePlan(ctx, model.Plan{TenantID: "t1"}, nil)
		require.NoError(t, err)
	}
	first, next, err := m.ListPlans(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, first[1].ID, next)

	rest, next, err := m.ListPlans(ctx, "t1", next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Empty(t, next)
}

func TestMemoryListPlansResumesAfterDeletedCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for range 4 {
		p, err := m.CreatePlan(ctx, model.Plan{TenantID: "t1"}, nil)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	require.True(t, slices.IsSorted(ids), "plan ids follow creation order")

	first, next, err := m.ListPlans(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Equal(t, ids[1], next)
	require.Equal(t, ids[0], first[0].ID)

	require.NoError(t, m.DeletePlan(ctx, "t1", next))
	rest, next, err := m.ListPlans(ctx, "t1", ids[1], 2)
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, rest, 2)
	require.Equal(t, ids[2], rest[0].ID)
	require.Equal(t, ids[3], rest[1].ID)

	// caller-chosen ids page in the same bytewise order as generated ones
	_, err = m.CreatePlan(ctx, model.Plan{ID: "0-first", TenantID: "t2"}, nil)
	require.NoError(t, err)
	_, err = m.CreatePlan(ctx, model.Plan{ID: "z-last", TenantID: "t2"}, nil)
	require.NoError(t, err)
	_, err = m.CreatePlan(ctx, model.Plan{ID: "m-middle", TenantID: "t2"}, nil)
	require.NoError(t, err)
	page, _, err := m.ListPlans(ctx, "t2", "0-first", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "m-middle", page[0].ID)
	require.Equal(t, "z-last", page[1].ID)
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{"plan.generated"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{"*"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://c", Events: []string{"plan.deleted"}})

	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "plan.generated")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	require.NoError(t, m.DeleteSubscription(ctx, "t1", a.ID))
	require.ErrorIs(t, m.DeleteSubscription(ctx, "t1", a.ID), ErrNotFound)
	list, _, _ := m.ListSubscriptions(ctx, "t1", "", 10)
	require.Len(t, list, 2)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.EnqueueWebhook(ctx, "t1", "s1", "plan.generated", "http://x", "sec", []byte(`{}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// an identical payload for the same target is not queued twice
	dup, err := m.EnqueueWebhook(ctx, "t1", "s1", "plan.generated", "http://x", "sec", []byte(`{}`))
	require.NoError(t, err)
	require.Empty(t, dup)
	other, err := m.EnqueueWebhook(ctx, "t1", "s1", "plan.generated", "http://y", "sec", []byte(`{}`))
	require.NoError(t, err)
	require.NotEmpty(t, other)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	require.Empty(t, due)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gave up", 500, 3))
	status, attempts, ok := m.DeliveryStatus(id)
	require.True(t, ok)
	require.Equal(t, DeliveryDead, status)
	require.Equal(t, 2, attempts)

	require.ErrorIs(t, m.MarkWebhookDelivery(ctx, "missing", true, nil, "", 200, 1), ErrNotFound)
}
