package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"allocplan/internal/logging"
	"allocplan/internal/model"
	"allocplan/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3, nil)
	w.HTTP = srv.Client()
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventPlanGenerated, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	w.processOnce(context.Background())

	require.Equal(t, EventPlanGenerated, gotType)
	require.True(t, VerifyPayload("secret", gotBody, gotSig, time.Now(), time.Minute))
	require.Len(t, rs.marks, 1)
	require.True(t, rs.marks[0].Success)
	status, _, _ := rs.DeliveryStatus(id)
	require.Equal(t, store.DeliveryDelivered, status)
}

func TestWorkerProcessOnce_RetryThenDeadLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	rec := logging.NewRecorder()
	w := NewWorker(rs, 1, rec)
	w.HTTP = srv.Client()
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventPlanGenerated, srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())

	require.Len(t, rs.fails, 1)
	require.Equal(t, 500, rs.fails[0].Code)
	require.Equal(t, "unexpected status 500", rs.fails[0].LastErr)
	status, _, _ := rs.DeliveryStatus(id)
	require.Equal(t, store.DeliveryDead, status)
	require.Equal(t, "webhook dead-lettered", rec.Entries()[0].Msg)
}

func TestWorkerSchedulesRetryBeforeMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 5, nil)
	w.HTTP = srv.Client()
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "t1", "", EventPlanGenerated, srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	require.False(t, rs.marks[0].Success)
	require.Empty(t, rs.fails)

	// backoff pushes the next attempt into the future
	due, _ := rs.FetchDueWebhookDeliveries(context.Background(), 10)
	require.Empty(t, due)
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, time.Second, nextBackoff(0))
	require.Equal(t, 8*time.Second, nextBackoff(3))
	require.Equal(t, 1024*time.Second, nextBackoff(50))
}

func TestPublisherEmitEnqueuesPerSubscription(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{EventPlanGenerated}, Secret: "s"})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{EventPlanDeleted}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t2", URL: "http://c", Events: []string{"*"}})

	p := NewPublisher(m, nil)
	require.Equal(t, 1, p.Emit(ctx, "t1", EventPlanGenerated, map[string]any{"planId": "p1"}))

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "http://a", due[0].URL)

	var env Envelope
	require.NoError(t, json.Unmarshal(due[0].Payload, &env))
	require.Equal(t, EventPlanGenerated, env.Type)
	require.Equal(t, "t1", env.TenantID)
	require.Contains(t, env.ID, "evt_")
}

func TestPublisherEmitSkipsDuplicateTargets(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{EventPlanGenerated}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{"*"}})

	require.Equal(t, 1, NewPublisher(m, nil).Emit(ctx, "t1", EventPlanGenerated, map[string]any{"planId": "p1"}))
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
}
