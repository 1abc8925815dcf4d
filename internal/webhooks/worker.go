package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"allocplan/internal/logging"
	"allocplan/internal/metrics"
	"allocplan/internal/store"
)

const batchSize = 50

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         logging.Logger
	MaxAttempts int
	Interval    time.Duration
}

func NewWorker(s store.Store, maxAttempts int, log logging.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Log: log, MaxAttempts: maxAttempts, Interval: time.Second}
}

// Run polls for due deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, batchSize)
	if err != nil {
		w.Log.Warn(ctx, "fetch due webhook deliveries failed", logging.Err(err))
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		// an unusable URL never succeeds
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		w.record(it.EventType, store.DeliveryDead, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(it.Attempts+1))
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(it.Secret, time.Now(), it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	success := false
	if err == nil {
		code = resp.StatusCode
		_ = resp.Body.Close()
		success = code >= 200 && code < 300
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = "unexpected status " + strconv.Itoa(code)
	}

	if !success && it.Attempts+1 >= w.MaxAttempts {
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			w.Log.Error(ctx, "dead-letter webhook failed", logging.String("delivery_id", it.ID), logging.Err(err))
		}
		w.Log.Warn(ctx, "webhook dead-lettered",
			logging.String("delivery_id", it.ID),
			logging.String("event_type", it.EventType),
			logging.Int("attempts", it.Attempts+1),
			logging.String("last_error", lastErr),
		)
		w.record(it.EventType, store.DeliveryDead, latency)
		return
	}
	next := time.Now().Add(nextBackoff(it.Attempts))
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		w.Log.Error(ctx, "mark webhook delivery failed", logging.String("delivery_id", it.ID), logging.Err(err))
	}
	status := "retry"
	if success {
		status = store.DeliveryDelivered
	}
	w.record(it.EventType, status, latency)
}

func (w *Worker) record(eventType, status string, latencyMs int) {
	metrics.WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}

// nextBackoff doubles from one second, capped at an hour.
func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
