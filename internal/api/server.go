package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"allocplan/internal/alloc"
	"allocplan/internal/config"
	"allocplan/internal/logging"
	"allocplan/internal/metrics"
	"allocplan/internal/planner"
	"allocplan/internal/store"
	"allocplan/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Planner *planner.Service
	Broker  EventBroker
	Config  *config.Config
	Log     logging.Logger

	limiter *tenantLimiter
	closers []func() error
}

// NewServer wires storage, the planner and the event broker from cfg. An empty
// database URL selects the in-memory store; an empty Redis URL keeps plan
// events in-process.
func NewServer(ctx context.Context, cfg *config.Config, log logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Noop()
	}
	srv := &Server{Config: cfg, Log: log, limiter: newTenantLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		srv.Store = store.NewMemory()
		log.Info(ctx, "using in-memory store")
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
			log.Info(ctx, "database migrations applied")
		}
		srv.Store = pg
		srv.closers = append(srv.closers, pg.Close)
	}

	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL, log)
		if err != nil {
			log.Warn(ctx, "redis broker unavailable; falling back to in-process events", logging.Err(err))
			srv.Broker = NewBroker()
		} else {
			srv.Broker = rb
			srv.closers = append(srv.closers, rb.Close)
		}
	} else {
		srv.Broker = NewBroker()
	}

	engine := alloc.New(alloc.WithLogger(log), alloc.WithLimits(alloc.Limits{
		MaxTotalSamples: cfg.Limits.MaxTotalSamples,
		MaxRangeDays:    cfg.Limits.MaxRangeDays,
	}))
	srv.Planner = planner.NewService(srv.Store, engine, cfg.Defaults, log)
	srv.Planner.Notifier = brokerNotifier{srv.Broker}
	return srv, nil
}

// Close releases the database pool and the Redis client, if any.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts, s.Log)
}

// Routes returns the service mux wrapped in request-id, access-log and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/generate", s.GeneratePlanHandler)
	mux.HandleFunc("/v1/plans/events/stream", s.PlanEventsStreamHandler)
	mux.HandleFunc("/v1/plans/events/ws", s.PlanEventsWSHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /entries

	// Catalog and policy
	mux.HandleFunc("/v1/cities", s.CitiesHandler)
	mux.HandleFunc("/v1/nodes", s.NodesHandler)
	mux.HandleFunc("/v1/policy", s.PolicyHandler)
	mux.HandleFunc("/v1/catalog/import", s.CatalogImportHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Health, metrics, debug
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", s.DebugJSON)

	return requestIDMiddleware(s.accessLog(mux))
}

type brokerNotifier struct{ b EventBroker }

func (n brokerNotifier) Notify(tenantID, eventType string, data map[string]any) {
	n.b.Publish(tenantID, PlanEvent{Type: eventType, Data: data})
}
