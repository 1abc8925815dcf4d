package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"allocplan/internal/api"
	"allocplan/internal/buildinfo"
	"allocplan/internal/config"
	"allocplan/internal/logging"
	"allocplan/internal/metrics"
	"allocplan/internal/observability"
)

func main() {
	if err := run(); err != nil {
		logging.NewFromEnv().Error(context.Background(), "api exited", logging.Err(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info(ctx, "starting allocplan api", logging.String("version", buildinfo.Version))

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics.RegisterDefault()

	srvDeps, err := api.NewServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = srvDeps.Close() }()

	// Start webhook worker
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		srvDeps.NewWebhookWorker().Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// streams end when the process is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "API listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		<-workerDone
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-workerDone
	return err
}
