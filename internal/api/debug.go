package api

import (
	"net/http"
	"time"

	"allocplan/internal/buildinfo"
)

// DebugJSON reports build info and the effective, secret-free configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                 cfg.Server.Port,
			"rateRps":              cfg.RateLimit.RPS,
			"rateBurst":            cfg.RateLimit.Burst,
			"webhookMaxAttempts":   cfg.Webhooks.MaxAttempts,
			"tracingEnabled":       cfg.Tracing.Enabled,
			"tracingExporter":      cfg.Tracing.Exporter,
			"logLevel":             cfg.Log.Level,
			"hasDatabaseUrl":       cfg.Database.URL != "",
			"hasRedisUrl":          cfg.Redis.URL != "",
			"defaultMatrixPercent": cfg.Defaults.Matrix.Total(),
		},
	}
	writeJSON(w, http.StatusOK, info)
}
