package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/livefeed/internal/feed"
	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/version"
)

// newHandler serves health, metrics and subscription debugging.
func newHandler(svc *service, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		state := svc.runner.State()
		feedStatus := map[string]any{
			"state":         state.String(),
			"subscriptions": len(svc.runner.Subscriptions()),
		}
		if last := svc.runner.LastSliceTime(); !last.IsZero() {
			feedStatus["last_slice"] = last.Format(time.RFC3339Nano)
		}
		if err := svc.runner.Err(); err != nil {
			feedStatus["error"] = err.Error()
		}
		health.Components["feed"] = feedStatus

		switch state {
		case feed.StateFaulted, feed.StateStopped:
			health.Status = "unhealthy"
		case feed.StateRunning:
		default:
			health.Status = "starting"
		}

		if svc.stream != nil {
			stats := svc.stream.Stats()
			health.Components["tick_stream"] = stats
			if !stats.Connected && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs := svc.runner.Subscriptions()
		configs := make([]string, len(subs))
		for i, c := range subs {
			configs[i] = c.String()
		}

		tickSymbols := svc.ticks.SubscribedSymbols()
		ticks := make([]string, len(tickSymbols))
		for i, s := range tickSymbols {
			ticks[i] = s.String()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":         len(configs),
			"subscriptions": configs,
			"tick_symbols":  ticks,
			"tick_buffer":   svc.ticks.Stats(),
		})
	})

	return mux
}
