package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/chat-warden/store"
)

type handlers struct {
	db      Pinger
	dir     store.Directory
	started time.Time
}

// handleHealthz responds to liveness probes by checking database connectivity.
func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz responds to readiness probes: the store must be reachable and
// answering queries before the bot should receive traffic.
func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"directory", func() error {
			_, err := h.dir.Stats(r.Context())
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleStatus reports directory totals and process uptime.
func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dir.Stats(r.Context())
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"users":          stats.Users,
		"rooms":          stats.Rooms,
		"banned_users":   stats.Banned,
		"usage_entries":  stats.UsageTotal,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}
