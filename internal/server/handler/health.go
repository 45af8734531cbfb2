package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check is one named dependency probe run by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint, probing each registered
// dependency.
type HealthHandler struct {
	checks []Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided dependency
// checks.
func NewHealthHandler(checks []Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck responds with the status of each dependency. The overall
// status is "degraded" (503) when any probe fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	healthy := true

	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			healthy = false
			deps[c.Name] = err.Error()
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", err.Error()),
			)
		} else {
			deps[c.Name] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
