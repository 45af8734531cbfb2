package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ArchiveHandler triggers an export of old finalized opportunity records to
// blob storage.
type ArchiveHandler struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. archiver may be nil when no
// blob backend is configured; the endpoint then reports 503.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

// TriggerArchive archives records finalized before the given cutoff. The
// cutoff defaults to 30 days ago.
// POST /api/archive?before=2025-01-01T00:00:00Z
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archival is not configured")
		return
	}

	before := time.Now().UTC().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before timestamp, expected RFC3339")
			return
		}
		before = parsed
	}

	count, err := h.archiver.Archive(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"archived": count,
		"before":   before.Format(time.RFC3339),
	})
}
