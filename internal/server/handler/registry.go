package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// RegistryService defines what the registry handler requires from the
// counterparty registry.
type RegistryService interface {
	List(ctx context.Context) ([]domain.RegistryEntry, error)
	SetTrusted(ctx context.Context, capToken, id string, trusted bool) error
}

// RegistryHandler serves counterparty trust management.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logger: logger}
}

// listRegistryResponse wraps the list response.
type listRegistryResponse struct {
	Entries []domain.RegistryEntry `json:"entries"`
}

// ListEntries returns all counterparty trust entries.
// GET /api/registry
func (h *RegistryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list registry failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list registry")
		return
	}

	if entries == nil {
		entries = []domain.RegistryEntry{}
	}

	writeJSON(w, http.StatusOK, listRegistryResponse{Entries: entries})
}

// setTrustedRequest is the JSON body for a trust update. The capability
// token authorizes the mutation; it is checked by the registry service, not
// the transport.
type setTrustedRequest struct {
	Trusted    bool   `json:"trusted"`
	Capability string `json:"capability"`
}

// SetTrusted flips a counterparty's trust flag.
// PUT /api/registry/{id}
func (h *RegistryHandler) SetTrusted(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing counterparty id")
		return
	}

	var req setTrustedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.registry.SetTrusted(r.Context(), req.Capability, id, req.Trusted); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "capability token rejected")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set trusted failed",
			slog.String("counterparty", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update registry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"trusted": req.Trusted,
	})
}
