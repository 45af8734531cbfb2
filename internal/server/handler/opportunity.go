package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityService defines what the opportunity handler requires from the
// audit ledger.
type OpportunityService interface {
	Get(ctx context.Context, id int64) (domain.OpportunityRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error)
}

// OpportunityHandler serves the opportunity audit trail.
type OpportunityHandler struct {
	opps   OpportunityService
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(opps OpportunityService, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, logger: logger}
}

// listOpportunitiesResponse wraps the list response.
type listOpportunitiesResponse struct {
	Opportunities []domain.OpportunityRecord `json:"opportunities"`
}

// ListOpportunities returns the most recent opportunity records.
// GET /api/opportunities?limit=50
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	records, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	if records == nil {
		records = []domain.OpportunityRecord{}
	}

	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: records})
}

// GetOpportunity returns a single opportunity record by id.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid opportunity id")
		return
	}

	rec, err := h.opps.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get opportunity failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load opportunity")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
