package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// SettlementService defines what the route handler requires from the
// settlement coordinator.
type SettlementService interface {
	Submit(ctx context.Context, providerID, initiator string, route domain.Route) (int64, error)
}

// RecordReader fetches the audit record produced by a submission.
type RecordReader interface {
	Get(ctx context.Context, id int64) (domain.OpportunityRecord, error)
}

// RouteHandler serves route submission.
type RouteHandler struct {
	settle SettlementService
	opps   RecordReader
	logger *slog.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(settle SettlementService, opps RecordReader, logger *slog.Logger) *RouteHandler {
	return &RouteHandler{
		settle: settle,
		opps:   opps,
		logger: logger,
	}
}

// submitRouteRequest is the JSON body for a route submission.
type submitRouteRequest struct {
	ProviderID string       `json:"provider_id"`
	Initiator  string       `json:"initiator"`
	Route      domain.Route `json:"route"`
}

// SubmitRoute runs one settlement attempt end to end and returns the audit
// record. The record carries the outcome either way: 201 when the route
// executed, 422 when it was rejected or rolled back.
// POST /api/routes
func (h *RouteHandler) SubmitRoute(w http.ResponseWriter, r *http.Request) {
	var req submitRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	id, submitErr := h.settle.Submit(r.Context(), req.ProviderID, req.Initiator, req.Route)
	if id == 0 {
		h.logger.ErrorContext(r.Context(), "handler: submit route failed before recording",
			slog.String("error", submitErr.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit route")
		return
	}

	rec, err := h.opps.Get(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: fetch record after submit failed",
			slog.Int64("route_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load settlement record")
		return
	}

	status := http.StatusCreated
	if submitErr != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, rec)
}
