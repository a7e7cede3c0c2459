package api

import (
	"net/http"
	"strconv"

	"github.com/vouse/vouse-server/internal/models"
)

// ListEngagementsHandler handles GET /engagements.
func (h *Handlers) ListEngagementsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	rows, err := h.engagements.List(r.Context(), principal.Subject, limit, offset)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []*models.Engagement{}
	}
	respondData(w, http.StatusOK, rows)
}

// GetEngagementHandler handles GET /engagements/{postIdX}.
func (h *Handlers) GetEngagementHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	row, err := h.engagements.Get(r.Context(), principal.Subject, r.PathValue("postIdX"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, row)
}

// GetEngagementByLocalIDHandler handles GET /engagements/local/{postIdLocal}.
func (h *Handlers) GetEngagementByLocalIDHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	row, err := h.engagements.GetByLocalID(r.Context(), principal.Subject, r.PathValue("postIdLocal"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, row)
}

// RefreshEngagementHandler handles POST /engagements/refresh/{postIdX}.
func (h *Handlers) RefreshEngagementHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	row, err := h.engagements.Refresh(r.Context(), principal.Subject, r.PathValue("postIdX"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, row)
}

// RefreshEngagementByLocalIDHandler handles POST /engagements/refresh/local/{postIdLocal}.
func (h *Handlers) RefreshEngagementByLocalIDHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	row, err := h.engagements.RefreshByLocalID(r.Context(), principal.Subject, r.PathValue("postIdLocal"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, row)
}

// RefreshEngagementBatchHandler handles POST /engagements/refresh/batch.
func (h *Handlers) RefreshEngagementBatchHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req models.BatchRefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.PostIDs) == 0 {
		respondError(w, http.StatusBadRequest, "postIds is required")
		return
	}

	outcomes := h.engagements.RefreshBatch(r.Context(), principal.Subject, req.PostIDs)
	respondData(w, http.StatusOK, outcomes)
}

// RefreshAllEngagementsHandler handles POST /engagements/refreshall.
func (h *Handlers) RefreshAllEngagementsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	outcomes, err := h.engagements.RefreshAll(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	if outcomes == nil {
		outcomes = []models.RefreshOutcome{}
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}
	respondData(w, http.StatusOK, map[string]any{
		"total":     len(outcomes),
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
		"outcomes":  outcomes,
	})
}
