package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/engagement"
	"github.com/vouse/vouse-server/internal/twitter"
	"github.com/vouse/vouse-server/internal/users"
)

// Envelope is the uniform response shape for every API endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, envelope Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope)
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, Envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Envelope{Success: true, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Envelope{Success: false, Message: message})
}

// respondDomainError translates service-layer errors into HTTP statuses.
// Ownership misses arrive as ErrNotFound so foreign resources are
// indistinguishable from absent ones.
func respondDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrConflict):
		respondError(w, http.StatusConflict, "resource is in a conflicting state")
	case errors.Is(err, database.ErrDuplicate):
		respondError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, users.ErrNotConnected):
		respondError(w, http.StatusBadRequest, "twitter account is not connected")
	case errors.Is(err, engagement.ErrNotPublished):
		respondError(w, http.StatusConflict, "post is not published")
	default:
		if resetAt, limited := twitter.IsRateLimited(err); limited {
			seconds := int(math.Ceil(time.Until(resetAt).Seconds()))
			if seconds < 0 {
				seconds = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			respondJSON(w, http.StatusTooManyRequests, Envelope{
				Success: false,
				Message: "rate limited by twitter",
				Data:    map[string]any{"resetAt": resetAt.UTC()},
			})
			return
		}
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
