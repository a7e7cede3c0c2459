package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vouse/vouse-server/internal/auth"
	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/engagement"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/publisher"
	"github.com/vouse/vouse-server/internal/users"
)

// Handlers carries the service dependencies for the HTTP surface.
type Handlers struct {
	users       *users.Service
	posts       *publisher.Service
	engagements *engagement.Collector
	gate        *auth.Gate
	health      []HealthChecker
	logger      *slog.Logger
}

// HealthChecker is one dependency probed by GET /health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// NewHandlers creates the handler set.
func NewHandlers(
	userSvc *users.Service,
	postSvc *publisher.Service,
	engagementSvc *engagement.Collector,
	gate *auth.Gate,
	health []HealthChecker,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		users:       userSvc,
		posts:       postSvc,
		engagements: engagementSvc,
		gate:        gate,
		health:      health,
		logger:      logger,
	}
}

// HealthHandler handles GET /health. Health is the one unwrapped response:
// load balancers read it, not the mobile client.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	for _, checker := range h.health {
		if err := checker.Health(ctx); err != nil {
			h.logger.Error("health check failed", "error", err)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "vouse-server",
	})
}

// principal extracts the verified caller, responding 401 when absent.
func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return principal, true
}

// owner enforces that the path's userId belongs to the caller. Mismatches
// read as 404 so foreign users cannot be probed.
func (h *Handlers) owner(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := h.gate.RequireOwner(r.Context(), r.PathValue("userId"))
	if !ok {
		respondError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return principal, true
}

// MeHandler handles GET /users/me: it returns the caller's user row, creating
// it on first touch.
func (h *Handlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	user, err := h.users.FindOrCreate(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

// GetUserHandler handles GET /users/{userId}.
func (h *Handlers) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, user)
}

// ConnectTwitterHandler handles POST /x/auth/{userId}/connect.
func (h *Handlers) ConnectTwitterHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req models.ConnectTwitterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" {
		respondError(w, http.StatusBadRequest, "accessToken is required")
		return
	}

	if err := h.users.ConnectTwitter(r.Context(), principal.Subject, req); err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "twitter account connected")
}

// DisconnectTwitterHandler handles DELETE /x/auth/{userId}/disconnect.
func (h *Handlers) DisconnectTwitterHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := h.users.DisconnectTwitter(r.Context(), principal.Subject); err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "twitter account disconnected")
}

// ConnectionStatusHandler handles GET /x/auth/{userId}/status.
func (h *Handlers) ConnectionStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	user, err := h.users.FindOrCreate(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"isConnected": user.IsConnected})
}

// SetConnectionStatusHandler handles POST /users/{userId}/connection-status.
// Sending isConnected=false clears the stored token pair.
func (h *Handlers) SetConnectionStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req models.ConnectionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.SetConnectionStatus(r.Context(), principal.Subject, req.IsConnected)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"isConnected": user.IsConnected})
}

// VerifyConnectionHandler handles POST /x/auth/{userId}/verify: it checks the
// stored tokens against the platform and disconnects dead credentials.
func (h *Handlers) VerifyConnectionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	username, err := h.users.VerifyConnection(r.Context(), principal.Subject)
	if err != nil {
		// No row and no tokens both read as "nothing to verify".
		if errors.Is(err, users.ErrNotConnected) || errors.Is(err, database.ErrNotFound) {
			respondData(w, http.StatusOK, map[string]any{"valid": false})
			return
		}
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"valid": true, "username": username})
}
