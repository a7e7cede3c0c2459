package api

import (
	"net/http"

	"github.com/vouse/vouse-server/internal/models"
)

// RegisterDeviceHandler handles POST /notifications/{userId}/register.
func (h *Handlers) RegisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req models.RegisterDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := h.users.RegisterDevice(r.Context(), principal.Subject, req)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, device)
}

// UnregisterDeviceHandler handles DELETE /notifications/{userId}/tokens/{token}.
func (h *Handlers) UnregisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := h.users.UnregisterDevice(r.Context(), principal.Subject, r.PathValue("token")); err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "device unregistered")
}

// ListDevicesHandler handles GET /notifications/{userId}/tokens.
func (h *Handlers) ListDevicesHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.owner(w, r)
	if !ok {
		return
	}

	devices, err := h.users.ListDevices(r.Context(), principal.Subject)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	if devices == nil {
		devices = []*models.DeviceToken{}
	}
	respondData(w, http.StatusOK, devices)
}
