package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cookalert/internal/core"
	"cookalert/internal/types"
)

// DeviceRegistry stores a user's push token.
type DeviceRegistry interface {
	SaveDeviceToken(ctx context.Context, userID, pushToken string) (*types.Device, error)
}

// RegisterDeviceRequest is the request body for POST /api/devices.
type RegisterDeviceRequest struct {
	UserID    string `json:"userId" validate:"required,max=128"`
	PushToken string `json:"pushToken" validate:"required,push_token"`
}

// DeviceHandler serves device registration.
type DeviceHandler struct {
	devices   DeviceRegistry
	validator *core.Validator
	logger    *slog.Logger
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(devices DeviceRegistry, v *core.Validator, l *slog.Logger) *DeviceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &DeviceHandler{devices: devices, validator: v, logger: l}
}

// RegisterRoutes mounts the device routes.
func (h *DeviceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/devices", h.Register)
}

// Register handles POST /api/devices. A later registration for the same
// user replaces the earlier token.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	d, err := h.devices.SaveDeviceToken(r.Context(), strings.TrimSpace(req.UserID), strings.TrimSpace(req.PushToken))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "device registered", "user_id", d.UserID)
	core.JSON(w, r, http.StatusCreated, d)
}
