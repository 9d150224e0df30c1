// Package handlers contains the HTTP handlers for the cookalert API.
//
// Handlers depend on small local interfaces so they can be tested without
// a database or queue. Every response body is the bare resource (or list of
// resources); failures use the core error envelope.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cookalert/internal/core"
	"cookalert/internal/events"
	"cookalert/internal/types"
)

// EventService is the event lifecycle used by EventHandler.
// Satisfied by *events.Service.
type EventService interface {
	Create(ctx context.Context, in events.CreateInput) (*types.Event, error)
	List(ctx context.Context, userID string, page types.Page) ([]*types.Event, error)
	Update(ctx context.Context, id string, in events.UpdateInput) (*types.Event, error)
	Delete(ctx context.Context, id string) error
}

// CreateEventRequest is the request body for POST /api/events.
type CreateEventRequest struct {
	UserID    string `json:"userId,omitempty" validate:"omitempty,max=128"`
	Title     string `json:"title" validate:"required"`
	EventTime string `json:"eventTime" validate:"required,rfc3339"`
}

// UpdateEventRequest is the request body for PATCH /api/events/{id}.
// Omitted fields are left unchanged.
type UpdateEventRequest struct {
	Title     *string `json:"title,omitempty"`
	EventTime *string `json:"eventTime,omitempty" validate:"omitempty,rfc3339"`
}

// EventHandler serves the /events resource.
type EventHandler struct {
	svc       EventService
	validator *core.Validator
	logger    *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(svc EventService, v *core.Validator, l *slog.Logger) *EventHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EventHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the event routes.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /api/events.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	at, err := parseEventTime(req.EventTime)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	e, err := h.svc.Create(r.Context(), events.CreateInput{
		UserID:    req.UserID,
		Title:     req.Title,
		EventTime: at,
	})
	if err != nil {
		if e != nil {
			h.logger.ErrorContext(r.Context(), "event stored but reminder not scheduled",
				"event_id", e.ID, "error", err)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, e)
}

// List handles GET /api/events?userId=&limit=&offset=.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	list, err := h.svc.List(r.Context(), q.Get("userId"), page)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if list == nil {
		list = []*types.Event{}
	}
	core.JSON(w, r, http.StatusOK, list)
}

// Update handles PATCH /api/events/{id}.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := eventIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	in := events.UpdateInput{Title: req.Title}
	if req.EventTime != nil {
		at, err := parseEventTime(*req.EventTime)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		in.EventTime = &at
	}

	e, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		if e != nil {
			h.logger.ErrorContext(r.Context(), "event updated but reminder not rescheduled",
				"event_id", e.ID, "error", err)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, e)
}

// Delete handles DELETE /api/events/{id}.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := eventIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func eventIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "event id is required", nil)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidID, "invalid event id format", err)
	}
	return id, nil
}

func parseEventTime(s string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTime,
			"eventTime must be an RFC 3339 timestamp", err)
	}
	return at.UTC(), nil
}

// parsePage reads the optional limit and offset query parameters. Absent
// values fall through to the service defaults.
func parsePage(limit, offset string) (types.Page, error) {
	var page types.Page
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > types.MaxPageLimit {
			return page, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFields,
				fmt.Sprintf("limit must be an integer between 1 and %d", types.MaxPageLimit), nil,
				map[string]any{"field": "limit"})
		}
		page.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return page, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFields,
				"offset must be a non-negative integer", nil,
				map[string]any{"field": "offset"})
		}
		page.Offset = n
	}
	return page, nil
}
