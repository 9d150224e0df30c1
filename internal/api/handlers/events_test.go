package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cookalert/internal/core"
	"cookalert/internal/events"
	"cookalert/internal/types"
)

const testEventID = "3f0c5c62-8a57-4a38-9f0d-2f3e6f7b9a10"

var testEventTime = time.Date(2026, 11, 20, 18, 30, 0, 0, time.UTC)

type mockEventService struct{ mock.Mock }

func (m *mockEventService) Create(ctx context.Context, in events.CreateInput) (*types.Event, error) {
	args := m.Called(ctx, in)
	e, _ := args.Get(0).(*types.Event)
	return e, args.Error(1)
}

func (m *mockEventService) List(ctx context.Context, userID string, page types.Page) ([]*types.Event, error) {
	args := m.Called(ctx, userID, page)
	list, _ := args.Get(0).([]*types.Event)
	return list, args.Error(1)
}

func (m *mockEventService) Update(ctx context.Context, id string, in events.UpdateInput) (*types.Event, error) {
	args := m.Called(ctx, id, in)
	e, _ := args.Get(0).(*types.Event)
	return e, args.Error(1)
}

func (m *mockEventService) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEventHandler() (*EventHandler, *mockEventService) {
	svc := new(mockEventService)
	l := testLogger()
	return NewEventHandler(svc, core.NewValidator(l), l), svc
}

// serve routes req through a chi router so URL params resolve.
func serve(register func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func storedEvent() *types.Event {
	return &types.Event{
		ID:        testEventID,
		UserID:    "u1",
		Title:     "Bake Bread",
		EventTime: testEventTime,
		CreatedAt: testEventTime.Add(-24 * time.Hour),
	}
}

func TestEventHandler_Create(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Create", mock.Anything, mock.MatchedBy(func(in events.CreateInput) bool {
		return in.UserID == "u1" && in.Title == "Bake Bread" && in.EventTime.Equal(testEventTime)
	})).Return(storedEvent(), nil)

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPost, "/events",
		`{"userId":"u1","title":"Bake Bread","eventTime":"2026-11-20T19:30:00+01:00"}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var got types.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, testEventID, got.ID)
	assert.Equal(t, "Bake Bread", got.Title)
	svc.AssertExpectations(t)
}

func TestEventHandler_Create_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing title", `{"eventTime":"2026-11-20T18:30:00Z"}`, types.ErrCodeValidationMissingField},
		{"missing time", `{"title":"Roast"}`, types.ErrCodeValidationMissingField},
		{"bad time", `{"title":"Roast","eventTime":"tomorrow at six"}`, types.ErrCodeValidationInvalidTime},
		{"unknown field", `{"title":"Roast","eventTime":"2026-11-20T18:30:00Z","color":"red"}`, types.ErrCodeValidationInvalidJSON},
		{"malformed", `{"title":`, types.ErrCodeValidationInvalidJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, svc := newTestEventHandler()

			rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPost, "/events", tc.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tc.code), decodeError(t, rec).Code)
			svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestEventHandler_Create_ServiceError(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Create", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeValidationEventTime, "eventTime must be in the future", nil))

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPost, "/events",
		`{"title":"Roast","eventTime":"2020-01-01T00:00:00Z"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationEventTime), decodeError(t, rec).Code)
}

func TestEventHandler_Create_ScheduleFailure(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Create", mock.Anything, mock.Anything).
		Return(storedEvent(), types.NewAppError(types.ErrCodeInternalQueue, "failed to schedule reminder", errors.New("dial tcp")))

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPost, "/events",
		`{"title":"Roast","eventTime":"2026-11-20T18:30:00Z"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalQueue), decodeError(t, rec).Code)
}

func TestEventHandler_List(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("List", mock.Anything, "u1", types.Page{}).Return([]*types.Event{storedEvent()}, nil)

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/events?userId=u1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got []types.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, testEventID, got[0].ID)
}

func TestEventHandler_List_EmptyIsArray(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("List", mock.Anything, "", types.Page{}).Return(nil, nil)

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEventHandler_List_Paging(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("List", mock.Anything, "u1", types.Page{Limit: 5, Offset: 10}).Return([]*types.Event{}, nil)

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/events?userId=u1&limit=5&offset=10", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestEventHandler_List_BadPaging(t *testing.T) {
	for _, query := range []string{"limit=0", "limit=101", "limit=ten", "offset=-1", "offset=x"} {
		t.Run(query, func(t *testing.T) {
			h, svc := newTestEventHandler()

			rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodGet, "/events?"+query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(types.ErrCodeValidationInvalidFields), decodeError(t, rec).Code)
			svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEventHandler_Update(t *testing.T) {
	h, svc := newTestEventHandler()
	later := testEventTime.Add(time.Hour)
	updated := storedEvent()
	updated.EventTime = later

	svc.On("Update", mock.Anything, testEventID, mock.MatchedBy(func(in events.UpdateInput) bool {
		return in.Title == nil && in.EventTime != nil && in.EventTime.Equal(later)
	})).Return(updated, nil)

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPatch, "/events/"+testEventID,
		`{"eventTime":"2026-11-20T19:30:00Z"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got types.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.EventTime.Equal(later))
	svc.AssertExpectations(t)
}

func TestEventHandler_Update_InvalidID(t *testing.T) {
	h, svc := newTestEventHandler()

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPatch, "/events/not-a-uuid", `{"title":"x"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidID), decodeError(t, rec).Code)
	svc.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestEventHandler_Update_NotFound(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Update", mock.Anything, testEventID, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound))

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPatch, "/events/"+testEventID, `{"title":"x"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundEvent), decodeError(t, rec).Code)
}

func TestEventHandler_Delete(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Delete", mock.Anything, testEventID).Return(nil)

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodDelete, "/events/"+testEventID, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestEventHandler_Delete_NotFound(t *testing.T) {
	h, svc := newTestEventHandler()
	svc.On("Delete", mock.Anything, testEventID).
		Return(types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound))

	rec := serve(h.RegisterRoutes, httptest.NewRequest(http.MethodDelete, "/events/"+testEventID, nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
