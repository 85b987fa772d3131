package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/api/middleware"
	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// List returns sessions owned by the caller
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, offset := pagination(r, 20)

	sessions, err := h.sessionService.ListSessions(r.Context(), identity.Subject, limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list sessions")
		return
	}

	response.OK(w, sessions)
}

// Create creates a new session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	// The body is optional, but a malformed one is still rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}

	session, err := h.sessionService.CreateSession(r.Context(), identity.Subject, req.Name)
	if err != nil {
		response.InternalError(w, "failed to create session")
		return
	}

	response.Created(w, session)
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	session, err := h.sessionService.GetSession(r.Context(), identity.Subject, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to fetch session")
		return
	}

	response.OK(w, session)
}

// SubmitRequest persists a new prompt against a session
func (h *SessionHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var req struct {
		Prompt        string     `json:"prompt" validate:"required,max=4000"`
		LinkedSession *uuid.UUID `json:"linked_session,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	created, err := h.sessionService.SubmitRequest(r.Context(), identity.Subject, sessionID, req.Prompt, req.LinkedSession)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to submit request")
		return
	}

	response.Created(w, created)
}

// GetRequest returns one request row by id. The aggregator uses this to
// discover a finished request's query id, which stage events do not
// carry.
func (h *SessionHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		response.BadRequest(w, "invalid request ID")
		return
	}

	req, err := h.sessionService.GetRequest(r.Context(), identity.Subject, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "request not found")
			return
		}
		response.InternalError(w, "failed to fetch request")
		return
	}

	response.OK(w, req)
}

// ListRequests returns a session's requests in submission order. Clients
// seed their local view from this before attaching to the live stream.
func (h *SessionHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	limit, offset := pagination(r, 200)

	requests, err := h.sessionService.ListRequests(r.Context(), identity.Subject, sessionID, limit, offset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to list requests")
		return
	}

	response.OK(w, requests)
}

// pagination reads limit/offset query params with a default page size
func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
