package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beslagsboden/dialog-engine/internal/engine"
	"github.com/beslagsboden/dialog-engine/internal/observability"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

// Handlers carries the HTTP handlers and their dependencies.
type Handlers struct {
	logger *observability.Logger
	deps   *Deps
}

// NewHandlers creates the handler set.
func NewHandlers(logger *observability.Logger, deps *Deps) *Handlers {
	return &Handlers{logger: logger, deps: deps}
}

// QueryRequest is the query endpoint payload. A missing session ID starts
// a new conversation.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// QueryResponse wraps a turn result with its session.
type QueryResponse struct {
	SessionID string             `json:"session_id"`
	Result    *engine.TurnResult `json:"result"`
}

// Query processes one conversation turn.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	var conv session.Context
	var commit func(session.Context)

	if req.SessionID == "" {
		conv = h.deps.Sessions.Create()
		var err error
		conv, commit, err = h.deps.Sessions.Begin(conv.SessionID)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "session setup failed")
			return
		}
	} else {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		conv, commit, err = h.deps.Sessions.Begin(id)
		if errors.Is(err, session.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
	}

	result := h.deps.Engine.Process(r.Context(), req.Query, conv)
	commit(result.Context)

	h.respondJSON(w, http.StatusOK, QueryResponse{
		SessionID: conv.SessionID.String(),
		Result:    result,
	})
}

// SessionResponse is the session state view.
type SessionResponse struct {
	SessionID         string         `json:"session_id"`
	Stage             session.Stage  `json:"stage"`
	ActiveProduct     string         `json:"active_product,omitempty"`
	LastProperty      string         `json:"last_property,omitempty"`
	PreviousIntent    session.Intent `json:"previous_intent,omitempty"`
	MentionedProducts []string       `json:"mentioned_products,omitempty"`
	HistoryLength     int            `json:"history_length"`
}

// CreateSession starts a new conversation.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	conv := h.deps.Sessions.Create()
	h.respondJSON(w, http.StatusCreated, sessionView(conv))
}

// GetSession returns the session state.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	conv, err := h.deps.Sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	h.respondJSON(w, http.StatusOK, sessionView(conv))
}

// EndSession removes a session.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := h.deps.Sessions.End(id); errors.Is(err, session.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats returns the engine usage counters.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.deps.Engine.Stats())
}

func sessionView(conv session.Context) SessionResponse {
	return SessionResponse{
		SessionID:         conv.SessionID.String(),
		Stage:             conv.Stage(),
		ActiveProduct:     conv.ActiveProduct,
		LastProperty:      conv.LastProperty,
		PreviousIntent:    conv.PreviousIntent,
		MentionedProducts: conv.MentionedProducts,
		HistoryLength:     len(conv.History),
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
