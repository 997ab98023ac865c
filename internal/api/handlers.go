package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"trichat/internal/analytics"
	"trichat/internal/conversation"
	"trichat/internal/dispatch"
	"trichat/internal/settings"
	"trichat/internal/storage"
)

type APIHandler struct {
	coord    *dispatch.Coordinator
	settings *settings.Manager
	recorder storage.Recorder
	now      func() time.Time
}

// NewAPIHandler wires the handlers. recorder may be nil when interaction
// recording is disabled.
func NewAPIHandler(coord *dispatch.Coordinator, mgr *settings.Manager, recorder storage.Recorder) *APIHandler {
	return &APIHandler{coord: coord, settings: mgr, recorder: recorder, now: time.Now}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	start, err := h.coord.StartChat()
	if err != nil {
		log.WithError(err).Error("failed to start conversation")
		writeError(w, http.StatusInternalServerError, "Failed to start conversation")
		return
	}
	writeJSON(w, http.StatusCreated, start)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	snap, ok := h.coord.Store().Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if !h.coord.Reset(id) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

// PostMessageHandler dispatches the message. Unknown conversation ids are
// created on first use.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.coord.HandleMessage(r.Context(), id, req.Message)
	switch {
	case errors.Is(err, dispatch.ErrEmptyMessage), errors.Is(err, conversation.ErrEmptyID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.WithError(err).WithField("conversation", id).Error("failed to handle message")
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type UpdateSettingsResponse struct {
	Settings     conversation.Settings `json:"settings"`
	Confirmation string                `json:"confirmation"`
}

func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var patch conversation.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	s, err := h.settings.Update(id, patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UpdateSettingsResponse{Settings: s, Confirmation: settings.Confirmation(s)})
}

func (h *APIHandler) SettingsOptionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settings.DefaultOptions())
}

// StatsHandler reports per-provider statistics for ?date=YYYY-MM-DD, today
// (UTC) by default.
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeError(w, http.StatusNotFound, "Interaction recording is disabled")
		return
	}
	day := h.now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
			return
		}
		day = d
	}
	stats, err := analytics.ForDay(h.recorder, day)
	if err != nil {
		log.WithError(err).Error("failed to load interactions")
		writeError(w, http.StatusInternalServerError, "Failed to load interactions")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
