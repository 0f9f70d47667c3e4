// Package api exposes the session core over HTTP. Handlers validate input,
// resolve the caller through the identity collaborator, and translate the
// error taxonomy into JSON responses.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"pulsecast/internal/auth"
	"pulsecast/internal/models"
	"pulsecast/internal/moderation"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/presence"
	"pulsecast/internal/store"
	"pulsecast/internal/stream"
)

// Handler bundles the session core services behind HTTP endpoints.
type Handler struct {
	Sessions   *stream.Manager
	Viewers    *presence.Tracker
	Moderation *moderation.Service
	Identity   auth.Identity
	Store      store.Store
	Logger     *slog.Logger
}

// NewHandler wires the HTTP handler.
func NewHandler(streams *stream.Manager, viewers *presence.Tracker, mod *moderation.Service, identity auth.Identity, st store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Sessions:   streams,
		Viewers:    viewers,
		Moderation: mod,
		Identity:   identity,
		Store:      st,
		Logger:     logger,
	}
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, err := h.Identity.Authenticate(r)
	if err != nil {
		writeFault(w, err)
		return "", false
	}
	return accountID, true
}

// Health reports store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createStreamRequest struct {
	RoomID      string `json:"roomId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Streams handles the collection endpoints: create and filtered listing.
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createStream(w, r)
	case http.MethodGet:
		h.listStreams(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) createStream(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	session, err := h.Sessions.Create(r.Context(), stream.CreateParams{
		CallerID:    callerID,
		RoomID:      req.RoomID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	metrics.StreamCreated()
	writeJSON(w, http.StatusCreated, newSessionResponse(session, true))
}

func (h *Handler) listStreams(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SessionFilter{
		RoomID:  strings.TrimSpace(query.Get("roomId")),
		OwnerID: strings.TrimSpace(query.Get("ownerId")),
		Cursor:  strings.TrimSpace(query.Get("cursor")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := models.ParseSessionStatus(raw)
		if !ok {
			writeFault(w, invalidStatusError(raw))
			return
		}
		filter.Status = &status
	}
	sessions, next, err := h.Sessions.List(r.Context(), filter)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionListResponse(sessions, next))
}

// StreamByID routes /api/streams/{id} and its sub-resources.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/streams/"), "/")
	if rest == "" {
		writeFault(w, notFoundPath())
		return
	}
	segments := strings.Split(rest, "/")
	streamID := segments[0]
	remaining := segments[1:]

	if len(remaining) == 0 {
		switch r.Method {
		case http.MethodGet:
			h.getStream(w, r, streamID)
		case http.MethodDelete:
			h.deleteStream(w, r, streamID)
		default:
			methodNotAllowed(w, "GET, DELETE")
		}
		return
	}
	if len(remaining) > 1 {
		writeFault(w, notFoundPath())
		return
	}

	switch remaining[0] {
	case "end":
		h.endStream(w, r, streamID)
	case "join":
		h.joinStream(w, r, streamID)
	case "leave":
		h.leaveStream(w, r, streamID)
	case "ping":
		h.pingStream(w, r, streamID)
	case "moderators":
		h.moderators(w, r, streamID)
	case "ban":
		h.ban(w, r, streamID)
	case "moderation-log":
		h.moderationLog(w, r, streamID)
	default:
		writeFault(w, notFoundPath())
	}
}

func (h *Handler) getStream(w http.ResponseWriter, r *http.Request, streamID string) {
	session, err := h.Sessions.Get(r.Context(), streamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, false))
}

func (h *Handler) endStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, err := h.Sessions.End(r.Context(), callerID, streamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	metrics.StreamEnded()
	writeJSON(w, http.StatusOK, newSessionResponse(session, false))
}

func (h *Handler) deleteStream(w http.ResponseWriter, r *http.Request, streamID string) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, err := h.Sessions.Delete(r.Context(), callerID, streamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, false))
}

func (h *Handler) joinStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, err := h.Viewers.Join(r.Context(), callerID, streamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	metrics.ViewerJoined()
	writeJSON(w, http.StatusOK, newSessionResponse(session, false))
}

func (h *Handler) leaveStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	session, err := h.Viewers.Leave(r.Context(), callerID, streamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	metrics.ViewerLeft()
	writeJSON(w, http.StatusOK, newSessionResponse(session, false))
}

func (h *Handler) pingStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.Viewers.Ping(r.Context(), callerID, streamID); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addModeratorRequest struct {
	AccountID string `json:"accountId"`
}

func (h *Handler) moderators(w http.ResponseWriter, r *http.Request, streamID string) {
	switch r.Method {
	case http.MethodPost:
		callerID, ok := h.caller(w, r)
		if !ok {
			return
		}
		var req addModeratorRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFault(w, err)
			return
		}
		assignment, err := h.Moderation.AddModerator(r.Context(), callerID, streamID, req.AccountID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newModeratorResponse(assignment))
	case http.MethodGet:
		assignments, err := h.Moderation.ListModerators(r.Context(), streamID)
		if err != nil {
			writeFault(w, err)
			return
		}
		responses := make([]moderatorResponse, 0, len(assignments))
		for _, assignment := range assignments {
			responses = append(responses, newModeratorResponse(assignment))
		}
		writeJSON(w, http.StatusOK, responses)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

type banRequest struct {
	AccountID string `json:"accountId"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req banRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	entry, err := h.Moderation.Ban(r.Context(), callerID, streamID, req.AccountID, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	metrics.BanRecorded()
	writeJSON(w, http.StatusCreated, newLogEntryResponse(entry))
}

func (h *Handler) moderationLog(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if _, ok := h.caller(w, r); !ok {
		return
	}
	entries, err := h.Moderation.ListLog(r.Context(), streamID, 0)
	if err != nil {
		writeFault(w, err)
		return
	}
	responses := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, newLogEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, responses)
}
