package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/justestif/song-roulette/internal/room"
)

type ctxKey int

const sessionKey ctxKey = iota

// requireSession rejects requests without a live session and stores it on the context.
func (h *Handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := h.sessions.GetFromRequest(r)
		if session == nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
	})
}

func sessionFrom(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionKey).(*Session)
	return session
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("module", "web").Msg("write json")
	}
}

func writeError(w http.ResponseWriter, status int, reason string, extra map[string]any) {
	body := map[string]any{"error": reason}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// statusFor maps room errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrInsufficientMembers),
		errors.Is(err, room.ErrCatalogsNotReady),
		errors.Is(err, room.ErrNoSharedTracks):
		return http.StatusConflict
	case errors.Is(err, room.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeRoomError(w http.ResponseWriter, err error, extra map[string]any) {
	writeError(w, statusFor(err), room.Reason(err), extra)
}

// Status reports the caller's catalog load (GET /api/status).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, h.status.Get(session.ID))
}

// ReloadCatalog starts a new load for the caller, superseding any run in flight
// (POST /api/catalog/reload).
func (h *Handlers) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	h.loader.Supersede(session.ID, h.newClient(session.Token))
	writeJSON(w, http.StatusAccepted, map[string]string{"phase": "running"})
}

// RandomTrack picks a track from the caller's own catalog (GET /api/catalog/random).
func (h *Handlers) RandomTrack(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	c, ok := h.catalogs.Get(session.ID)
	if !ok {
		writeRoomError(w, room.ErrCatalogsNotReady, nil)
		return
	}
	if len(c) == 0 {
		writeError(w, http.StatusNotFound, "empty_catalog", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"track": c[h.rnd.IntN(len(c))]})
}

// CreateRoom opens a room with the caller as host (POST /api/rooms).
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	code, err := h.rooms.Create(session.ID)
	if err != nil {
		writeRoomError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"roomCode": code})
}

// JoinRoom adds the caller to a room (POST /api/rooms/{code}/join).
func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	count, err := h.rooms.Join(chi.URLParam(r, "code"), session.ID)
	if err != nil {
		writeRoomError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userCount": count})
}

// LeaveRoom removes the caller from a room (POST /api/rooms/{code}/leave).
func (h *Handlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	count, err := h.rooms.Leave(chi.URLParam(r, "code"), session.ID)
	if err != nil {
		writeRoomError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userCount": count})
}

// Roll draws the room's next shared track (POST /api/rooms/{code}/roll).
// Members connected over the realtime channel receive it as well.
func (h *Handlers) Roll(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	code := chi.URLParam(r, "code")

	track, err := h.rooms.Roll(code, session.ID)
	if err != nil {
		var extra map[string]any
		if errors.Is(err, room.ErrNoSharedTracks) {
			if rm, ok := h.rooms.Get(code); ok && rm.Delivered() > 0 {
				extra = map[string]any{"exhausted": true}
			}
		}
		writeRoomError(w, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"track": track})
}

// Healthz reports liveness and the number of live rooms (GET /healthz).
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": h.rooms.Len()})
}
