package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/auth"
	"github.com/justestif/song-roulette/internal/catalog"
	"github.com/justestif/song-roulette/internal/realtime"
	"github.com/justestif/song-roulette/internal/room"
)

const oauthStateCookie = "oauth_state"

// Authenticator runs the OAuth authorization code flow.
type Authenticator interface {
	AuthURL(state string) string
	Exchange(r *http.Request, expectedState string) (*oauth2.Token, error)
}

// SpotifyClient is a catalog source that also knows who it is logged in as.
type SpotifyClient interface {
	catalog.Client
	CurrentUser(ctx context.Context) (id, name string, err error)
}

// ClientFactory builds an API client authorized by token.
type ClientFactory func(token *oauth2.Token) SpotifyClient

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	auth      Authenticator
	newClient ClientFactory
	sessions  *SessionStore
	templates *Templates
	loader    *catalog.Loader
	catalogs  *catalog.Store
	status    *catalog.StatusTracker
	rooms     *room.Registry
	realtime  *realtime.Controller
	rnd       room.Rand
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, sessions *SessionStore, templates *Templates) *Handlers {
	rnd := deps.Rand
	if rnd == nil {
		rnd = room.NewRand(0)
	}
	return &Handlers{
		auth:      deps.Auth,
		newClient: deps.NewClient,
		sessions:  sessions,
		templates: templates,
		loader:    deps.Loader,
		catalogs:  deps.Catalogs,
		status:    deps.Status,
		rooms:     deps.Rooms,
		realtime:  deps.Realtime,
		rnd:       rnd,
	}
}

func pageData(r *http.Request, title string, session *Session) PageData {
	data := PageData{
		Title:       title,
		CurrentPath: r.URL.Path,
	}
	if session != nil {
		data.User = &UserData{ID: session.UserID, Name: session.UserName}
	}
	if notice, ok := notices[r.URL.Query().Get("notice")]; ok {
		data.Flash = &notice
	}
	return data
}

// redirectHome sends a visitor without a live session to the home page,
// flagging the expiry when a stale cookie came along.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if _, err := r.Cookie(sessionCookieName); err == nil {
		target = "/?notice=session_expired"
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (h *Handlers) render(w http.ResponseWriter, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Render(w, page, data); err != nil {
		log.Error().Err(err).Str("module", "web").Str("page", page).Msg("render template")
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

// Home handles the home page (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetFromRequest(r)

	data := HomePageData{
		PageData:      pageData(r, "Song Roulette", session),
		Authenticated: session != nil,
	}
	if session != nil {
		data.Status = h.status.Get(session.ID)
	}

	h.render(w, "home", data)
}

// Loading shows catalog load progress (GET /loading).
func (h *Handlers) Loading(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetFromRequest(r)
	if session == nil {
		redirectHome(w, r)
		return
	}

	h.render(w, "loading", LoadingPageData{
		PageData: pageData(r, "Loading playlists", session),
		Status:   h.status.Get(session.ID),
	})
}

// Room shows the room UI (GET /room?code=XXXXXX).
func (h *Handlers) Room(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetFromRequest(r)
	if session == nil {
		redirectHome(w, r)
		return
	}

	c, _ := h.catalogs.Get(session.ID)
	h.render(w, "room", RoomPageData{
		PageData:    pageData(r, "Room", session),
		RoomCode:    room.NormalizeCode(r.URL.Query().Get("code")),
		TracksOwned: len(c),
	})
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	// Generate state for CSRF protection
	state, err := auth.GenerateState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
// A fresh login starts a catalog load; a login on a live session supersedes
// whatever load that session already has.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		http.Error(w, "Missing state cookie", http.StatusBadRequest)
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	token, err := h.auth.Exchange(r, stateCookie.Value)
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrAuthorizationDenied):
		http.Error(w, "Spotify auth error: "+r.URL.Query().Get("error"), http.StatusBadRequest)
		return
	case err != nil:
		log.Error().Err(err).Str("module", "web").Msg("token exchange")
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		return
	}

	client := h.newClient(token)
	userID, userName, err := client.CurrentUser(r.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "web").Msg("current user")
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}

	if existing := h.sessions.GetFromRequest(r); existing != nil && h.sessions.Renew(existing.ID, token, userID, userName) {
		log.Info().Str("module", "web").Str("sid", existing.ID.Short()).Str("user", userID).Msg("re-login, reloading catalog")
		h.loader.Supersede(existing.ID, client)
		http.Redirect(w, r, "/loading", http.StatusTemporaryRedirect)
		return
	}

	session, err := h.sessions.Create(token, userID, userName)
	if err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.sessions.SetCookie(w, session)

	log.Info().Str("module", "web").Str("sid", session.ID.Short()).Str("user", userID).Msg("logged in")
	h.loader.Start(session.ID, client)

	http.Redirect(w, r, "/loading", http.StatusTemporaryRedirect)
}

// Logout leaves every room, drops the session's catalog and clears the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.GetFromRequest(r); session != nil {
		h.endSession(session.ID)
	}

	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/?notice=signed_out", http.StatusSeeOther)
}

// endSession releases everything held for a session identity.
func (h *Handlers) endSession(id catalog.SessionID) {
	left := h.rooms.LeaveAll(id)
	h.loader.Forget(id)
	h.sessions.Delete(id)
	log.Info().Str("module", "web").Str("sid", id.Short()).Strs("rooms_left", left).Msg("session ended")
}

// WebSocket upgrades to the realtime channel bound to the caller's session (GET /ws).
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	h.realtime.ServeWS(w, r, session.ID)
}
