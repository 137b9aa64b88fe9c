package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/auth"
	"github.com/justestif/song-roulette/internal/catalog"
	"github.com/justestif/song-roulette/internal/realtime"
	"github.com/justestif/song-roulette/internal/room"
	webfs "github.com/justestif/song-roulette/web"
)

// fakeSpotify serves one playlist holding the given track IDs.
type fakeSpotify struct {
	userID string
	ids    []string
}

func (f *fakeSpotify) CurrentUser(context.Context) (string, string, error) {
	return f.userID, strings.ToUpper(f.userID[:1]) + f.userID[1:], nil
}

func (f *fakeSpotify) Playlists(_ context.Context, _ int) (catalog.Page[catalog.Playlist], error) {
	return catalog.Page[catalog.Playlist]{Items: []catalog.Playlist{{ID: "p-" + f.userID, Name: f.userID + "'s mix"}}}, nil
}

func (f *fakeSpotify) PlaylistTracks(_ context.Context, _ string, _ int) (catalog.Page[catalog.RawTrack], error) {
	items := make([]catalog.RawTrack, len(f.ids))
	for i, id := range f.ids {
		items[i] = catalog.RawTrack{ID: id, Name: "Song " + id, Artists: []string{"Band"}}
	}
	return catalog.Page[catalog.RawTrack]{Items: items}, nil
}

// fakeAuth accepts any code and issues a token whose access token is the code.
type fakeAuth struct{}

func (fakeAuth) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (fakeAuth) Exchange(r *http.Request, expectedState string) (*oauth2.Token, error) {
	if expectedState == "" || r.URL.Query().Get("state") != expectedState {
		return nil, auth.ErrStateMismatch
	}
	if e := r.URL.Query().Get("error"); e != "" {
		return nil, auth.ErrAuthorizationDenied
	}
	return &oauth2.Token{AccessToken: r.URL.Query().Get("code")}, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	deps    Deps
	clients map[string]*fakeSpotify
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		t.Fatalf("templates fs: %v", err)
	}
	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		t.Fatalf("static fs: %v", err)
	}

	env := &testEnv{
		clients: map[string]*fakeSpotify{
			"alice": {userID: "alice", ids: []string{"A", "B", "C"}},
			"bob":   {userID: "bob", ids: []string{"B", "C", "D"}},
		},
	}

	store := catalog.NewStore()
	status := catalog.NewStatusTracker()
	hub := realtime.NewHub()
	rooms := room.NewRegistry(store, room.WithNotifier(hub), room.WithRand(room.NewRand(11)))

	env.deps = Deps{
		Auth: fakeAuth{},
		NewClient: func(token *oauth2.Token) SpotifyClient {
			return env.clients[token.AccessToken]
		},
		Loader: catalog.NewLoader(store, status,
			catalog.WithRateLimit(0),
			catalog.WithSleep(func(context.Context, time.Duration) error { return nil }),
		),
		Catalogs: store,
		Status:   status,
		Rooms:    rooms,
		Realtime: realtime.NewController(rooms, hub, realtime.Config{}),
		Rand:     room.NewRand(5),
	}

	env.srv, err = NewServer(ServerConfig{
		TemplatesFS: templates,
		StaticFS:    static,
		Deps:        env.deps,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	env.handler = env.srv.Handler()
	return env
}

// login creates a session for user and waits for its catalog to load.
func (e *testEnv) login(t *testing.T, user string) *http.Cookie {
	t.Helper()
	session, err := e.srv.Sessions().Create(&oauth2.Token{AccessToken: user}, user, user)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	e.deps.Loader.Start(session.ID, e.clients[user])
	e.deps.Loader.Wait()
	return &http.Cookie{Name: sessionCookieName, Value: string(session.ID)}
}

func (e *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: bad JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, body
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin_RedirectsWithState(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/auth/login", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}

	state := cookieNamed(rec, oauthStateCookie)
	if state == nil || state.Value == "" {
		t.Fatal("oauth_state cookie not set")
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Query().Get("state") != state.Value {
		t.Errorf("redirect state = %q, want %q", loc.Query().Get("state"), state.Value)
	}
}

func TestCallback_StartsCatalogLoad(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=alice", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/loading" {
		t.Fatalf("status = %d, location = %q, want 307 to /loading", rec.Code, rec.Header().Get("Location"))
	}
	cookie := cookieNamed(rec, sessionCookieName)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}

	env.deps.Loader.Wait()
	_, body := env.do(t, http.MethodGet, "/api/status", cookie)
	if body["phase"] != "done" || body["progress"] != float64(100) || body["tracksLoaded"] != float64(3) {
		t.Errorf("status = %v, want done/100 with 3 tracks", body)
	}
}

func TestCallback_ReloginReusesSession(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "alice")

	req := httptest.NewRequest(http.MethodGet, "/callback?state=s2&code=alice", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "s2"})
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if c := cookieNamed(rec, sessionCookieName); c != nil {
		t.Errorf("re-login issued a new session cookie %q", c.Value)
	}
	env.deps.Loader.Wait()
	if got := env.deps.Status.Get(catalog.SessionID(cookie.Value)); got.Phase != catalog.PhaseDone {
		t.Errorf("Phase = %q, want done", got.Phase)
	}
	if n := env.srv.Sessions().Len(); n != 1 {
		t.Errorf("Sessions().Len() = %d, want 1", n)
	}
}

func TestCallback_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie string
	}{
		{"missing state cookie", "state=s&code=alice", ""},
		{"state mismatch", "state=other&code=alice", "s"},
		{"user denied", "state=s&error=access_denied", "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if cookieNamed(rec, sessionCookieName) != nil {
				t.Error("session cookie set on a rejected callback")
			}
		})
	}
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/status"},
		{http.MethodPost, "/api/rooms"},
		{http.MethodPost, "/api/rooms/ABC123/roll"},
		{http.MethodGet, "/ws"},
	}
	for _, p := range paths {
		rec, body := env.do(t, p.method, p.path, &http.Cookie{Name: sessionCookieName, Value: "forged"})
		if rec.Code != http.StatusUnauthorized || body["error"] != "unauthenticated" {
			t.Errorf("%s %s = %d %v, want 401 unauthenticated", p.method, p.path, rec.Code, body)
		}
	}
}

func TestAPI_RoomFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	rec, body := env.do(t, http.MethodPost, "/api/rooms", alice)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	code := body["roomCode"].(string)

	rec, body = env.do(t, http.MethodPost, "/api/rooms/"+code+"/roll", alice)
	if rec.Code != http.StatusConflict || body["error"] != "insufficient_members" {
		t.Errorf("roll alone = %d %v, want 409 insufficient_members", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/rooms/"+strings.ToLower(code)+"/join", bob)
	if rec.Code != http.StatusOK || body["userCount"] != float64(2) {
		t.Fatalf("join = %d %v, want 200 with userCount 2", rec.Code, body)
	}

	seen := map[string]bool{}
	for range 2 {
		rec, body = env.do(t, http.MethodPost, "/api/rooms/"+code+"/roll", bob)
		if rec.Code != http.StatusOK {
			t.Fatalf("roll = %d %v, want 200", rec.Code, body)
		}
		track := body["track"].(map[string]any)
		seen[track["id"].(string)] = true
		if pls, _ := track["playlists"].([]any); len(pls) != 2 {
			t.Errorf("playlists = %v, want one label per member", track["playlists"])
		}
	}
	if !seen["B"] || !seen["C"] {
		t.Errorf("rolled %v, want B and C", seen)
	}

	rec, body = env.do(t, http.MethodPost, "/api/rooms/"+code+"/roll", alice)
	if rec.Code != http.StatusConflict || body["error"] != "no_shared_tracks" || body["exhausted"] != true {
		t.Errorf("exhausted roll = %d %v, want 409 no_shared_tracks exhausted", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/rooms/"+code+"/leave", bob)
	if rec.Code != http.StatusOK || body["userCount"] != float64(1) {
		t.Errorf("leave = %d %v, want 200 with userCount 1", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/rooms/ZZZZZZ/join", bob)
	if rec.Code != http.StatusNotFound || body["error"] != "room_not_found" {
		t.Errorf("join unknown = %d %v, want 404 room_not_found", rec.Code, body)
	}
}

func TestAPI_RandomTrack(t *testing.T) {
	env := newTestEnv(t)

	session, _ := env.srv.Sessions().Create(&oauth2.Token{AccessToken: "alice"}, "alice", "Alice")
	cookie := &http.Cookie{Name: sessionCookieName, Value: string(session.ID)}

	rec, body := env.do(t, http.MethodGet, "/api/catalog/random", cookie)
	if rec.Code != http.StatusConflict || body["error"] != "catalogs_not_ready" {
		t.Errorf("before load = %d %v, want 409 catalogs_not_ready", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/catalog/reload", cookie)
	if rec.Code != http.StatusAccepted || body["phase"] != "running" {
		t.Errorf("reload = %d %v, want 202 running", rec.Code, body)
	}
	env.deps.Loader.Wait()

	rec, body = env.do(t, http.MethodGet, "/api/catalog/random", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("random = %d %v, want 200", rec.Code, body)
	}
	id := body["track"].(map[string]any)["id"]
	if id != "A" && id != "B" && id != "C" {
		t.Errorf("random track id = %v, want one of alice's", id)
	}
}

func TestLogout_EndsSession(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	_, body := env.do(t, http.MethodPost, "/api/rooms", alice)
	code := body["roomCode"].(string)
	env.do(t, http.MethodPost, "/api/rooms/"+code+"/join", bob)

	rec, _ := env.do(t, http.MethodPost, "/auth/logout", bob)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/?notice=signed_out" {
		t.Errorf("logout = %d to %q, want 303 to /?notice=signed_out", rec.Code, rec.Header().Get("Location"))
	}

	r, ok := env.deps.Rooms.Get(code)
	if !ok || r.MemberCount() != 1 {
		t.Errorf("room after logout: ok=%v, want 1 member left", ok)
	}
	sid := catalog.SessionID(bob.Value)
	if _, ok := env.deps.Catalogs.Get(sid); ok {
		t.Error("catalog kept after logout")
	}
	if got := env.deps.Status.Get(sid); got.Phase != catalog.PhaseIdle {
		t.Errorf("status after logout = %q, want idle", got.Phase)
	}
	if rec, _ := env.do(t, http.MethodGet, "/api/status", bob); rec.Code != http.StatusUnauthorized {
		t.Errorf("api after logout = %d, want 401", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodGet, "/room", bob); rec.Header().Get("Location") != "/?notice=session_expired" {
		t.Errorf("room with stale cookie redirects to %q", rec.Header().Get("Location"))
	}
	if rec, _ := env.do(t, http.MethodGet, "/?notice=signed_out", nil); !strings.Contains(rec.Body.String(), "You have been signed out.") {
		t.Error("home page does not show the sign-out notice")
	}
}

func TestSweepSessions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")

	_, body := env.do(t, http.MethodPost, "/api/rooms", alice)
	code := body["roomCode"].(string)

	if n := env.srv.sweepSessions(time.Now()); n != 0 {
		t.Errorf("sweepSessions(now) = %d, want 0", n)
	}
	if n := env.srv.sweepSessions(time.Now().Add(DefaultSessionTTL + time.Minute)); n != 1 {
		t.Errorf("sweepSessions(later) = %d, want 1", n)
	}
	if _, ok := env.deps.Rooms.Get(code); ok {
		t.Error("room of expired host still live")
	}
	if _, ok := env.deps.Catalogs.Get(catalog.SessionID(alice.Value)); ok {
		t.Error("catalog of expired session kept")
	}
}

func TestPagesAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Log in with Spotify") {
		t.Errorf("home = %d, want 200 with login link", rec.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/room", nil)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("room without session = %d, want 307", rec.Code)
	}

	alice := env.login(t, "alice")
	for _, path := range []string{"/", "/loading", "/room?code=abc123"} {
		rec, _ := env.do(t, http.MethodGet, path, alice)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
	rec, _ = env.do(t, http.MethodGet, "/room?code=abc123", alice)
	if !strings.Contains(rec.Body.String(), `data-room-code="ABC123"`) {
		t.Error("room page does not carry the normalized code")
	}

	rec, body := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["rooms"] != float64(0) {
		t.Errorf("healthz = %d %v", rec.Code, body)
	}

	rec, _ = env.do(t, http.MethodGet, "/static/app.js", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("static = %d, want 200", rec.Code)
	}
}

func TestWebSocket_SessionBound(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	header := http.Header{}
	header.Add("Cookie", alice.String())
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": "create_room", "id": "1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack realtime.Ack
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ack.Success {
		t.Fatalf("ack = %+v, want success", ack)
	}
	if env.deps.Rooms.Len() != 1 {
		t.Errorf("Rooms.Len() = %d, want 1", env.deps.Rooms.Len())
	}
}
