// Package web provides the HTTP server, pages and JSON API for song roulette.
package web

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/catalog"
)

const (
	sessionCookieName = "session_id"

	// DefaultSessionTTL bounds a login; sessions are kept short.
	DefaultSessionTTL = 60 * time.Minute
)

// Session represents an authenticated user session. Its ID is the
// session identity that catalogs and room membership are keyed by.
type Session struct {
	ID        catalog.SessionID
	Token     *oauth2.Token
	UserID    string
	UserName  string
	CreatedAt time.Time
}

// SessionStore manages user sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[catalog.SessionID]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[catalog.SessionID]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create generates a new session with the given token and user info.
func (s *SessionStore) Create(token *oauth2.Token, userID, userName string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        catalog.SessionID(id),
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// Get retrieves a live session by ID.
func (s *SessionStore) Get(id catalog.SessionID) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || s.expired(session, s.now()) {
		return nil
	}
	return session
}

// Delete removes a session by ID.
func (s *SessionStore) Delete(id catalog.SessionID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Renew replaces the token and user info of an existing session.
// It reports false when the session is gone.
func (s *SessionStore) Renew(id catalog.SessionID, token *oauth2.Token, userID, userName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || s.expired(session, s.now()) {
		return false
	}
	// Sessions are shared with readers, so swap in a copy.
	renewed := *session
	renewed.Token = token
	renewed.UserID = userID
	renewed.UserName = userName
	s.sessions[id] = &renewed
	return true
}

// Sweep removes sessions that expired at now and returns their IDs.
func (s *SessionStore) Sweep(now time.Time) []catalog.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []catalog.SessionID
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(session *Session, now time.Time) bool {
	return now.Sub(session.CreatedAt) > s.ttl
}

// GetFromRequest extracts the session from the request cookie.
func (s *SessionStore) GetFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	return s.Get(catalog.SessionID(cookie.Value))
}

// SetCookie sets the session cookie on the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    string(session.ID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
}

// ClearCookie removes the session cookie from the response.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
