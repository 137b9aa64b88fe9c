// Package auth handles the Spotify OAuth2 authorization code flow for the web app.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingCredentials is returned when the Spotify client ID or secret is not set.
	ErrMissingCredentials = errors.New("missing Spotify client ID or secret (SPOTIFY_ID / SPOTIFY_SECRET)")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrAuthorizationDenied is returned when Spotify redirects back with an error.
	ErrAuthorizationDenied = errors.New("authorization denied")
)

// Scopes requested from Spotify: playlist listing plus library read.
var Scopes = []string{
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopeUserLibraryRead,
}

// Authenticator handles Spotify OAuth2 authentication.
type Authenticator struct {
	auth *spotifyauth.Authenticator
}

// New creates an Authenticator for the given app credentials.
// redirectURL must match the Spotify app configuration.
func New(clientID, clientSecret, redirectURL string) (*Authenticator, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL(redirectURL),
		spotifyauth.WithScopes(Scopes...),
	)

	return &Authenticator{auth: auth}, nil
}

// AuthURL returns the Spotify consent URL for the given state.
func (a *Authenticator) AuthURL(state string) string {
	return a.auth.AuthURL(state)
}

// Exchange validates the callback request against the expected state
// and trades the authorization code for a token.
func (a *Authenticator) Exchange(r *http.Request, expectedState string) (*oauth2.Token, error) {
	if expectedState == "" || r.URL.Query().Get("state") != expectedState {
		return nil, ErrStateMismatch
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, errMsg)
	}

	token, err := a.auth.Token(r.Context(), expectedState, r)
	if err != nil {
		return nil, fmt.Errorf("exchanging code for token: %w", err)
	}
	return token, nil
}

// Client returns an HTTP client that authorizes requests with token
// and refreshes it when it expires.
func (a *Authenticator) Client(ctx context.Context, token *oauth2.Token) *http.Client {
	return a.auth.Client(ctx, token)
}

// GenerateState creates a random state string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
