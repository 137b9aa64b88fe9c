// Package spotify provides a wrapper around the Spotify Web API that
// serves as the catalog source for a session.
package spotify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/song-roulette/internal/catalog"
)

// Page sizes are the Spotify maximums for each endpoint.
const (
	playlistsPageSize = 50
	tracksPageSize    = 100
)

// Client wraps the Spotify API client and implements catalog.Client.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// NewFromHTTP wraps an authenticated HTTP client. Rate-limited responses are
// surfaced as *catalog.RateLimitError instead of being retried internally.
func NewFromHTTP(hc *http.Client, opts ...spotify.ClientOption) *Client {
	wrapped := *hc
	wrapped.Transport = &rateLimitTransport{base: hc.Transport}
	return New(spotify.New(&wrapped, opts...))
}

// CurrentUser returns the current user's Spotify ID and display name.
func (c *Client) CurrentUser(ctx context.Context) (id, name string, err error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", "", fmt.Errorf("getting current user: %w", classifyError(err))
	}
	return user.ID, user.DisplayName, nil
}

// Playlists returns one page of the current user's playlists.
func (c *Client) Playlists(ctx context.Context, offset int) (catalog.Page[catalog.Playlist], error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(playlistsPageSize), spotify.Offset(offset))
	if err != nil {
		return catalog.Page[catalog.Playlist]{}, fmt.Errorf("fetching playlists at offset %d: %w", offset, classifyError(err))
	}

	items := make([]catalog.Playlist, 0, len(page.Playlists))
	for _, p := range page.Playlists {
		items = append(items, catalog.Playlist{ID: p.ID.String(), Name: p.Name})
	}

	return catalog.Page[catalog.Playlist]{
		Items:      items,
		NextOffset: offset + len(page.Playlists),
		More:       page.Next != "" && len(page.Playlists) > 0,
	}, nil
}

// PlaylistTracks returns one page of a playlist's tracks. Episodes and
// local files come back with an empty ID.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string, offset int) (catalog.Page[catalog.RawTrack], error) {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(tracksPageSize), spotify.Offset(offset))
	if err != nil {
		return catalog.Page[catalog.RawTrack]{}, fmt.Errorf("fetching playlist %s at offset %d: %w", playlistID, offset, classifyError(err))
	}

	items := make([]catalog.RawTrack, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convertItem(item))
	}

	return catalog.Page[catalog.RawTrack]{
		Items:      items,
		NextOffset: offset + len(page.Items),
		More:       page.Next != "" && len(page.Items) > 0,
	}, nil
}

var _ catalog.Client = (*Client)(nil)
