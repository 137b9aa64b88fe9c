package spotify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/catalog"
)

func TestConvertItem(t *testing.T) {
	tests := []struct {
		name string
		item spotify.PlaylistItem
		want catalog.RawTrack
	}{
		{
			name: "full track",
			item: spotify.PlaylistItem{
				Track: spotify.PlaylistItemTrack{
					Track: &spotify.FullTrack{
						SimpleTrack: spotify.SimpleTrack{
							ID:         "track123",
							Name:       "Test Song",
							Artists:    []spotify.SimpleArtist{{Name: "Artist A"}, {Name: "Artist B"}},
							PreviewURL: "https://p.scdn.co/mp3-preview/abc",
						},
						Album: spotify.SimpleAlbum{
							Name: "Test Album",
							Images: []spotify.Image{
								{URL: "https://i.scdn.co/image/large"},
								{URL: "https://i.scdn.co/image/small"},
							},
						},
					},
				},
			},
			want: catalog.RawTrack{
				ID:         "track123",
				Name:       "Test Song",
				Artists:    []string{"Artist A", "Artist B"},
				Album:      "Test Album",
				ImageURL:   "https://i.scdn.co/image/large",
				PreviewURL: "https://p.scdn.co/mp3-preview/abc",
			},
		},
		{
			name: "no album art",
			item: spotify.PlaylistItem{
				Track: spotify.PlaylistItemTrack{
					Track: &spotify.FullTrack{
						SimpleTrack: spotify.SimpleTrack{ID: "track456", Name: "Bare"},
					},
				},
			},
			want: catalog.RawTrack{ID: "track456", Name: "Bare", Artists: []string{}},
		},
		{
			name: "episode or removed track",
			item: spotify.PlaylistItem{},
			want: catalog.RawTrack{},
		},
		{
			name: "local file",
			item: spotify.PlaylistItem{
				IsLocal: true,
				Track: spotify.PlaylistItemTrack{
					Track: &spotify.FullTrack{SimpleTrack: spotify.SimpleTrack{Name: "Bootleg.mp3"}},
				},
			},
			want: catalog.RawTrack{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertItem(tt.item)

			if got.ID != tt.want.ID {
				t.Errorf("ID = %q, want %q", got.ID, tt.want.ID)
			}
			if got.Name != tt.want.Name {
				t.Errorf("Name = %q, want %q", got.Name, tt.want.Name)
			}
			if len(got.Artists) != len(tt.want.Artists) || !slices.Equal(got.Artists, tt.want.Artists) {
				t.Errorf("Artists = %v, want %v", got.Artists, tt.want.Artists)
			}
			if got.Album != tt.want.Album {
				t.Errorf("Album = %q, want %q", got.Album, tt.want.Album)
			}
			if got.ImageURL != tt.want.ImageURL {
				t.Errorf("ImageURL = %q, want %q", got.ImageURL, tt.want.ImageURL)
			}
			if got.PreviewURL != tt.want.PreviewURL {
				t.Errorf("PreviewURL = %q, want %q", got.PreviewURL, tt.want.PreviewURL)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantIs        error
		wantRateLimit bool
	}{
		{
			name:   "expired token",
			err:    spotify.Error{Status: http.StatusUnauthorized, Message: "The access token expired"},
			wantIs: catalog.ErrAuthFailure,
		},
		{
			name:   "forbidden",
			err:    spotify.Error{Status: http.StatusForbidden, Message: "Insufficient client scope"},
			wantIs: catalog.ErrAuthFailure,
		},
		{
			name:   "server error",
			err:    spotify.Error{Status: http.StatusBadGateway, Message: "Bad gateway"},
			wantIs: catalog.ErrTransientFetch,
		},
		{
			name:          "rate limited without hint",
			err:           spotify.Error{Status: http.StatusTooManyRequests},
			wantRateLimit: true,
		},
		{
			name:   "refresh rejected",
			err:    &oauth2.RetrieveError{ErrorCode: "invalid_grant"},
			wantIs: catalog.ErrAuthFailure,
		},
		{
			name:   "network",
			err:    &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			wantIs: catalog.ErrTransientFetch,
		},
		{
			name:   "canceled",
			err:    context.Canceled,
			wantIs: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)

			var rl *catalog.RateLimitError
			if isRL := errors.As(got, &rl); isRL != tt.wantRateLimit {
				t.Errorf("rate limit = %v, want %v (err %v)", isRL, tt.wantRateLimit, got)
			}
			if tt.wantIs != nil && !errors.Is(got, tt.wantIs) {
				t.Errorf("classifyError() = %v, want %v", got, tt.wantIs)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"negative", "-3", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFromHTTP(srv.Client(), spotify.WithBaseURL(srv.URL+"/"))
}

func TestClient_Playlists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("offset"); got != "50" {
			t.Errorf("offset = %q, want 50", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"href": "https://api.spotify.com/v1/me/playlists",
			"items": [{"id": "p1", "name": "Road Trip"}, {"id": "p2", "name": "Gym"}],
			"limit": 50, "offset": 50, "total": 120,
			"next": "https://api.spotify.com/v1/me/playlists?offset=100&limit=50"
		}`))
	})

	page, err := client.Playlists(context.Background(), 50)
	if err != nil {
		t.Fatalf("Playlists() error = %v", err)
	}

	want := []catalog.Playlist{{ID: "p1", Name: "Road Trip"}, {ID: "p2", Name: "Gym"}}
	if !slices.Equal(page.Items, want) {
		t.Errorf("Items = %v, want %v", page.Items, want)
	}
	if !page.More || page.NextOffset != 52 {
		t.Errorf("More = %v, NextOffset = %d, want true, 52", page.More, page.NextOffset)
	}
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		body      string
		wantIs    error
		wantAfter time.Duration
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error": {"status": 401, "message": "Invalid access token"}}`,
			wantIs: catalog.ErrAuthFailure,
		},
		{
			name:   "unavailable",
			status: http.StatusServiceUnavailable,
			body:   `{"error": {"status": 503, "message": "Service unavailable"}}`,
			wantIs: catalog.ErrTransientFetch,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			header:    map[string]string{"Retry-After": "3"},
			body:      `{"error": {"status": 429, "message": "API rate limit exceeded"}}`,
			wantAfter: 3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.PlaylistTracks(context.Background(), "p1", 0)
			if err == nil {
				t.Fatal("PlaylistTracks() error = nil")
			}

			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantAfter > 0 {
				var rl *catalog.RateLimitError
				if !errors.As(err, &rl) {
					t.Fatalf("error = %v, want *catalog.RateLimitError", err)
				}
				if rl.RetryAfter != tt.wantAfter {
					t.Errorf("RetryAfter = %v, want %v", rl.RetryAfter, tt.wantAfter)
				}
			}
		})
	}
}
