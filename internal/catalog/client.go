package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by a Client.
var (
	// ErrAuthFailure means the user's credentials were rejected. It is fatal to a load.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrTransientFetch marks a failure worth retrying (5xx, network errors).
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrRetriesExhausted is returned when a retryable call kept failing.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RateLimitError is returned by a Client when the API asks the caller to back off.
// A zero RetryAfter means the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Playlist is one of the user's playlists.
type Playlist struct {
	ID   string
	Name string
}

// RawTrack is a playlist entry as returned by the streaming API, before normalization.
type RawTrack struct {
	ID         string
	Name       string
	Artists    []string
	Album      string
	ImageURL   string
	PreviewURL string
}

// Page is one page of a paginated listing. When More is set, NextOffset
// is the offset of the following page.
type Page[T any] struct {
	Items      []T
	NextOffset int
	More       bool
}

// Client is an authenticated catalog API for one user.
// Implementations report rate limiting as *RateLimitError, rejected credentials
// as ErrAuthFailure, and retryable failures wrapped in ErrTransientFetch.
type Client interface {
	Playlists(ctx context.Context, offset int) (Page[Playlist], error)
	PlaylistTracks(ctx context.Context, playlistID string, offset int) (Page[RawTrack], error)
}
