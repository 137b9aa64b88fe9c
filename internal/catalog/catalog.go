// Package catalog loads, normalizes and holds the per-session music catalogs
// that rooms intersect.
package catalog

// SessionID is the opaque token identifying one browser session.
type SessionID string

// Short returns a log-friendly prefix of the session ID.
func (s SessionID) Short() string {
	if len(s) > 8 {
		return string(s[:8])
	}
	return string(s)
}

// Track is a normalized song as it appears in a user's catalog.
// ID is the dedup and intersection key.
type Track struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Artists      []string `json:"artists"`
	Album        string   `json:"album"`
	PlaylistName string   `json:"playlistName"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	PreviewURL   string   `json:"previewUrl,omitempty"`
}

// Catalog is the deduplicated list of a user's tracks across all playlists.
// A published Catalog is never mutated.
type Catalog []Track

// IDs returns the set of track IDs in the catalog.
func (c Catalog) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(c))
	for _, t := range c {
		ids[t.ID] = struct{}{}
	}
	return ids
}

// normalize converts a raw track into a catalog Track attributed to playlist.
// Entries without an ID (local files, podcast episodes, removed tracks) are dropped,
// as are entries without a preview when requirePreview is set.
func normalize(raw RawTrack, playlist string, requirePreview bool) (Track, bool) {
	if raw.ID == "" {
		return Track{}, false
	}
	if requirePreview && raw.PreviewURL == "" {
		return Track{}, false
	}

	artists := make([]string, len(raw.Artists))
	copy(artists, raw.Artists)

	return Track{
		ID:           raw.ID,
		Name:         raw.Name,
		Artists:      artists,
		Album:        raw.Album,
		PlaylistName: playlist,
		ImageURL:     raw.ImageURL,
		PreviewURL:   raw.PreviewURL,
	}, true
}
