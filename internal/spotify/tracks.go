package spotify

import (
	"github.com/zmb3/spotify/v2"

	"github.com/justestif/song-roulette/internal/catalog"
)

// convertItem converts a playlist entry to a catalog.RawTrack.
// Local files and episodes have no catalog ID and convert to a track with an empty ID.
func convertItem(item spotify.PlaylistItem) catalog.RawTrack {
	track := item.Track.Track
	if track == nil || item.IsLocal {
		return catalog.RawTrack{}
	}

	artists := make([]string, len(track.Artists))
	for i, a := range track.Artists {
		artists[i] = a.Name
	}

	var image string
	if len(track.Album.Images) > 0 {
		image = track.Album.Images[0].URL
	}

	return catalog.RawTrack{
		ID:         track.ID.String(),
		Name:       track.Name,
		Artists:    artists,
		Album:      track.Album.Name,
		ImageURL:   image,
		PreviewURL: track.PreviewURL,
	}
}
