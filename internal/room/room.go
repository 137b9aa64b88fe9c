// Package room pairs sessions into short-lived rooms and deals out
// the tracks their catalogs have in common.
package room

import (
	"slices"
	"sync"
	"time"

	"github.com/justestif/song-roulette/internal/catalog"
)

// CatalogSource looks up a session's published catalog.
type CatalogSource interface {
	Get(id catalog.SessionID) (catalog.Catalog, bool)
}

// SharedTrack is a track present in every member's catalog, with the
// playlist names it was found under across members.
type SharedTrack struct {
	catalog.Track
	Playlists []string `json:"playlists"`
}

// Room is an ephemeral pairing of sessions sharing one code.
type Room struct {
	Code      string
	CreatedAt time.Time

	mu        sync.Mutex
	members   []catalog.SessionID
	shared    []SharedTrack
	computed  bool
	delivered int
}

func newRoom(code string, host catalog.SessionID, now time.Time) *Room {
	return &Room{
		Code:      code,
		CreatedAt: now,
		members:   []catalog.SessionID{host},
	}
}

// Members returns the member sessions in join order.
func (r *Room) Members() []catalog.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.members)
}

// MemberCount returns the number of members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Delivered returns how many tracks the room has handed out.
// A NoSharedTracks error with Delivered > 0 means the pool ran dry.
func (r *Room) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}

// Remaining returns the size of the cached pool, or -1 before it is computed.
func (r *Room) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.computed {
		return -1
	}
	return len(r.shared)
}

func (r *Room) has(id catalog.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.members, id)
}

func (r *Room) add(id catalog.SessionID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.members, id) {
		return len(r.members), false
	}
	r.members = append(r.members, id)
	return len(r.members), true
}

func (r *Room) remove(id catalog.SessionID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.members, id)
	if i < 0 {
		return len(r.members), false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return len(r.members), true
}

// roll draws one shared track without replacement. The shared pool is
// computed on the first successful roll and then kept for the room's lifetime.
func (r *Room) roll(src CatalogSource, rnd Rand) (SharedTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) < 2 {
		return SharedTrack{}, ErrInsufficientMembers
	}

	if !r.computed {
		shared, err := intersect(r.members, src)
		if err != nil {
			return SharedTrack{}, err
		}
		if len(shared) == 0 {
			return SharedTrack{}, ErrNoSharedTracks
		}
		r.shared = shared
		r.computed = true
	}

	if len(r.shared) == 0 {
		return SharedTrack{}, ErrNoSharedTracks
	}

	i := rnd.IntN(len(r.shared))
	picked := r.shared[i]
	last := len(r.shared) - 1
	r.shared[i] = r.shared[last]
	r.shared[last] = SharedTrack{}
	r.shared = r.shared[:last]
	r.delivered++

	return picked, nil
}

// intersect returns the tracks common to every member's catalog, ordered as in
// the first member's catalog. Fails with ErrCatalogsNotReady if any catalog is missing.
func intersect(members []catalog.SessionID, src CatalogSource) ([]SharedTrack, error) {
	catalogs := make([]catalog.Catalog, len(members))
	for i, id := range members {
		c, ok := src.Get(id)
		if !ok {
			return nil, ErrCatalogsNotReady
		}
		catalogs[i] = c
	}

	common := catalogs[0].IDs()
	for _, c := range catalogs[1:] {
		ids := c.IDs()
		for id := range common {
			if _, ok := ids[id]; !ok {
				delete(common, id)
			}
		}
	}

	labels := make(map[string][]string, len(common))
	for _, c := range catalogs {
		for _, t := range c {
			if _, ok := common[t.ID]; !ok {
				continue
			}
			if !slices.Contains(labels[t.ID], t.PlaylistName) {
				labels[t.ID] = append(labels[t.ID], t.PlaylistName)
			}
		}
	}

	shared := make([]SharedTrack, 0, len(common))
	for _, t := range catalogs[0] {
		if _, ok := common[t.ID]; ok {
			shared = append(shared, SharedTrack{Track: t, Playlists: labels[t.ID]})
		}
	}
	return shared, nil
}
