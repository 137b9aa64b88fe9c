package room

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/justestif/song-roulette/internal/catalog"
)

const (
	// CodeAlphabet holds the characters of a room code.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the number of characters in a room code.
	CodeLength = 6

	// DefaultTTL is how long a room lives, regardless of membership.
	DefaultTTL = 30 * time.Minute
	// DefaultCodeAttempts bounds code generation before giving up.
	DefaultCodeAttempts = 1000
)

// Registry owns every live room, keyed by code. Expired rooms are swept
// on each access rather than by a timer.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	catalogs     CatalogSource
	notifier     Notifier
	rnd          Rand
	now          func() time.Time
	ttl          time.Duration
	codeAttempts int
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the room lifetime.
func WithTTL(d time.Duration) Option {
	return func(g *Registry) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithRand sets the randomness used for codes and draws.
func WithRand(r Rand) Option {
	return func(g *Registry) {
		g.rnd = r
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Registry) {
		g.now = now
	}
}

// WithNotifier sets where membership and roll events are published.
func WithNotifier(n Notifier) Option {
	return func(g *Registry) {
		g.notifier = n
	}
}

// WithCodeAttempts bounds how many codes Create tries before ErrResourceExhausted.
func WithCodeAttempts(n int) Option {
	return func(g *Registry) {
		if n > 0 {
			g.codeAttempts = n
		}
	}
}

// NewRegistry creates a registry whose rooms intersect catalogs from src.
func NewRegistry(src CatalogSource, opts ...Option) *Registry {
	g := &Registry{
		rooms:        make(map[string]*Room),
		catalogs:     src,
		notifier:     nopNotifier{},
		rnd:          NewRand(0),
		now:          time.Now,
		ttl:          DefaultTTL,
		codeAttempts: DefaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create opens a room with host as its only member and returns its code.
func (g *Registry) Create(host catalog.SessionID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	for range g.codeAttempts {
		code := generateCode(g.rnd)
		if _, taken := g.rooms[code]; taken {
			continue
		}
		g.rooms[code] = newRoom(code, host, now)
		log.Info().Str("module", "room.registry").Str("room", code).Str("sid", host.Short()).Msg("room created")
		return code, nil
	}

	log.Error().Str("module", "room.registry").Int("rooms", len(g.rooms)).Msg("room codes exhausted")
	return "", ErrResourceExhausted
}

// Join adds id to the room and returns the new member count.
// Joining a room twice is a no-op.
func (g *Registry) Join(code string, id catalog.SessionID) (int, error) {
	code = NormalizeCode(code)

	// Membership changes happen under g.mu so a concurrent Leave cannot
	// delete the room between the lookup and the add.
	g.mu.Lock()
	g.sweepLocked(g.now())
	room, ok := g.rooms[code]
	if !ok {
		g.mu.Unlock()
		return 0, ErrRoomNotFound
	}
	count, added := room.add(id)
	g.mu.Unlock()

	if added {
		log.Info().Str("module", "room.registry").Str("room", code).Str("sid", id.Short()).Int("members", count).Msg("member joined")
		g.notifier.Broadcast(code, EventUserJoined, MembershipEvent{RoomCode: code, UserCount: count})
	}
	return count, nil
}

// Leave removes id from the room and returns the remaining member count.
// The room is deleted once nobody is left.
func (g *Registry) Leave(code string, id catalog.SessionID) (int, error) {
	code = NormalizeCode(code)

	g.mu.Lock()
	g.sweepLocked(g.now())
	room, ok := g.rooms[code]
	if !ok {
		g.mu.Unlock()
		return 0, ErrRoomNotFound
	}
	count, removed := room.remove(id)
	if count == 0 {
		delete(g.rooms, code)
	}
	g.mu.Unlock()

	if !removed {
		return count, nil
	}

	logger := log.Info().Str("module", "room.registry").Str("room", code).Str("sid", id.Short())
	if count == 0 {
		logger.Msg("last member left, room closed")
		return 0, nil
	}
	logger.Int("members", count).Msg("member left")
	g.notifier.Broadcast(code, EventUserLeft, MembershipEvent{RoomCode: code, UserCount: count})
	return count, nil
}

// LeaveAll removes id from every room it belongs to and returns their codes.
func (g *Registry) LeaveAll(id catalog.SessionID) []string {
	g.mu.RLock()
	var codes []string
	for code, room := range g.rooms {
		if room.has(id) {
			codes = append(codes, code)
		}
	}
	g.mu.RUnlock()

	for _, code := range codes {
		_, _ = g.Leave(code, id)
	}
	return codes
}

// Roll draws a shared track for the room and publishes it to its members.
func (g *Registry) Roll(code string, id catalog.SessionID) (SharedTrack, error) {
	room, err := g.lookup(code)
	if err != nil {
		return SharedTrack{}, err
	}

	track, err := room.roll(g.catalogs, g.rnd)
	if err != nil {
		log.Debug().Err(err).Str("module", "room.registry").Str("room", room.Code).Str("sid", id.Short()).Msg("roll rejected")
		return SharedTrack{}, err
	}

	log.Info().Str("module", "room.registry").Str("room", room.Code).Str("sid", id.Short()).Str("track", track.ID).Msg("song rolled")
	g.notifier.Broadcast(room.Code, EventSongRolled, RolledEvent{RoomCode: room.Code, Track: track})
	return track, nil
}

// Get returns the live room with the given code.
func (g *Registry) Get(code string) (*Room, bool) {
	room, err := g.lookup(code)
	return room, err == nil
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Sweep deletes every room older than the TTL at now and returns how many were removed.
func (g *Registry) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(now)
}

func (g *Registry) lookup(code string) (*Room, error) {
	code = NormalizeCode(code)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(g.now())
	room, ok := g.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// sweepLocked must be called with g.mu held for writing.
func (g *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for code, room := range g.rooms {
		if now.Sub(room.CreatedAt) > g.ttl {
			delete(g.rooms, code)
			removed++
			log.Info().Str("module", "room.registry").Str("room", code).Msg("room expired")
		}
	}
	return removed
}

// NormalizeCode upper-cases and trims a user-entered room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateCode(rnd Rand) string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = CodeAlphabet[rnd.IntN(len(CodeAlphabet))]
	}
	return string(b)
}
