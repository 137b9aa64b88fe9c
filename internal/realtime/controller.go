package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/justestif/song-roulette/internal/catalog"
	"github.com/justestif/song-roulette/internal/room"
)

// Defaults for a Controller.
const (
	DefaultPingPeriod = 54 * time.Second
	DefaultReadLimit  = 32768
	DefaultSendBuffer = 32
)

// Rooms is the room engine the controller drives.
type Rooms interface {
	Create(host catalog.SessionID) (string, error)
	Join(code string, id catalog.SessionID) (int, error)
	Leave(code string, id catalog.SessionID) (int, error)
	Roll(code string, id catalog.SessionID) (room.SharedTrack, error)
	Get(code string) (*room.Room, bool)
}

// Config tunes websocket connections.
type Config struct {
	PingPeriod time.Duration
	ReadLimit  int64
	SendBuffer int
}

// Controller serves the websocket endpoint and turns client events into room operations.
type Controller struct {
	rooms    Rooms
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader

	// presence counts the open connections of a session in a room.
	// A disconnect only leaves the room when it closes the last one.
	mu       sync.Mutex
	presence map[presenceKey]int
}

type presenceKey struct {
	sid  catalog.SessionID
	code string
}

// NewController creates a controller publishing through hub.
func NewController(rooms Rooms, hub *Hub, cfg Config) *Controller {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	return &Controller{
		rooms: rooms,
		hub:   hub,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		presence: make(map[presenceKey]int),
	}
}

// client is one connection bound to a session, with the rooms it joined.
type client struct {
	sid    catalog.SessionID
	sender Sender

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newClient(sid catalog.SessionID, sender Sender) *client {
	return &client{sid: sid, sender: sender, rooms: make(map[string]struct{})}
}

func (cl *client) track(code string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.rooms[code]; ok {
		return false
	}
	cl.rooms[code] = struct{}{}
	return true
}

func (cl *client) untrack(code string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.rooms[code]; !ok {
		return false
	}
	delete(cl.rooms, code)
	return true
}

func (cl *client) joined() []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	codes := make([]string, 0, len(cl.rooms))
	for code := range cl.rooms {
		codes = append(codes, code)
	}
	return codes
}

// ServeWS upgrades the request and runs the connection for session sid until it closes.
func (ctl *Controller) ServeWS(w http.ResponseWriter, r *http.Request, sid catalog.SessionID) {
	ws, err := ctl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "realtime.controller").Msg("websocket upgrade")
		return
	}

	conn := newWSConn(uuid.NewString(), ws, ctl.cfg.SendBuffer)
	cl := ctl.connect(sid, conn)

	ctx, cancel := context.WithCancel(context.Background())
	go conn.writePump(ctx, ctl.cfg.PingPeriod)

	conn.readPump(ctl.cfg.ReadLimit, ctl.cfg.PingPeriod*10/9, func(data []byte) {
		ctl.handle(cl, data)
	})

	cancel()
	ctl.disconnect(cl)
	conn.Close()
}

func (ctl *Controller) connect(sid catalog.SessionID, s Sender) *client {
	log.Info().Str("module", "realtime.controller").Str("sid", sid.Short()).Str("conn", s.ID()).Msg("connected")
	return newClient(sid, s)
}

// disconnect unsubscribes the connection and leaves every room it joined,
// unless another connection of the same session is still in that room.
func (ctl *Controller) disconnect(cl *client) {
	for _, code := range cl.joined() {
		ctl.hub.Unsubscribe(cl.sender, code)
		if others := ctl.detach(cl, code); others > 0 {
			log.Debug().Str("module", "realtime.controller").Str("room", code).Str("sid", cl.sid.Short()).Int("connections", others).Msg("session still connected, keeping membership")
			continue
		}
		if _, err := ctl.rooms.Leave(code, cl.sid); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			log.Warn().Err(err).Str("module", "realtime.controller").Str("room", code).Msg("leave on disconnect")
		}
	}
	log.Info().Str("module", "realtime.controller").Str("sid", cl.sid.Short()).Str("conn", cl.sender.ID()).Msg("disconnected")
}

// attach records that cl is in the room.
func (ctl *Controller) attach(cl *client, code string) {
	if !cl.track(code) {
		return
	}
	ctl.mu.Lock()
	ctl.presence[presenceKey{cl.sid, code}]++
	ctl.mu.Unlock()
}

// detach forgets that cl is in the room and returns how many other
// connections of its session remain there.
func (ctl *Controller) detach(cl *client, code string) int {
	if !cl.untrack(code) {
		return 0
	}
	key := presenceKey{cl.sid, code}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	n := ctl.presence[key] - 1
	if n <= 0 {
		delete(ctl.presence, key)
		return 0
	}
	ctl.presence[key] = n
	return n
}

func (ctl *Controller) handle(cl *client, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "realtime.controller").Msg("bad json")
		ctl.reply(cl, Ack{Event: "", Error: "bad_request"})
		return
	}

	switch req.Type {
	case EventCreateRoom:
		ctl.handleCreate(cl, req)
	case EventJoinRoom:
		ctl.handleJoin(cl, req)
	case EventRoll:
		ctl.handleRoll(cl, req)
	case EventLeaveRoom:
		ctl.handleLeave(cl, req)
	case EventPing:
		ctl.send(cl, Envelope{Type: TypePong})
	default:
		log.Warn().Str("module", "realtime.controller").Str("type", req.Type).Msg("unknown event")
		ctl.reply(cl, Ack{ID: req.ID, Event: req.Type, Error: "unknown_event"})
	}
}

func (ctl *Controller) handleCreate(cl *client, req request) {
	code, err := ctl.rooms.Create(cl.sid)
	if err != nil {
		ctl.fail(cl, req, err, nil)
		return
	}
	ctl.hub.Subscribe(cl.sender, code)
	ctl.attach(cl, code)
	ctl.succeed(cl, req, room.MembershipEvent{RoomCode: code, UserCount: 1})
}

func (ctl *Controller) handleJoin(cl *client, req request) {
	code := room.NormalizeCode(req.RoomCode)

	// Subscribe first so the joiner also receives its own user_joined.
	ctl.hub.Subscribe(cl.sender, code)
	count, err := ctl.rooms.Join(code, cl.sid)
	if err != nil {
		ctl.hub.Unsubscribe(cl.sender, code)
		ctl.fail(cl, req, err, nil)
		return
	}
	ctl.attach(cl, code)
	ctl.succeed(cl, req, room.MembershipEvent{RoomCode: code, UserCount: count})
}

func (ctl *Controller) handleRoll(cl *client, req request) {
	code := room.NormalizeCode(req.RoomCode)

	track, err := ctl.rooms.Roll(code, cl.sid)
	if err != nil {
		var data any
		if errors.Is(err, room.ErrNoSharedTracks) {
			if r, ok := ctl.rooms.Get(code); ok && r.Delivered() > 0 {
				data = map[string]bool{"exhausted": true}
			}
		}
		ctl.fail(cl, req, err, data)
		return
	}
	ctl.succeed(cl, req, room.RolledEvent{RoomCode: code, Track: track})
}

func (ctl *Controller) handleLeave(cl *client, req request) {
	code := room.NormalizeCode(req.RoomCode)

	ctl.hub.Unsubscribe(cl.sender, code)
	ctl.detach(cl, code)
	count, err := ctl.rooms.Leave(code, cl.sid)
	if err != nil {
		ctl.fail(cl, req, err, nil)
		return
	}
	ctl.succeed(cl, req, room.MembershipEvent{RoomCode: code, UserCount: count})
}

func (ctl *Controller) succeed(cl *client, req request, data any) {
	ctl.reply(cl, Ack{ID: req.ID, Event: req.Type, Success: true, Data: data})
}

func (ctl *Controller) fail(cl *client, req request, err error, data any) {
	log.Debug().Err(err).Str("module", "realtime.controller").Str("event", req.Type).Str("sid", cl.sid.Short()).Msg("request rejected")
	ctl.reply(cl, Ack{ID: req.ID, Event: req.Type, Error: room.Reason(err), Data: data})
}

func (ctl *Controller) reply(cl *client, ack Ack) {
	ack.Type = TypeAck
	ctl.send(cl, ack)
}

func (ctl *Controller) send(cl *client, v any) {
	frame, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "realtime.controller").Msg("encode reply")
		return
	}
	if err := cl.sender.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "realtime.controller").Str("conn", cl.sender.ID()).Msg("reply dropped")
	}
}
