package realtime

import "encoding/json"

// Events consumed from clients.
const (
	EventCreateRoom = "create_room"
	EventJoinRoom   = "join_room"
	EventRoll       = "roll"
	EventLeaveRoom  = "leave_room"
	EventPing       = "ping"
)

// Frames sent only to the requesting connection.
const (
	TypeAck  = "ack"
	TypePong = "pong"
)

// request is an inbound frame. ID, when set, is echoed in the ack.
type request struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
}

// Envelope is an outbound pushed event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Ack answers one request. Exactly one of Success or Error is set.
type Ack struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
