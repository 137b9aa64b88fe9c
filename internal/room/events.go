package room

// Events pushed to room members.
const (
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventSongRolled = "song_rolled"
)

// Notifier fans events out to the connections subscribed to a room.
type Notifier interface {
	Broadcast(roomCode, event string, payload any)
}

// MembershipEvent is the payload of user_joined and user_left.
type MembershipEvent struct {
	RoomCode  string `json:"roomCode"`
	UserCount int    `json:"userCount"`
}

// RolledEvent is the payload of song_rolled.
type RolledEvent struct {
	RoomCode string      `json:"roomCode"`
	Track    SharedTrack `json:"track"`
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, string, any) {}
