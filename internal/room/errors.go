package room

import "errors"

// Room operation errors. All of them are recoverable for the caller.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrInsufficientMembers = errors.New("room needs at least two members")
	ErrCatalogsNotReady    = errors.New("not every member has finished loading")
	ErrNoSharedTracks      = errors.New("no shared tracks left")
	ErrResourceExhausted   = errors.New("no free room code available")
)

// Reason returns the wire name of a room error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrInsufficientMembers):
		return "insufficient_members"
	case errors.Is(err, ErrCatalogsNotReady):
		return "catalogs_not_ready"
	case errors.Is(err, ErrNoSharedTracks):
		return "no_shared_tracks"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	default:
		return "internal_error"
	}
}
