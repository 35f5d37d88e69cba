package room

import "github.com/wfunc/raceserver/session"

// Broadcaster defines the fan-out used by a room. Defined here to break the
// import cycle between room and broadcast.
//
// Implementations must serialize the message once, skip the excluded session
// id (0 excludes nobody; ids start at 1), isolate per-recipient failures and
// return the ids whose delivery failed. The caller decides what to do with
// the failures; the broadcaster itself never mutates the session set.
type Broadcaster interface {
	Broadcast(sessions []*session.Session, message interface{}, exclude uint32) ([]uint32, error)
}
