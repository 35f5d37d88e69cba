// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"

	"github.com/wfunc/raceserver/session"
)

// RelayBroadcaster 房间内消息扇出
type RelayBroadcaster struct{}

func NewRelayBroadcaster() *RelayBroadcaster {
	return &RelayBroadcaster{}
}

// Broadcast delivers message to every session except the excluded one. A
// failed delivery never aborts the rest of the pass; the failed session ids
// are returned so the room can route them through its normal leave path
// instead of dropping them silently.
func (b *RelayBroadcaster) Broadcast(sessions []*session.Session, message interface{}, exclude uint32) ([]uint32, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	var failed []uint32
	for _, s := range sessions {
		if s.ID == exclude {
			continue
		}
		if err := s.SendRaw(data); err != nil {
			failed = append(failed, s.ID)
			continue
		}
	}
	return failed, nil
}
