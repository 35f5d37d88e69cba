// session/session.go
package session

import (
	"time"

	"github.com/wfunc/raceserver/network"
	"github.com/wfunc/raceserver/state"
)

// PlayerInfo 会话声明的玩家信息，join 之前为空
type PlayerInfo struct {
	Name      string
	CarColors string
}

// Session is one connection's membership in a room. The ID is sequential
// within the room and never reused while the room is alive. All fields are
// owned by the room's event loop; only the lifecycle machine is safe to
// touch from other goroutines.
type Session struct {
	ID         uint32
	Conn       network.Connection
	TraceID    string // 连接级日志标识
	Player     *PlayerInfo
	CreatedAt  time.Time
	LastActive time.Time
	lifecycle  *state.Machine
}

func NewSession(id uint32, conn network.Connection, traceID string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		TraceID:    traceID,
		CreatedAt:  now,
		LastActive: now,
		lifecycle:  state.NewMachine(),
	}
}

// Join records the declared player info and moves the session to Joined.
func (s *Session) Join(name, carColors string) error {
	if err := s.lifecycle.Advance(state.Joined); err != nil {
		return err
	}
	s.Player = &PlayerInfo{Name: name, CarColors: carColors}
	return nil
}

// Joined reports whether a join message has been accepted.
func (s *Session) Joined() bool {
	return s.lifecycle.Current() == state.Joined
}

// CloseOnce moves the session to Closed and reports whether this call was
// the one that performed the transition. Redundant close/error signals get
// false and must not repeat removal or departure announcements.
func (s *Session) CloseOnce() bool {
	return s.lifecycle.Advance(state.Closed) == nil
}

// Touch marks inbound activity for the idle sweep.
func (s *Session) Touch() {
	s.LastActive = time.Now()
}

func (s *Session) Send(v interface{}) error {
	s.LastActive = time.Now()
	return s.Conn.Send(v)
}

func (s *Session) SendRaw(data []byte) error {
	s.LastActive = time.Now()
	return s.Conn.SendRaw(data)
}

func (s *Session) GetID() uint32 {
	return s.ID
}
