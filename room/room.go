// room/room.go
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/raceserver/monitor"
	"github.com/wfunc/raceserver/network"
	"github.com/wfunc/raceserver/session"
	"github.com/wfunc/raceserver/timer"
)

// Options 房间运行参数
type Options struct {
	// MaxChatLength is the rune limit applied to relayed chat text.
	MaxChatLength int
	// IdleTimeout closes sessions with no inbound activity. Zero disables it.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// event 房间事件队列的元素，按到达顺序串行处理
type event interface{}

type attachEvent struct {
	conn    network.Connection
	traceID string
	reply   chan *session.Session
}

type inboundEvent struct {
	id   uint32
	data []byte
}

type leaveEvent struct {
	id uint32
}

type sweepEvent struct {
	now time.Time
}

// Room is an isolated relay group. A single goroutine owns the session map
// and processes attach, inbound, leave and sweep events in arrival order, so
// no lock guards the per-session state. Session ids are sequential within
// the room's lifetime and never reused while it is alive.
type Room struct {
	ID        string
	CreatedAt time.Time

	broadcaster Broadcaster
	mon         *monitor.Monitor
	opts        Options

	// 以下字段仅由事件循环访问
	sessions map[uint32]*session.Session
	nextID   uint32

	events chan event

	mu      sync.Mutex
	pending int
	count   int
	closed  bool
	onClose func(*Room)

	sweepTimer int64
}

func newRoom(id string, b Broadcaster, mon *monitor.Monitor, opts Options, onClose func(*Room)) *Room {
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = 200
	}
	return &Room{
		ID:          id,
		CreatedAt:   time.Now(),
		broadcaster: b,
		mon:         mon,
		opts:        opts,
		sessions:    make(map[uint32]*session.Session),
		events:      make(chan event, 256),
		onClose:     onClose,
	}
}

// post enqueues an event unless the room has already shut down. The pending
// count keeps the loop alive until every enqueued event is consumed, so a
// post that passed the closed check can never block forever.
func (r *Room) post(ev event) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.pending++
	r.mu.Unlock()

	r.events <- ev
	return true
}

// Inbound hands a raw message from the session's read pump to the room loop.
func (r *Room) Inbound(id uint32, data []byte) {
	r.post(inboundEvent{id: id, data: data})
}

// Leave requests removal of a session, typically after a transport close or
// read error. Redundant calls are harmless.
func (r *Room) Leave(id uint32) {
	r.post(leaveEvent{id: id})
}

// Sweep schedules an idle-session check on the room loop.
func (r *Room) Sweep(now time.Time) {
	r.post(sweepEvent{now: now})
}

// SessionCount 当前会话数
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Room) run() {
	for ev := range r.events {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()

		switch ev := ev.(type) {
		case attachEvent:
			r.handleAttach(ev)
		case inboundEvent:
			r.handleInbound(ev.id, ev.data)
		case leaveEvent:
			r.removeSession(ev.id)
		case sweepEvent:
			r.handleSweep(ev.now)
		}

		if r.tryClose() {
			return
		}
	}
}

// tryClose shuts the room down once no session references it and no event is
// in flight.
func (r *Room) tryClose() bool {
	r.mu.Lock()
	if r.count > 0 || r.pending > 0 {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.mu.Unlock()

	if r.onClose != nil {
		r.onClose(r)
	}
	return true
}

// handleAttach assigns the next session id, sends the init snapshot and
// registers the session. A session whose snapshot cannot be delivered never
// enters the registry, so no departure is announced for it.
func (r *Room) handleAttach(ev attachEvent) {
	r.nextID++
	sess := session.NewSession(r.nextID, ev.conn, ev.traceID)

	players := make([]network.PlayerInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Joined() {
			players = append(players, network.PlayerInfo{
				ID:        s.ID,
				Name:      s.Player.Name,
				CarColors: s.Player.CarColors,
			})
		}
	}

	init := network.InitMessage{Type: network.MsgInit, ID: sess.ID, Players: players}
	if err := sess.Send(init); err != nil {
		sess.CloseOnce()
		sess.Conn.Close()
		ev.reply <- nil
		return
	}

	r.sessions[sess.ID] = sess
	r.setCount(len(r.sessions))
	r.mon.IncOnlinePlayers()
	ev.reply <- sess
}

func (r *Room) handleInbound(id uint32, data []byte) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	sess.Touch()

	var msg network.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		// 中继尽力而为，畸形消息直接丢弃
		return
	}

	r.mon.IncMessagesReceived()

	switch msg.Type {
	case network.MsgJoin:
		if err := sess.Join(msg.Name, msg.CarColors); err != nil {
			return
		}
		r.relay(network.PlayerJoinedMessage{
			Type:      network.MsgPlayerJoined,
			ID:        sess.ID,
			Name:      msg.Name,
			CarColors: msg.CarColors,
		}, sess.ID)

	case network.MsgUpdate:
		if !sess.Joined() {
			return
		}
		r.relay(network.PlayerUpdateMessage{
			Type: network.MsgPlayerUpdate,
			ID:   sess.ID,
			Data: msg.Data,
		}, sess.ID)

	case network.MsgFinish:
		if !sess.Joined() {
			return
		}
		r.relay(network.PlayerFinishedMessage{
			Type:   network.MsgPlayerFinished,
			ID:     sess.ID,
			Frames: msg.Frames,
		}, sess.ID)

	case network.MsgChat:
		if !sess.Joined() {
			return
		}
		r.relay(network.ChatMessage{
			Type: network.MsgChat,
			ID:   sess.ID,
			Text: truncate(msg.Text, r.opts.MaxChatLength),
		}, sess.ID)

	default:
		// 未知类型不是错误，静默忽略
	}
}

// relay fans the message out and feeds every failed recipient through the
// same removal path a transport close takes, so remaining sessions always
// hear about the departure.
func (r *Room) relay(message interface{}, exclude uint32) {
	failed, err := r.broadcaster.Broadcast(r.sessionList(), message, exclude)
	if err != nil {
		return
	}
	for _, id := range failed {
		r.removeSession(id)
	}
}

// removeSession performs the exactly-once removal and departure broadcast.
// Close, read error, delivery failure and idle sweep all funnel in here; the
// session lifecycle machine makes redundant signals no-ops.
func (r *Room) removeSession(id uint32) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	if !sess.CloseOnce() {
		return
	}

	delete(r.sessions, id)
	r.setCount(len(r.sessions))
	sess.Conn.Close()
	r.mon.DecOnlinePlayers()

	// 未 join 的会话对其他人不可见，无需通告
	if sess.Player != nil {
		r.relay(network.PlayerLeftMessage{Type: network.MsgPlayerLeft, ID: id}, 0)
	}
}

func (r *Room) handleSweep(now time.Time) {
	if r.opts.IdleTimeout <= 0 {
		return
	}

	var idle []uint32
	for id, s := range r.sessions {
		if now.Sub(s.LastActive) > r.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		r.removeSession(id)
	}
}

func (r *Room) sessionList() []*session.Session {
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Room) setCount(n int) {
	r.mu.Lock()
	r.count = n
	r.mu.Unlock()
}

// truncate 按符文截断，避免把多字节字符截成半个
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// --- 房间管理器 ---

// Manager 管理所有房间，按ID惰性创建，空房间随最后一个会话关闭
type Manager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	broadcaster Broadcaster
	mon         *monitor.Monitor
	timers      *timer.TimerManager
	opts        Options
}

func NewManager(b Broadcaster, mon *monitor.Monitor, timers *timer.TimerManager, opts Options) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		broadcaster: b,
		mon:         mon,
		timers:      timers,
		opts:        opts,
	}
}

// Attach routes a new connection into the named room, creating it on first
// use, and returns the assigned session. A nil session means the init
// snapshot could not be delivered and the connection is already closed.
func (m *Manager) Attach(roomID string, conn network.Connection, traceID string) (*Room, *session.Session) {
	reply := make(chan *session.Session, 1)
	ev := attachEvent{conn: conn, traceID: traceID, reply: reply}

	for {
		m.mu.Lock()
		r, exists := m.rooms[roomID]
		if !exists {
			r = m.spawn(roomID)
			m.rooms[roomID] = r
			m.mon.SetActiveRooms(len(m.rooms))
		}
		m.mu.Unlock()

		if r.post(ev) {
			return r, <-reply
		}

		// 命中正在关闭的房间，摘掉后重试
		m.mu.Lock()
		if m.rooms[roomID] == r {
			delete(m.rooms, roomID)
		}
		m.mu.Unlock()
	}
}

// GetRoom 获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, exists := m.rooms[id]
	return room, exists
}

// Count 当前房间数
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// spawn 创建房间并启动其事件循环，调用方需持有 m.mu
func (m *Manager) spawn(id string) *Room {
	r := newRoom(id, m.broadcaster, m.mon, m.opts, m.removeRoom)

	if m.timers != nil && m.opts.IdleTimeout > 0 {
		interval := m.opts.SweepInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		r.sweepTimer = m.timers.AddTimer(interval, interval, func() {
			r.Sweep(time.Now())
		})
	}

	go r.run()
	return r
}

// removeRoom 房间关闭后的回调
func (m *Manager) removeRoom(r *Room) {
	m.mu.Lock()
	if m.rooms[r.ID] == r {
		delete(m.rooms, r.ID)
	}
	m.mon.SetActiveRooms(len(m.rooms))
	m.mu.Unlock()

	if m.timers != nil && r.sweepTimer != 0 {
		m.timers.RemoveTimer(r.sweepTimer)
	}
}
