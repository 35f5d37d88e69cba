package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/raceserver/broadcast"
	"github.com/wfunc/raceserver/session"
)

// MockConnection is a test double for the network.Connection interface that
// records every delivered message.
type MockConnection struct {
	mu     sync.Mutex
	sent   []map[string]interface{}
	fail   bool
	closed bool
}

func (c *MockConnection) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *MockConnection) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *MockConnection) ReadMessage() ([]byte, error) { return nil, nil }
func (c *MockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *MockConnection) RemoteAddr() net.Addr { return &net.TCPAddr{} }

func (c *MockConnection) messages() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *MockConnection) messagesOfType(msgType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range c.messages() {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

// newTestRoom builds a room without starting its event loop; tests drive the
// handlers directly so every assertion is deterministic.
func newTestRoom() *Room {
	return newRoom("test_room", broadcast.NewRelayBroadcaster(), nil, Options{MaxChatLength: 200}, nil)
}

func attach(t *testing.T, r *Room) (*session.Session, *MockConnection) {
	t.Helper()
	conn := &MockConnection{}
	reply := make(chan *session.Session, 1)
	r.handleAttach(attachEvent{conn: conn, traceID: "trace", reply: reply})
	sess := <-reply
	if sess == nil {
		t.Fatal("Attach failed")
	}
	return sess, conn
}

func join(t *testing.T, r *Room, sess *session.Session, name string) {
	t.Helper()
	r.handleInbound(sess.ID, []byte(fmt.Sprintf(`{"type":"join","name":%q,"carColors":"ff0000"}`, name)))
	if !sess.Joined() {
		t.Fatalf("Session %d did not join", sess.ID)
	}
}

func TestRoom_AttachAssignsSequentialIDs(t *testing.T) {
	r := newTestRoom()

	sess1, conn1 := attach(t, r)
	sess2, _ := attach(t, r)

	if sess1.ID != 1 || sess2.ID != 2 {
		t.Errorf("Expected sequential ids 1 and 2, got %d and %d", sess1.ID, sess2.ID)
	}

	inits := conn1.messagesOfType("init")
	if len(inits) != 1 {
		t.Fatalf("Expected 1 init message, got %d", len(inits))
	}
	if inits[0]["id"].(float64) != 1 {
		t.Errorf("Init should carry the assigned session id, got %v", inits[0]["id"])
	}
	if players := inits[0]["players"].([]interface{}); len(players) != 0 {
		t.Errorf("Init for the first session should list no players, got %v", players)
	}
}

func TestRoom_InitListsJoinedPeersOnly(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	join(t, r, sess1, "alice")
	attach(t, r) // session 2 connects but never joins

	_, conn3 := attach(t, r)
	inits := conn3.messagesOfType("init")
	if len(inits) != 1 {
		t.Fatalf("Expected 1 init message, got %d", len(inits))
	}

	players := inits[0]["players"].([]interface{})
	if len(players) != 1 {
		t.Fatalf("Init should list only joined peers, got %v", players)
	}
	p := players[0].(map[string]interface{})
	if p["id"].(float64) != 1 || p["name"] != "alice" {
		t.Errorf("Unexpected peer in init: %v", p)
	}
}

func TestRoom_JoinBroadcastsToOthers(t *testing.T) {
	r := newTestRoom()

	sess1, conn1 := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	joined1 := conn1.messagesOfType("playerJoined")
	if len(joined1) != 1 || joined1[0]["id"].(float64) != 2 {
		t.Errorf("Session 1 should see bob join, got %v", joined1)
	}

	joined2 := conn2.messagesOfType("playerJoined")
	if len(joined2) != 1 || joined2[0]["id"].(float64) != 1 {
		t.Errorf("Session 2 should see alice join and not its own, got %v", joined2)
	}
}

func TestRoom_ChatTruncatedTo200Runes(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	long := strings.Repeat("x", 250)
	r.handleInbound(sess1.ID, []byte(`{"type":"chat","text":"`+long+`"}`))

	chats := conn2.messagesOfType("chat")
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat message, got %d", len(chats))
	}
	text := chats[0]["text"].(string)
	if text != strings.Repeat("x", 200) {
		t.Errorf("Expected exactly the first 200 characters, got %d chars", len(text))
	}
	if chats[0]["id"].(float64) != 1 {
		t.Errorf("Chat should name the sender's session id, got %v", chats[0]["id"])
	}
}

func TestRoom_ChatTruncationCountsRunes(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	long := strings.Repeat("赛", 250)
	r.handleInbound(sess1.ID, []byte(`{"type":"chat","text":"`+long+`"}`))

	chats := conn2.messagesOfType("chat")
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat message, got %d", len(chats))
	}
	if got := chats[0]["text"].(string); got != strings.Repeat("赛", 200) {
		t.Errorf("Expected 200 runes, got %d", len([]rune(got)))
	}
}

func TestRoom_RelayGatedOnJoin(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess2, "bob")

	// session 1 never joined; nothing it sends should reach bob
	r.handleInbound(sess1.ID, []byte(`{"type":"update","data":{"x":1}}`))
	r.handleInbound(sess1.ID, []byte(`{"type":"finish","frames":900}`))
	r.handleInbound(sess1.ID, []byte(`{"type":"chat","text":"hi"}`))

	for _, kind := range []string{"playerUpdate", "playerFinished", "chat"} {
		if msgs := conn2.messagesOfType(kind); len(msgs) != 0 {
			t.Errorf("Expected no %s before join, got %v", kind, msgs)
		}
	}
}

func TestRoom_UpdateRelayedOpaque(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	r.handleInbound(sess1.ID, []byte(`{"type":"update","data":{"pos":[1,2,3],"vel":0.5}}`))

	updates := conn2.messagesOfType("playerUpdate")
	if len(updates) != 1 {
		t.Fatalf("Expected 1 playerUpdate, got %d", len(updates))
	}
	data := updates[0]["data"].(map[string]interface{})
	if data["vel"].(float64) != 0.5 {
		t.Errorf("Update payload should be relayed unmodified, got %v", data)
	}
}

func TestRoom_FinishRelayedAsPlayerFinished(t *testing.T) {
	r := newTestRoom()

	sess1, conn1 := attach(t, r)
	sess2, _ := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	r.handleInbound(sess2.ID, []byte(`{"type":"finish","frames":1234}`))

	finished := conn1.messagesOfType("playerFinished")
	if len(finished) != 1 {
		t.Fatalf("Expected 1 playerFinished, got %d", len(finished))
	}
	if finished[0]["frames"].(float64) != 1234 || finished[0]["id"].(float64) != 2 {
		t.Errorf("Unexpected playerFinished payload: %v", finished[0])
	}
}

func TestRoom_UnknownTypeAndMalformedIgnored(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	before := len(conn2.messages())
	r.handleInbound(sess1.ID, []byte(`{"type":"teleport","to":"finish"}`))
	r.handleInbound(sess1.ID, []byte(`{not json`))

	if after := len(conn2.messages()); after != before {
		t.Errorf("Unknown or malformed messages must not be relayed, got %d new", after-before)
	}
}

func TestRoom_LeaveAnnouncedExactlyOnce(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	// close and error can fire redundantly for the same session
	r.removeSession(sess1.ID)
	r.removeSession(sess1.ID)

	left := conn2.messagesOfType("playerLeft")
	if len(left) != 1 {
		t.Fatalf("Expected exactly one playerLeft, got %d", len(left))
	}
	if left[0]["id"].(float64) != 1 {
		t.Errorf("playerLeft should name session 1, got %v", left[0]["id"])
	}
	if _, exists := r.sessions[sess1.ID]; exists {
		t.Error("Session 1 should be removed from the registry")
	}
}

func TestRoom_LeaveBeforeJoinNotAnnounced(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess2, "bob")

	r.removeSession(sess1.ID)

	if left := conn2.messagesOfType("playerLeft"); len(left) != 0 {
		t.Errorf("A session that never joined has no departure to announce, got %v", left)
	}
}

func TestRoom_BroadcastFailureRemovesAndAnnounces(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	sess3, conn3 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")
	join(t, r, sess3, "carol")

	// bob's connection dies; alice's next chat flushes it out
	conn2.mu.Lock()
	conn2.fail = true
	conn2.mu.Unlock()

	r.handleInbound(sess1.ID, []byte(`{"type":"chat","text":"hello"}`))

	if _, exists := r.sessions[sess2.ID]; exists {
		t.Error("Session with failed delivery should be removed during the broadcast pass")
	}

	// carol still got the chat, and a playerLeft for bob via the normal path
	if chats := conn3.messagesOfType("chat"); len(chats) != 1 {
		t.Errorf("Expected carol to receive the chat, got %d", len(chats))
	}
	left := conn3.messagesOfType("playerLeft")
	if len(left) != 1 || left[0]["id"].(float64) != 2 {
		t.Errorf("Expected carol to see bob leave, got %v", left)
	}
	if !conn2.closed {
		t.Error("Failed session's connection should be closed")
	}
}

func TestRoom_SweepClosesIdleSessions(t *testing.T) {
	r := newRoom("test_room", broadcast.NewRelayBroadcaster(), nil, Options{
		MaxChatLength: 200,
		IdleTimeout:   time.Minute,
	}, nil)

	sess1, _ := attach(t, r)
	sess2, conn2 := attach(t, r)
	join(t, r, sess1, "alice")
	join(t, r, sess2, "bob")

	sess1.LastActive = time.Now().Add(-2 * time.Minute)
	r.handleSweep(time.Now())

	if _, exists := r.sessions[sess1.ID]; exists {
		t.Error("Idle session should be swept")
	}
	if _, exists := r.sessions[sess2.ID]; !exists {
		t.Error("Active session should survive the sweep")
	}
	left := conn2.messagesOfType("playerLeft")
	if len(left) != 1 || left[0]["id"].(float64) != 1 {
		t.Errorf("Sweep should announce the departure, got %v", left)
	}
}

func TestRoom_SweepDisabledByZeroTimeout(t *testing.T) {
	r := newTestRoom()

	sess1, _ := attach(t, r)
	join(t, r, sess1, "alice")
	sess1.LastActive = time.Now().Add(-time.Hour)

	r.handleSweep(time.Now())
	if _, exists := r.sessions[sess1.ID]; !exists {
		t.Error("Sweep must be a no-op when idle timeout is zero")
	}
}

func TestManager_RoomLifecycle(t *testing.T) {
	m := NewManager(broadcast.NewRelayBroadcaster(), nil, nil, Options{MaxChatLength: 200})

	conn := &MockConnection{}
	r, sess := m.Attach("lobby", conn, "trace")
	if sess == nil {
		t.Fatal("Attach should return a session")
	}
	if m.Count() != 1 {
		t.Fatalf("Expected 1 room, got %d", m.Count())
	}

	r.Leave(sess.ID)

	deadline := time.Now().Add(2 * time.Second)
	for m.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Room should be removed after its last session leaves")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_RoomsAreIsolated(t *testing.T) {
	m := NewManager(broadcast.NewRelayBroadcaster(), nil, nil, Options{MaxChatLength: 200})

	conn1 := &MockConnection{}
	conn2 := &MockConnection{}
	r1, sess1 := m.Attach("alpha", conn1, "t1")
	_, _ = m.Attach("beta", conn2, "t2")

	r1.Inbound(sess1.ID, []byte(`{"type":"join","name":"alice","carColors":""}`))

	// give the alpha loop a moment; beta must never hear about alice
	time.Sleep(50 * time.Millisecond)
	if joined := conn2.messagesOfType("playerJoined"); len(joined) != 0 {
		t.Errorf("Sessions across rooms must never interact, got %v", joined)
	}
}
