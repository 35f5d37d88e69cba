package broadcast

import (
	"errors"
	"net"
	"testing"

	"github.com/wfunc/raceserver/session"
)

// MockConnection records delivered payloads and can be told to fail.
type MockConnection struct {
	sent [][]byte
	fail bool
}

func (m *MockConnection) Send(v interface{}) error { return nil }
func (m *MockConnection) SendRaw(data []byte) error {
	if m.fail {
		return errors.New("connection gone")
	}
	m.sent = append(m.sent, data)
	return nil
}
func (m *MockConnection) ReadMessage() ([]byte, error) { return nil, nil }
func (m *MockConnection) Close() error                 { return nil }
func (m *MockConnection) RemoteAddr() net.Addr         { return &net.TCPAddr{} }

func newTestSession(id uint32, conn *MockConnection) *session.Session {
	return session.NewSession(id, conn, "trace")
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	b := NewRelayBroadcaster()

	conn1 := &MockConnection{}
	conn2 := &MockConnection{}
	sessions := []*session.Session{newTestSession(1, conn1), newTestSession(2, conn2)}

	failed, err := b.Broadcast(sessions, map[string]string{"type": "chat"}, 1)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("Expected no failures, got %v", failed)
	}
	if len(conn1.sent) != 0 {
		t.Error("Excluded sender should not receive the message")
	}
	if len(conn2.sent) != 1 {
		t.Errorf("Expected 1 delivery to session 2, got %d", len(conn2.sent))
	}
}

func TestBroadcast_NoExclusion(t *testing.T) {
	b := NewRelayBroadcaster()

	conn1 := &MockConnection{}
	conn2 := &MockConnection{}
	sessions := []*session.Session{newTestSession(1, conn1), newTestSession(2, conn2)}

	if _, err := b.Broadcast(sessions, map[string]string{"type": "init"}, 0); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(conn1.sent) != 1 || len(conn2.sent) != 1 {
		t.Error("All sessions should receive the message when exclude is 0")
	}
}

func TestBroadcast_FailureIsolation(t *testing.T) {
	b := NewRelayBroadcaster()

	conn1 := &MockConnection{}
	conn2 := &MockConnection{fail: true}
	conn3 := &MockConnection{}
	sessions := []*session.Session{
		newTestSession(1, conn1),
		newTestSession(2, conn2),
		newTestSession(3, conn3),
	}

	failed, err := b.Broadcast(sessions, map[string]string{"type": "chat"}, 0)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if len(failed) != 1 || failed[0] != 2 {
		t.Errorf("Expected failed = [2], got %v", failed)
	}
	if len(conn1.sent) != 1 || len(conn3.sent) != 1 {
		t.Error("A failed recipient must not abort delivery to the others")
	}
}

func TestBroadcast_MarshalOnce(t *testing.T) {
	b := NewRelayBroadcaster()

	conn1 := &MockConnection{}
	conn2 := &MockConnection{}
	sessions := []*session.Session{newTestSession(1, conn1), newTestSession(2, conn2)}

	if _, err := b.Broadcast(sessions, map[string]int{"frames": 900}, 0); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if string(conn1.sent[0]) != string(conn2.sent[0]) {
		t.Error("All recipients should receive the identical serialized payload")
	}
}
