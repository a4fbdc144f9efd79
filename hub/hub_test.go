package hub

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/network"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type sentMessage struct {
	MsgID uint16
	Data  []byte
}

// MockConnection is a test double for the network.Connection interface. It
// records every Send and can be told to fail.
type MockConnection struct {
	mutex    sync.Mutex
	messages []sentMessage
	sendErr  error
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, sentMessage{MsgID: msgID, Data: data})
	return nil
}

func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) received(msgID uint16) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.MsgID == msgID {
			count++
		}
	}
	return count
}

func TestHub_JoinAnnouncesPresence(t *testing.T) {
	h := NewHub()

	alice := &MockConnection{}
	h.Join(1, "kitchen", "alice", alice)

	bob := &MockConnection{}
	h.Join(1, "bedroom", "bob", bob)

	if alice.received(network.MsgTypePlayerJoined) != 1 {
		t.Error("Existing member should be told about the new player")
	}
	if bob.received(network.MsgTypePlayerJoined) != 0 {
		t.Error("Joining player must not receive its own join event")
	}
}

func TestHub_LeaveAnnouncesDeparture(t *testing.T) {
	h := NewHub()

	alice := &MockConnection{}
	h.Join(1, "kitchen", "alice", alice)
	bob := &MockConnection{}
	sub := h.Join(1, "bedroom", "bob", bob)

	h.Leave(sub.ID)

	if alice.received(network.MsgTypePlayerLeft) != 1 {
		t.Error("Remaining member should be told about the departure")
	}
	if h.Count() != 1 {
		t.Errorf("Expected 1 subscriber after leave, got %d", h.Count())
	}

	// A second leave for the same id changes nothing.
	h.Leave(sub.ID)
	if alice.received(network.MsgTypePlayerLeft) != 1 {
		t.Error("Duplicate leave must not re-announce")
	}
}

func TestHub_PublishScopes(t *testing.T) {
	h := NewHub()

	kitchenConn := &MockConnection{}
	h.Join(1, "kitchen", "alice", kitchenConn)
	bedroomConn := &MockConnection{}
	h.Join(1, "bedroom", "bob", bedroomConn)
	otherSessionConn := &MockConnection{}
	h.Join(2, "kitchen", "carol", otherSessionConn)

	h.Publish(1, "", network.MsgTypeCompletionChanged, []byte("{}"))
	if kitchenConn.received(network.MsgTypeCompletionChanged) != 1 ||
		bedroomConn.received(network.MsgTypeCompletionChanged) != 1 {
		t.Error("Session publish should reach every session member")
	}
	if otherSessionConn.received(network.MsgTypeCompletionChanged) != 0 {
		t.Error("Session publish must not leak into other sessions")
	}

	h.PublishRoom(1, "kitchen", "", network.MsgTypePuzzleStateChanged, []byte("{}"))
	if kitchenConn.received(network.MsgTypePuzzleStateChanged) != 1 {
		t.Error("Room publish should reach the room member")
	}
	if bedroomConn.received(network.MsgTypePuzzleStateChanged) != 0 {
		t.Error("Room publish must not reach other rooms")
	}

	h.PublishGlobal(network.MsgTypeGameReset, []byte("{}"))
	for name, conn := range map[string]*MockConnection{
		"kitchen": kitchenConn, "bedroom": bedroomConn, "other": otherSessionConn,
	} {
		if conn.received(network.MsgTypeGameReset) != 1 {
			t.Errorf("Global publish should reach %s", name)
		}
	}
}

func TestHub_PublishSkipsActor(t *testing.T) {
	h := NewHub()

	actorConn := &MockConnection{}
	actor := h.Join(1, "kitchen", "alice", actorConn)
	otherConn := &MockConnection{}
	h.Join(1, "kitchen", "bob", otherConn)

	h.PublishRoom(1, "kitchen", actor.ID, network.MsgTypeLocked, []byte("{}"))
	if actorConn.received(network.MsgTypeLocked) != 0 {
		t.Error("Actor should be skipped")
	}
	if otherConn.received(network.MsgTypeLocked) != 1 {
		t.Error("Other room members should still be reached")
	}
}

func TestHub_DeadConnectionDropped(t *testing.T) {
	h := NewHub()

	dead := &MockConnection{sendErr: errors.New("broken pipe")}
	h.Join(1, "kitchen", "alice", dead)
	alive := &MockConnection{}
	h.Join(1, "bedroom", "bob", alive)

	h.Publish(1, "", network.MsgTypeCompletionChanged, []byte("{}"))

	if h.Count() != 1 {
		t.Errorf("Expected dead subscriber to be dropped, count is %d", h.Count())
	}
	if alive.received(network.MsgTypeCompletionChanged) != 1 {
		t.Error("Healthy subscriber should still receive the message")
	}
}

func TestHub_Reset(t *testing.T) {
	h := NewHub()

	alice := &MockConnection{}
	h.Join(1, "kitchen", "alice", alice)
	h.Join(2, "bedroom", "bob", &MockConnection{})

	h.Reset()
	if h.Count() != 0 {
		t.Errorf("Expected 0 subscribers after reset, got %d", h.Count())
	}
	if len(h.SessionMembers(1)) != 0 {
		t.Error("Session scope should be empty after reset")
	}

	// No departure events, and no deliveries to the dropped subscribers.
	if alice.received(network.MsgTypePlayerLeft) != 0 {
		t.Error("Reset must not publish presence events")
	}
	h.Publish(1, "", network.MsgTypeCompletionChanged, []byte("{}"))
	if alice.received(network.MsgTypeCompletionChanged) != 0 {
		t.Error("Dropped subscriber must not receive publishes")
	}

	// Rejoining works from scratch.
	h.Join(1, "kitchen", "alice", alice)
	if h.Count() != 1 {
		t.Errorf("Expected 1 subscriber after rejoin, got %d", h.Count())
	}
}

func TestHub_SessionMembers(t *testing.T) {
	h := NewHub()

	h.Join(1, "kitchen", "alice", &MockConnection{})
	h.Join(1, "bedroom", "bob", &MockConnection{})
	h.Join(2, "kitchen", "carol", &MockConnection{})

	members := h.SessionMembers(1)
	if len(members) != 2 {
		t.Fatalf("Expected 2 members in session 1, got %d", len(members))
	}
	names := map[string]string{}
	for _, m := range members {
		names[m.PlayerName] = m.Room
	}
	if names["alice"] != "kitchen" || names["bob"] != "bedroom" {
		t.Errorf("Unexpected member set: %v", names)
	}
}
