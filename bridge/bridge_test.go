package bridge

import (
	"errors"
	"os"
	"testing"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

var testRooms = []string{"kitchen", "bedroom"}

type published struct {
	Topic   string
	Payload string
}

// MockPublisher is a test double for the Publisher interface.
type MockPublisher struct {
	messages []published
	err      error
}

func (m *MockPublisher) Publish(topic string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *MockPublisher) Close() {}

// MockStateSource is a test double for the StateSource interface.
type MockStateSource struct {
	state models.GameCompletionState
	err   error
}

func (m *MockStateSource) GetOrCreate(sessionID int64) (models.GameCompletionState, error) {
	return m.state, m.err
}

func wonState() models.GameCompletionState {
	state := models.NewGameCompletionState(1, testRooms)
	for _, room := range testRooms {
		state.RoomsStatus[room] = models.RoomCompletionStatus{Completed: true}
	}
	state.GameWon = true
	return state
}

func TestBridge_OnCompletionChanged(t *testing.T) {
	pub := &MockPublisher{}
	b := NewBridge(pub, &MockStateSource{}, "escape", testRooms)

	b.OnCompletionChanged(1, wonState())
	b.OnCompletionChanged(1, models.NewGameCompletionState(1, testRooms))

	if len(pub.messages) != 2 {
		t.Fatalf("Expected 2 publishes, got %d", len(pub.messages))
	}
	if pub.messages[0].Topic != "escape/game-completion/won" {
		t.Errorf("Unexpected topic %q", pub.messages[0].Topic)
	}
	if pub.messages[0].Payload != "true" {
		t.Errorf("Expected payload true, got %q", pub.messages[0].Payload)
	}
	if pub.messages[1].Payload != "false" {
		t.Errorf("Expected payload false, got %q", pub.messages[1].Payload)
	}
}

func TestBridge_PublishFailureIsSwallowed(t *testing.T) {
	pub := &MockPublisher{err: errors.New("broker down")}
	b := NewBridge(pub, &MockStateSource{}, "escape", testRooms)

	// Must not panic or propagate; the transition already committed.
	b.OnCompletionChanged(1, wonState())
}

func TestBridge_PollStatus(t *testing.T) {
	state := models.NewGameCompletionState(1, testRooms)
	state.RoomsStatus["kitchen"] = models.RoomCompletionStatus{Completed: true}
	b := NewBridge(&MockPublisher{}, &MockStateSource{state: state}, "escape", testRooms)

	complete, err := b.PollStatus(1, "kitchen_complete")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	if !complete {
		t.Error("kitchen_complete should be true")
	}

	complete, err = b.PollStatus(1, "bedroom_complete")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	if complete {
		t.Error("bedroom_complete should be false")
	}

	complete, err = b.PollStatus(1, "all_rooms_complete")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	if complete {
		t.Error("all_rooms_complete should be false")
	}

	if _, err := b.PollStatus(1, "cellar_complete"); !errors.Is(err, ErrUnknownFlag) {
		t.Errorf("Expected ErrUnknownFlag, got %v", err)
	}
}

func TestBridge_StatusFlags(t *testing.T) {
	b := NewBridge(&MockPublisher{}, &MockStateSource{state: wonState()}, "escape", testRooms)

	flags, err := b.StatusFlags(1)
	if err != nil {
		t.Fatalf("StatusFlags failed: %v", err)
	}
	if len(flags) != len(testRooms)+1 {
		t.Fatalf("Expected %d flags, got %d", len(testRooms)+1, len(flags))
	}
	for flag, value := range flags {
		if !value {
			t.Errorf("Expected %s true, got false", flag)
		}
	}
}

func TestBridge_SourceErrorPropagates(t *testing.T) {
	sourceErr := errors.New("unknown session")
	b := NewBridge(&MockPublisher{}, &MockStateSource{err: sourceErr}, "escape", testRooms)

	if _, err := b.PollStatus(1, "kitchen_complete"); !errors.Is(err, sourceErr) {
		t.Errorf("Expected source error, got %v", err)
	}
	if _, err := b.StatusFlags(1); !errors.Is(err, sourceErr) {
		t.Errorf("Expected source error, got %v", err)
	}
}
