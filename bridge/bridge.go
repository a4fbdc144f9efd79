// bridge/bridge.go
package bridge

import (
	"errors"
	"fmt"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
)

var (
	ErrUnknownFlag = errors.New("unknown status flag")
)

// Publisher is the outbound device channel. At-most-once: a failed publish
// is logged and forgotten.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// StateSource hands the bridge the committed completion state for polling
// queries. Satisfied by the completion aggregator.
type StateSource interface {
	GetOrCreate(sessionID int64) (models.GameCompletionState, error)
}

// Bridge translates aggregated completion state into best-effort signals
// for embedded devices: an MQTT push on every completion change, and simple
// boolean answers for devices that poll over HTTP instead of holding a
// connection.
type Bridge struct {
	publisher   Publisher
	source      StateSource
	topicPrefix string
	rooms       []string
}

func NewBridge(publisher Publisher, source StateSource, topicPrefix string, rooms []string) *Bridge {
	return &Bridge{
		publisher:   publisher,
		source:      source,
		topicPrefix: topicPrefix,
		rooms:       rooms,
	}
}

// OnCompletionChanged pushes the victory flag to the device channel.
// Hardware connectivity is unreliable by design: failures are logged and
// must never abort or roll back the state transition that triggered them.
func (b *Bridge) OnCompletionChanged(sessionID int64, state models.GameCompletionState) {
	payload := "false"
	if state.GameWon {
		payload = "true"
	}
	topic := b.topicPrefix + "/game-completion/won"

	if err := b.publisher.Publish(topic, []byte(payload)); err != nil {
		logger.Log.Warnf("device publish failed on %s (session %d): %v", topic, sessionID, err)
		return
	}
	logger.Log.Infof("device publish %s = %s (session %d)", topic, payload, sessionID)
}

// PollStatus answers a stateless device poll for one boolean flag:
// "<room>_complete" per configured room, or "all_rooms_complete". Always
// reflects the latest committed state.
func (b *Bridge) PollStatus(sessionID int64, flag string) (bool, error) {
	state, err := b.source.GetOrCreate(sessionID)
	if err != nil {
		return false, err
	}

	if flag == "all_rooms_complete" {
		return state.GameWon, nil
	}
	for _, room := range b.rooms {
		if flag == room+"_complete" {
			return state.RoomsStatus[room].Completed, nil
		}
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
}

// StatusFlags returns the full boolean flag set in one read, the shape the
// ESP32 polling endpoint serves.
func (b *Bridge) StatusFlags(sessionID int64) (map[string]bool, error) {
	state, err := b.source.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	flags := make(map[string]bool, len(b.rooms)+1)
	for _, room := range b.rooms {
		flags[room+"_complete"] = state.RoomsStatus[room].Completed
	}
	flags["all_rooms_complete"] = state.GameWon
	return flags, nil
}
