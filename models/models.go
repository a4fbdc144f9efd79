// models/models.go
package models

import (
	"time"
)

// LedColor is the three-valued door LED signal. Step LEDs inside a room
// additionally use LedOff for locked steps.
type LedColor string

const (
	LedOff      LedColor = "off"
	LedRed      LedColor = "red"
	LedBlinking LedColor = "blinking"
	LedGreen    LedColor = "green"
)

// StepStatus is the state of a single puzzle step inside a room chain.
type StepStatus string

const (
	StepLocked StepStatus = "locked"
	StepActive StepStatus = "active"
	StepDone   StepStatus = "done"
)

// RoomCompletionStatus 单个房间的完成状态
type RoomCompletionStatus struct {
	Completed      bool       `json:"completed"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

// GameCompletionState 整局游戏的完成状态，每个会话一份
type GameCompletionState struct {
	SessionID   int64                           `json:"session_id"`
	RoomsStatus map[string]RoomCompletionStatus `json:"rooms_status"`
	GameWon     bool                            `json:"game_won"`
	VictoryTime *time.Time                      `json:"victory_time,omitempty"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// NewGameCompletionState returns the initial all-incomplete state with
// exactly the configured room keys.
func NewGameCompletionState(sessionID int64, rooms []string) GameCompletionState {
	status := make(map[string]RoomCompletionStatus, len(rooms))
	for _, room := range rooms {
		status[room] = RoomCompletionStatus{}
	}
	return GameCompletionState{
		SessionID:   sessionID,
		RoomsStatus: status,
		UpdatedAt:   time.Now(),
	}
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the aggregator's working state.
func (s GameCompletionState) Clone() GameCompletionState {
	out := s
	out.RoomsStatus = make(map[string]RoomCompletionStatus, len(s.RoomsStatus))
	for room, status := range s.RoomsStatus {
		out.RoomsStatus[room] = status
	}
	return out
}

// AllComplete reports whether every room is completed.
func (s GameCompletionState) AllComplete() bool {
	for _, status := range s.RoomsStatus {
		if !status.Completed {
			return false
		}
	}
	return true
}

// CompletedCount 已完成房间数
func (s GameCompletionState) CompletedCount() int {
	count := 0
	for _, status := range s.RoomsStatus {
		if status.Completed {
			count++
		}
	}
	return count
}

// CompletionSnapshot is the query payload exposed to clients: cached state
// plus the live-derived door LED colors.
type CompletionSnapshot struct {
	SessionID     int64                           `json:"session_id"`
	RoomsStatus   map[string]RoomCompletionStatus `json:"rooms_status"`
	DoorLedStates map[string]LedColor             `json:"door_led_states"`
	GameWon       bool                            `json:"game_won"`
	VictoryTime   *time.Time                      `json:"victory_time,omitempty"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

// PresenceEvent 玩家进出事件
type PresenceEvent struct {
	PlayerName string `json:"player_name"`
	Room       string `json:"room"`
}

// LockEvent carries lock negotiation outcomes to subscribers.
type LockEvent struct {
	ResourceID string `json:"resource_id"`
	Holder     string `json:"holder,omitempty"`
	Reason     string `json:"reason,omitempty"` // "released" or "timeout" on unlock
}

// PuzzleStateChangedEvent is broadcast after a step inside a room advances.
type PuzzleStateChangedEvent struct {
	Room      string                `json:"room"`
	Step      string                `json:"step"`
	Status    StepStatus            `json:"status"`
	LedStates map[string]LedColor   `json:"led_states"`
	Steps     map[string]StepStatus `json:"steps"`
}

// ResetEvent 全局重置事件
type ResetEvent struct {
	Reason string `json:"reason"`
}
