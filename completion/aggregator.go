// completion/aggregator.go
package completion

import (
	"errors"
	"sync"
	"time"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// RoomStateProvider is the room subsystem oracle: the aggregator only needs
// a live boolean per (room, session).
type RoomStateProvider interface {
	IsComplete(sessionID int64) (bool, error)
}

// SessionStore answers whether a session id is known and still open.
type SessionStore interface {
	Exists(sessionID int64) (bool, error)
}

// StateLoader recovers a session's persisted snapshot, e.g. after a process
// restart. found is false when no snapshot was ever written.
type StateLoader interface {
	LoadCompletionState(sessionID int64) (state models.GameCompletionState, found bool, err error)
}

// Aggregator owns the canonical GameCompletionState per session and is the
// single writer of truth for door-LED and victory computation.
//
// Mutations on one session are serialized by a per-session mutex; reads copy
// a consistent snapshot. No I/O happens inside the critical section: session
// validation and provider queries run before it, persistence and broadcasts
// are the caller's post-commit steps.
type Aggregator struct {
	rooms    []string
	sessions SessionStore
	loader   StateLoader

	providerMutex sync.RWMutex
	providers     map[string]RoomStateProvider

	mutex  sync.RWMutex
	states map[int64]*sessionState
}

type sessionState struct {
	mutex sync.Mutex
	state models.GameCompletionState
}

func NewAggregator(rooms []string, sessions SessionStore) *Aggregator {
	return &Aggregator{
		rooms:     rooms,
		sessions:  sessions,
		providers: make(map[string]RoomStateProvider),
		states:    make(map[int64]*sessionState),
	}
}

// SetLoader installs the persisted-snapshot source used to seed a session's
// state on first access. Must be called before the aggregator is shared.
func (a *Aggregator) SetLoader(loader StateLoader) {
	a.loader = loader
}

// RegisterProvider binds a room name to its live state oracle.
func (a *Aggregator) RegisterProvider(room string, provider RoomStateProvider) {
	a.providerMutex.Lock()
	defer a.providerMutex.Unlock()
	a.providers[room] = provider
}

func (a *Aggregator) provider(room string) (RoomStateProvider, bool) {
	a.providerMutex.RLock()
	defer a.providerMutex.RUnlock()
	provider, exists := a.providers[room]
	return provider, exists
}

// Rooms returns the configured room set.
func (a *Aggregator) Rooms() []string {
	rooms := make([]string, len(a.rooms))
	copy(rooms, a.rooms)
	return rooms
}

// entry returns the per-session holder. On first access the persisted
// snapshot is loaded if one exists, otherwise the initial all-incomplete
// state is created. Session existence is validated before any state is
// created so actuators can never latch onto a stale or unknown session.
// All I/O happens before the map lock.
func (a *Aggregator) entry(sessionID int64) (*sessionState, error) {
	a.mutex.RLock()
	entry, exists := a.states[sessionID]
	a.mutex.RUnlock()
	if exists {
		return entry, nil
	}

	exists, err := a.sessions.Exists(sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	initial := models.NewGameCompletionState(sessionID, a.rooms)
	if a.loader != nil {
		persisted, found, err := a.loader.LoadCompletionState(sessionID)
		if err != nil {
			logger.Log.Warnf("load persisted completion state failed (session %d), starting fresh: %v", sessionID, err)
		} else if found {
			initial = a.restore(persisted)
			logger.Log.Infof("Session %d completion state restored (%d rooms complete)", sessionID, initial.CompletedCount())
		}
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if entry, exists := a.states[sessionID]; exists {
		return entry, nil
	}
	entry = &sessionState{state: initial}
	a.states[sessionID] = entry
	return entry, nil
}

// restore normalizes a persisted snapshot to the configured room set:
// unknown room keys are dropped and missing ones initialized, so the
// invariant of a full fixed key set survives configuration changes.
func (a *Aggregator) restore(persisted models.GameCompletionState) models.GameCompletionState {
	restored := models.NewGameCompletionState(persisted.SessionID, a.rooms)
	for _, room := range a.rooms {
		if status, exists := persisted.RoomsStatus[room]; exists {
			restored.RoomsStatus[room] = status
		}
	}
	restored.GameWon = persisted.GameWon
	restored.VictoryTime = persisted.VictoryTime
	return restored
}

// GetOrCreate returns the current state, initializing all rooms incomplete
// for a session seen for the first time.
func (a *Aggregator) GetOrCreate(sessionID int64) (models.GameCompletionState, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	return entry.state.Clone(), nil
}

// Sessions returns the ids of every session with in-memory state.
func (a *Aggregator) Sessions() []int64 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	ids := make([]int64, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	return ids
}

// MarkRoomComplete flips a room to completed. Idempotent: a room already
// completed keeps its original completion time and victory never re-fires.
// An unknown room name is a configuration mismatch, not an error.
func (a *Aggregator) MarkRoomComplete(sessionID int64, room string) (models.GameCompletionState, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	status, exists := entry.state.RoomsStatus[room]
	if !exists {
		logger.Log.Warnf("MarkRoomComplete: room %q not in configured set, ignoring (session %d)", room, sessionID)
		return entry.state.Clone(), nil
	}
	if status.Completed {
		return entry.state.Clone(), nil
	}

	now := time.Now()
	entry.state.RoomsStatus[room] = models.RoomCompletionStatus{
		Completed:      true,
		CompletionTime: &now,
	}
	a.evaluateVictory(&entry.state, now)
	entry.state.UpdatedAt = now
	return entry.state.Clone(), nil
}

// UnmarkRoomComplete flips a room back to incomplete. Victory is an AND of
// all rooms, so invalidating one room clears game_won and victory_time.
func (a *Aggregator) UnmarkRoomComplete(sessionID int64, room string) (models.GameCompletionState, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	if _, exists := entry.state.RoomsStatus[room]; !exists {
		logger.Log.Warnf("UnmarkRoomComplete: room %q not in configured set, ignoring (session %d)", room, sessionID)
		return entry.state.Clone(), nil
	}

	entry.state.RoomsStatus[room] = models.RoomCompletionStatus{}
	if entry.state.GameWon {
		entry.state.GameWon = false
		entry.state.VictoryTime = nil
		logger.Log.Infof("Session %d victory cleared (room %q unmarked)", sessionID, room)
	}
	entry.state.UpdatedAt = time.Now()
	return entry.state.Clone(), nil
}

// Reconcile re-derives room completion from the providers and applies the
// deltas through the same transition rules as Mark/UnmarkRoomComplete. This
// is the drift-recovery path: safe to call at any time, idempotent, and
// order-independent. Provider queries run before the critical section. A
// room with no provider, or whose provider fails, keeps its cached flag:
// reconciliation corrects drift against known ground truth, it never
// guesses from missing data.
func (a *Aggregator) Reconcile(sessionID int64) (models.GameCompletionState, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	live := make(map[string]bool, len(a.rooms))
	for _, room := range a.rooms {
		provider, exists := a.provider(room)
		if !exists {
			continue
		}
		complete, err := provider.IsComplete(sessionID)
		if err != nil {
			logger.Log.Warnf("room %q provider failed for session %d, keeping cached state: %v", room, sessionID, err)
			continue
		}
		live[room] = complete
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	now := time.Now()
	changed := false
	for _, room := range a.rooms {
		liveFlag, known := live[room]
		if !known {
			continue
		}
		status := entry.state.RoomsStatus[room]
		switch {
		case liveFlag && !status.Completed:
			entry.state.RoomsStatus[room] = models.RoomCompletionStatus{
				Completed:      true,
				CompletionTime: &now,
			}
			changed = true
		case !liveFlag && status.Completed:
			entry.state.RoomsStatus[room] = models.RoomCompletionStatus{}
			changed = true
		}
	}

	if entry.state.GameWon && !entry.state.AllComplete() {
		entry.state.GameWon = false
		entry.state.VictoryTime = nil
		changed = true
	}
	a.evaluateVictory(&entry.state, now)

	if changed {
		entry.state.UpdatedAt = now
	}
	return entry.state.Clone(), nil
}

// GetDoorLedStates computes the door LED color per room: all green once the
// game is won; otherwise blinking for a room whose live state is complete
// and red for the rest. The live re-check (instead of the cached flag)
// keeps an externally reset room from showing a stale blinking light.
func (a *Aggregator) GetDoorLedStates(sessionID int64) (map[string]models.LedColor, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return nil, err
	}

	entry.mutex.Lock()
	gameWon := entry.state.GameWon
	cached := make(map[string]bool, len(entry.state.RoomsStatus))
	for room, status := range entry.state.RoomsStatus {
		cached[room] = status.Completed
	}
	entry.mutex.Unlock()

	leds := make(map[string]models.LedColor, len(a.rooms))
	for _, room := range a.rooms {
		if gameWon {
			leds[room] = models.LedGreen
			continue
		}
		if a.liveComplete(sessionID, room, cached[room]) {
			leds[room] = models.LedBlinking
		} else {
			leds[room] = models.LedRed
		}
	}
	return leds, nil
}

// Reset restores the initial all-incomplete state.
func (a *Aggregator) Reset(sessionID int64) (models.GameCompletionState, error) {
	entry, err := a.entry(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	entry.state = models.NewGameCompletionState(sessionID, a.rooms)
	return entry.state.Clone(), nil
}

// Snapshot combines the cached state with the live door LED colors into the
// client-facing query payload.
func (a *Aggregator) Snapshot(sessionID int64) (models.CompletionSnapshot, error) {
	state, err := a.GetOrCreate(sessionID)
	if err != nil {
		return models.CompletionSnapshot{}, err
	}
	leds, err := a.GetDoorLedStates(sessionID)
	if err != nil {
		return models.CompletionSnapshot{}, err
	}
	return models.CompletionSnapshot{
		SessionID:     state.SessionID,
		RoomsStatus:   state.RoomsStatus,
		DoorLedStates: leds,
		GameWon:       state.GameWon,
		VictoryTime:   state.VictoryTime,
		UpdatedAt:     state.UpdatedAt,
	}, nil
}

// liveComplete queries the room's provider for the LED computation. With no
// provider registered the cached flag stands in. Provider failures degrade
// to incomplete: a door must never show open on bad data.
func (a *Aggregator) liveComplete(sessionID int64, room string, fallback bool) bool {
	provider, exists := a.provider(room)
	if !exists {
		return fallback
	}
	complete, err := provider.IsComplete(sessionID)
	if err != nil {
		logger.Log.Warnf("room %q provider failed for session %d: %v", room, sessionID, err)
		return false
	}
	return complete
}

// evaluateVictory flips game_won exactly once when every room is complete.
func (a *Aggregator) evaluateVictory(state *models.GameCompletionState, now time.Time) {
	if state.GameWon || !state.AllComplete() {
		return
	}
	state.GameWon = true
	t := now
	state.VictoryTime = &t
	logger.Log.Infof("Session %d - GAME WON", state.SessionID)
}
