// services/game_service.go
package services

import (
	"github.com/wfunc/escapehub/bridge"
	"github.com/wfunc/escapehub/completion"
	"github.com/wfunc/escapehub/hub"
	"github.com/wfunc/escapehub/lock"
	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
	"github.com/wfunc/escapehub/monitor"
	"github.com/wfunc/escapehub/network"
	"github.com/wfunc/escapehub/persistence"
	"github.com/wfunc/escapehub/puzzle"
)

// GameService is the single place where a state transition and its
// notifications are sequenced: mutate aggregator state, persist the
// committed snapshot, broadcast to subscribers, then signal hardware.
// Callers never sequence those steps themselves, so a client reacting to a
// broadcast always reads the new state.
type GameService struct {
	aggregator *completion.Aggregator
	chains     *puzzle.Manager
	locks      *lock.Manager
	hub        *hub.Hub
	bridge     *bridge.Bridge
	db         persistence.Database
	mon        *monitor.Monitor
}

func NewGameService(
	aggregator *completion.Aggregator,
	chains *puzzle.Manager,
	locks *lock.Manager,
	h *hub.Hub,
	b *bridge.Bridge,
	db persistence.Database,
	mon *monitor.Monitor,
) *GameService {
	s := &GameService{
		aggregator: aggregator,
		chains:     chains,
		locks:      locks,
		hub:        h,
		bridge:     b,
		db:         db,
		mon:        mon,
	}

	// Lock timeouts originate inside the lock manager; the notification
	// policy lives here with the other fan-out rules.
	locks.SetOnExpired(func(sessionID int64, resourceID, holder string) {
		s.hub.PublishEvent(sessionID, "", network.MsgTypeUnlocked, models.LockEvent{
			ResourceID: resourceID,
			Holder:     holder,
			Reason:     "timeout",
		})
		s.updateLockGauge()
	})
	return s
}

// CompleteStep advances one room's puzzle chain. When the chain finishes,
// the room is marked complete in the aggregator and the full completion
// fan-out runs.
func (s *GameService) CompleteStep(sessionID int64, room, step string) error {
	chain, err := s.chains.Chain(sessionID, room)
	if err != nil {
		return err
	}
	if err := chain.CompleteStep(step); err != nil {
		return err
	}

	s.saveEvent(sessionID, room, "step_completed", map[string]interface{}{"step": step})
	s.hub.PublishRoomEvent(sessionID, room, "", network.MsgTypePuzzleStateChanged, models.PuzzleStateChangedEvent{
		Room:      room,
		Step:      step,
		Status:    models.StepDone,
		LedStates: chain.LedStates(),
		Steps:     chain.Steps(),
	})

	if chain.IsComplete() {
		return s.CompleteRoom(sessionID, room)
	}
	return nil
}

// CompleteRoom marks a room complete and notifies in commit order.
func (s *GameService) CompleteRoom(sessionID int64, room string) error {
	state, err := s.aggregator.MarkRoomComplete(sessionID, room)
	if err != nil {
		return err
	}

	if s.mon != nil {
		s.mon.IncRoomsCompleted()
		if state.GameWon {
			s.mon.IncGamesWon()
		}
	}
	s.persist(state)
	s.saveEvent(sessionID, room, "room_completed", nil)
	s.notifyCompletion(sessionID, state)
	return nil
}

// UncompleteRoom flips a room back to incomplete (reset path).
func (s *GameService) UncompleteRoom(sessionID int64, room string) error {
	state, err := s.aggregator.UnmarkRoomComplete(sessionID, room)
	if err != nil {
		return err
	}

	s.persist(state)
	s.saveEvent(sessionID, room, "room_uncompleted", nil)
	s.notifyCompletion(sessionID, state)
	return nil
}

// Reconcile re-derives completion from ground truth and fans out the
// result. Safe to call after any suspected partial failure.
func (s *GameService) Reconcile(sessionID int64) (models.GameCompletionState, error) {
	state, err := s.aggregator.Reconcile(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	s.persist(state)
	s.notifyCompletion(sessionID, state)
	return state, nil
}

// ResetSession restores a session's chains and completion state to their
// initial values.
func (s *GameService) ResetSession(sessionID int64) (models.GameCompletionState, error) {
	s.chains.ResetSession(sessionID)
	state, err := s.aggregator.Reset(sessionID)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	s.persist(state)
	s.saveEvent(sessionID, "", "session_reset", nil)
	s.notifyCompletion(sessionID, state)
	return state, nil
}

// GlobalReset returns every known session to its initial state, frees all
// locks, and expels every connected client. The reset broadcast goes out
// before the expulsion so clients hear why they must rejoin.
func (s *GameService) GlobalReset(reason string) {
	for _, sessionID := range s.aggregator.Sessions() {
		s.chains.ResetSession(sessionID)
		state, err := s.aggregator.Reset(sessionID)
		if err != nil {
			logger.Log.Errorf("global reset of session %d failed: %v", sessionID, err)
			continue
		}
		s.persist(state)
		s.saveEvent(sessionID, "", "global_reset", map[string]interface{}{"reason": reason})
	}
	s.locks.Reset()
	s.updateLockGauge()

	s.hub.PublishGlobalEvent(network.MsgTypeGameReset, models.ResetEvent{Reason: reason})
	s.hub.Reset()
}

// Snapshot returns the current completion snapshot for client pulls.
func (s *GameService) Snapshot(sessionID int64) (models.CompletionSnapshot, error) {
	return s.aggregator.Snapshot(sessionID)
}

// AcquireLock negotiates exclusive access to a shared prop. On grant, the
// rest of the room is told the prop is busy; the requester learns the
// outcome from the returned result.
func (s *GameService) AcquireLock(sessionID int64, room, resourceID, holder, actorID string) lock.Result {
	result := s.locks.Acquire(sessionID, resourceID, holder)
	if result.Granted {
		s.hub.PublishRoomEvent(sessionID, room, actorID, network.MsgTypeLocked, models.LockEvent{
			ResourceID: resourceID,
			Holder:     holder,
		})
		s.updateLockGauge()
	}
	return result
}

// ReleaseLock frees a held lock; stale releases change nothing and notify
// nobody.
func (s *GameService) ReleaseLock(sessionID int64, room, resourceID, holder string) bool {
	if !s.locks.Release(sessionID, resourceID, holder) {
		return false
	}
	s.hub.PublishRoomEvent(sessionID, room, "", network.MsgTypeUnlocked, models.LockEvent{
		ResourceID: resourceID,
		Holder:     holder,
		Reason:     "released",
	})
	s.updateLockGauge()
	return true
}

// notifyCompletion runs the post-commit fan-out: subscribers first, then
// the hardware channel. Both are best-effort and never unwind into the
// mutation that triggered them.
func (s *GameService) notifyCompletion(sessionID int64, state models.GameCompletionState) {
	snapshot, err := s.aggregator.Snapshot(sessionID)
	if err != nil {
		logger.Log.Errorf("snapshot for broadcast failed (session %d): %v", sessionID, err)
		return
	}
	s.hub.PublishEvent(sessionID, "", network.MsgTypeCompletionChanged, snapshot)
	s.bridge.OnCompletionChanged(sessionID, state)
}

// persist writes the committed snapshot through to the database. The
// in-memory state is authoritative; a failed write is logged and recovered
// later via Reconcile, never propagated back into the transition.
func (s *GameService) persist(state models.GameCompletionState) {
	if err := s.db.SaveCompletionState(state); err != nil {
		logger.Log.Errorf("persist completion state failed (session %d): %v", state.SessionID, err)
	}
}

func (s *GameService) saveEvent(sessionID int64, room, eventType string, payload map[string]interface{}) {
	if err := s.db.SaveEvent(sessionID, room, eventType, payload); err != nil {
		logger.Log.Errorf("persist event %s failed (session %d): %v", eventType, sessionID, err)
	}
}

func (s *GameService) updateLockGauge() {
	if s.mon != nil {
		s.mon.SetActiveLocks(s.locks.ActiveCount())
	}
}
