// puzzle/chain.go
package puzzle

import (
	"errors"
	"sync"

	"github.com/wfunc/escapehub/models"
)

var (
	ErrUnknownStep   = errors.New("unknown puzzle step")
	ErrStepNotActive = errors.New("puzzle step not active")
	ErrUnknownRoom   = errors.New("unknown room")
)

// Chain 房间内的有序解谜链
//
// Steps unlock strictly in order: the first step starts active, completing
// the active step activates the next, and the room is complete when the last
// step is done. One generic type replaces per-room duplicated FSMs.
type Chain struct {
	room  string
	steps []string

	mutex  sync.RWMutex
	status map[string]models.StepStatus
}

// NewChain creates a chain for room with the given ordered step names.
func NewChain(room string, steps []string) *Chain {
	c := &Chain{
		room:  room,
		steps: steps,
	}
	c.reset()
	return c
}

func (c *Chain) reset() {
	status := make(map[string]models.StepStatus, len(c.steps))
	for i, step := range c.steps {
		if i == 0 {
			status[step] = models.StepActive
		} else {
			status[step] = models.StepLocked
		}
	}
	c.status = status
}

func (c *Chain) Room() string {
	return c.room
}

// CompleteStep marks the active step done and activates the next one.
// Completing a locked or already-done step is rejected so clients cannot
// skip ahead in the chain.
func (c *Chain) CompleteStep(step string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	status, exists := c.status[step]
	if !exists {
		return ErrUnknownStep
	}
	if status != models.StepActive {
		return ErrStepNotActive
	}

	c.status[step] = models.StepDone
	for i, name := range c.steps {
		if name == step && i+1 < len(c.steps) {
			c.status[c.steps[i+1]] = models.StepActive
		}
	}
	return nil
}

// IsComplete reports whether every step in the chain is done.
func (c *Chain) IsComplete() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, status := range c.status {
		if status != models.StepDone {
			return false
		}
	}
	return true
}

// ActiveStep returns the currently active step name, or "" when complete.
func (c *Chain) ActiveStep() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, step := range c.steps {
		if c.status[step] == models.StepActive {
			return step
		}
	}
	return ""
}

// Steps returns a copy of the per-step statuses.
func (c *Chain) Steps() map[string]models.StepStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make(map[string]models.StepStatus, len(c.status))
	for step, status := range c.status {
		out[step] = status
	}
	return out
}

// LedStates 每个步骤的LED颜色: locked→off, active→red, done→green
func (c *Chain) LedStates() map[string]models.LedColor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make(map[string]models.LedColor, len(c.status))
	for step, status := range c.status {
		switch status {
		case models.StepDone:
			out[step] = models.LedGreen
		case models.StepActive:
			out[step] = models.LedRed
		default:
			out[step] = models.LedOff
		}
	}
	return out
}

// Reset returns the chain to its initial state.
func (c *Chain) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.reset()
}
