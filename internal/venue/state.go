package venue

import (
	"fmt"
	"sync"

	"github.com/sawpanic/surveil/internal/model"
)

// StateMachine guards a venue connection's current model.ConnectionStatus
// and enforces legal transitions, replacing implicit boolean flags
// (is_connected, is_degraded) in the style of the teacher's CircuitState enum.
type StateMachine struct {
	mu      sync.RWMutex
	current model.ConnectionStatus
}

// NewStateMachine starts in StatusDisconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: model.StatusDisconnected}
}

// Current returns the current status.
func (s *StateMachine) Current() model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

var validTransitions = map[model.ConnectionStatus]map[model.ConnectionStatus]bool{
	model.StatusDisconnected: {
		model.StatusReconnecting: true,
		model.StatusConnected:    true,
	},
	model.StatusReconnecting: {
		model.StatusConnected:    true,
		model.StatusDisconnected: true,
	},
	model.StatusConnected: {
		model.StatusDegraded:     true,
		model.StatusDisconnected: true,
		model.StatusReconnecting: true,
	},
	model.StatusDegraded: {
		model.StatusConnected:    true,
		model.StatusDisconnected: true,
		model.StatusReconnecting: true,
	},
}

// Transition moves to next if the transition is legal, returning an error
// otherwise. A machine from NewStateMachine starts in StatusDisconnected,
// which may move to Connected or Reconnecting.
func (s *StateMachine) Transition(next model.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == next {
		return nil
	}
	if !validTransitions[s.current][next] {
		return fmt.Errorf("venue: illegal connection state transition %s -> %s", s.current, next)
	}
	s.current = next
	return nil
}
