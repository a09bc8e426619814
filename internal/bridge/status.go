package bridge

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
)

// Role identifies which orchestrated process a status or session belongs to.
type Role string

const (
	RoleConsole Role = "console"
	RoleInstall Role = "install"
	RoleApp     Role = "app"
)

// State is a node in a role's status state machine.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"

	// Install workflow states
	StateInstalling State = "installing"
	StateCanceling  State = "canceling"
	StateCanceled   State = "canceled"
	StateCompleted  State = "completed"

	// Application supervisor states
	StateRunning       State = "running"
	StateExiting       State = "exiting"
	StateExited        State = "exited"
	StateWindowCrashed State = "window-crashed"

	StateError State = "error"
)

// installTransitions and appTransitions declare the legal edges per role.
// Anything not listed is rejected by Board.Set.
var installTransitions = map[State][]State{
	StateUninitialized: {StateStarting},
	StateStarting:      {StateInstalling, StateCanceling, StateCompleted, StateCanceled, StateError},
	StateInstalling:    {StateCanceling, StateCompleted, StateError},
	StateCanceling:     {StateCanceled, StateError},
	// Terminal states restart the machine on the next workflow run.
	StateCanceled:  {StateStarting},
	StateCompleted: {StateStarting},
	StateError:     {StateStarting},
}

var appTransitions = map[State][]State{
	StateUninitialized: {StateStarting},
	StateStarting:      {StateRunning, StateExiting, StateExited, StateError},
	StateRunning:       {StateExiting, StateExited, StateError, StateWindowCrashed},
	StateExiting:       {StateExited, StateError},
	// The server outlives its display surface; a fresh surface rebinds.
	StateWindowCrashed: {StateRunning, StateExiting, StateExited, StateError},
	StateExited:        {StateStarting},
	StateError:         {StateStarting},
}

// consoleTransitions: interactive sessions only start and stop.
var consoleTransitions = map[State][]State{
	StateUninitialized: {StateStarting},
	StateStarting:      {StateRunning, StateExited, StateError},
	StateRunning:       {StateExited, StateError},
	StateExited:        {StateStarting},
	StateError:         {StateStarting},
}

func transitionsFor(role Role) map[State][]State {
	switch role {
	case RoleInstall:
		return installTransitions
	case RoleApp:
		return appTransitions
	default:
		return consoleTransitions
	}
}

// CanTransition reports whether role may move from one state to another.
func CanTransition(role Role, from, to State) bool {
	for _, next := range transitionsFor(role)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Status is an immutable snapshot of a role's state at a point in time.
type Status struct {
	Role      Role      `json:"role"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionRecorder receives accepted transitions. The monitoring package
// implements it; a nil recorder disables recording.
type TransitionRecorder interface {
	StatusTransition(role, state string)
}

// Board tracks the latest status per role and publishes every accepted
// transition on the bus.
type Board struct {
	bus      *Bus
	logger   *logging.Logger
	recorder TransitionRecorder

	mu       sync.RWMutex
	statuses map[Role]Status
}

// NewBoard creates a status board publishing to the given bus.
func NewBoard(bus *Bus, logger *logging.Logger) *Board {
	b := &Board{
		bus:      bus,
		logger:   logger,
		statuses: make(map[Role]Status),
	}
	for _, role := range []Role{RoleConsole, RoleInstall, RoleApp} {
		b.statuses[role] = Status{Role: role, State: StateUninitialized, Timestamp: time.Now()}
	}
	return b
}

// WithRecorder attaches a metrics recorder.
func (b *Board) WithRecorder(r TransitionRecorder) *Board {
	b.recorder = r
	return b
}

// Set records a transition for role. It fails if the transition is not a
// declared edge of the role's state machine.
func (b *Board) Set(role Role, state State, message string) error {
	b.mu.Lock()
	current := b.statuses[role]
	if !CanTransition(role, current.State, state) {
		b.mu.Unlock()
		b.logger.Warn("rejected status transition",
			zap.String("role", string(role)),
			zap.String("from", string(current.State)),
			zap.String("to", string(state)),
		)
		return fmt.Errorf("illegal %s transition: %s -> %s", role, current.State, state)
	}
	status := Status{Role: role, State: state, Message: message, Timestamp: time.Now()}
	b.statuses[role] = status
	b.mu.Unlock()

	b.logger.Info("status transition",
		zap.String("role", string(role)),
		zap.String("state", string(state)),
	)
	if b.recorder != nil {
		b.recorder.StatusTransition(string(role), string(state))
	}
	b.bus.Publish(TopicStatus, status)
	return nil
}

// Get returns the latest snapshot for role.
func (b *Board) Get(role Role) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statuses[role]
}

// All returns the latest snapshot for every role.
func (b *Board) All() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Status, 0, len(b.statuses))
	for _, s := range b.statuses {
		out = append(out, s)
	}
	return out
}
