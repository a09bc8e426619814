package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
)

var (
	// ErrKillTimeout reports that a killed command did not exit in time.
	ErrKillTimeout = errors.New("timed out waiting for command to exit")
	// ErrSessionClosed reports that the owning session went away before a
	// pending command completed.
	ErrSessionClosed = errors.New("session closed before command completed")
	// ErrCommandTimeout reports a marker-protocol dispatch that expired.
	ErrCommandTimeout = errors.New("command timed out")
)

// Result is the settled outcome of a single command.
type Result struct {
	Code   int
	Signal string
	Output string
	Err    error
}

// RunOptions configures a single foreground command.
type RunOptions struct {
	Dir    string
	Env    []string
	Cols   int
	Rows   int
	OnData DataFunc
}

// Runner runs exactly one foreground command per session with native
// exit-code retrieval. Starting a new command while one is active first
// terminates the active one and waits for its future to settle, so the
// slot is truly free before reuse.
type Runner struct {
	manager *Manager
	role    bridge.Role
	logger  *logging.Logger

	mu     sync.Mutex
	active *Session
}

// killGrace bounds the wait for a displaced command's exit notification.
const killGrace = 5 * time.Second

// NewRunner creates a runner that spawns its commands under the given role.
func NewRunner(manager *Manager, role bridge.Role, logger *logging.Logger) *Runner {
	return &Runner{manager: manager, role: role, logger: logger}
}

// Run starts command and returns a future of its exit. The future settles
// exactly once: on exit, on ctx cancellation (the child is terminated and
// the exit path settles it), or on displacement by a newer Run.
func (r *Runner) Run(ctx context.Context, command string, args []string, opts RunOptions) (<-chan Result, error) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active != nil {
		r.logger.Info("displacing active command", zap.String("session_id", active.ID))
		active.terminate()
		select {
		case <-active.Exited():
		case <-time.After(killGrace):
			return nil, ErrKillTimeout
		}
	}

	result := make(chan Result, 1)
	var outMu sync.Mutex
	var out strings.Builder

	session, err := r.manager.Create(CreateOptions{
		Role:    r.role,
		Command: command,
		Args:    args,
		Dir:     opts.Dir,
		Env:     opts.Env,
		Cols:    opts.Cols,
		Rows:    opts.Rows,
		OnData: func(chunk string) {
			outMu.Lock()
			out.WriteString(chunk)
			outMu.Unlock()
			if opts.OnData != nil {
				opts.OnData(chunk)
			}
		},
		OnExit: func(status ExitStatus) {
			outMu.Lock()
			output := out.String()
			outMu.Unlock()
			result <- Result{Code: status.Code, Signal: status.Signal, Output: output}
		},
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active = session
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			session.terminate()
			<-session.Exited()
		case <-session.Exited():
		}
		r.mu.Lock()
		if r.active == session {
			r.active = nil
		}
		r.mu.Unlock()
	}()

	return result, nil
}

// Kill terminates the active command, if any. With wait set it blocks until
// the exit notification lands or the timeout elapses.
func (r *Runner) Kill(wait bool, timeout time.Duration) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return nil
	}

	active.terminate()
	if !wait {
		return nil
	}
	if timeout <= 0 {
		timeout = killGrace
	}
	select {
	case <-active.Exited():
		return nil
	case <-time.After(timeout):
		return ErrKillTimeout
	}
}

// Active reports whether a command is currently running.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
