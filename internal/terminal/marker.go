package terminal

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MarkerRunner recovers exit codes from an interactive shell session rather
// than a direct child process: each dispatched command is wrapped so the
// shell echoes a single-use marker plus the exit code, and incoming output
// is scanned for it. Used only where an interactive shell wrapper is
// required; prefer Runner and its native exit codes otherwise.
type MarkerRunner struct {
	manager   *Manager
	sessionID string

	mu      sync.Mutex
	pending map[string]*pendingMarker
}

type pendingMarker struct {
	output strings.Builder
	result chan Result
	timer  *time.Timer
}

// NewMarkerRunner attaches a marker runner to an existing shell session.
// The owner must wire Scan into the session's data callback and RejectAll
// into its exit callback.
func NewMarkerRunner(manager *Manager, sessionID string) *MarkerRunner {
	return &MarkerRunner{
		manager:   manager,
		sessionID: sessionID,
		pending:   make(map[string]*pendingMarker),
	}
}

// Dispatch writes a wrapped command line into the shell and returns a
// future of its completion. The future rejects if the session goes away or
// the timeout elapses before the marker is observed; it never hangs.
func (r *MarkerRunner) Dispatch(command string, timeout time.Duration) (<-chan Result, error) {
	if _, ok := r.manager.Lookup(r.sessionID); !ok {
		return nil, ErrSessionClosed
	}

	marker := uuid.NewString()
	p := &pendingMarker{result: make(chan Result, 1)}

	r.mu.Lock()
	r.pending[marker] = p
	r.mu.Unlock()

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			r.reject(marker, ErrCommandTimeout)
		})
	}

	r.manager.Write(r.sessionID, []byte(wrapShellCommand(command, marker)+"\n"))
	return p.result, nil
}

// Scan feeds an output chunk to every pending registration, resolving the
// ones whose marker-plus-exit-code has now fully arrived.
func (r *MarkerRunner) Scan(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for marker, p := range r.pending {
		p.output.WriteString(chunk)
		if code, before, ok := findMarker(p.output.String(), marker); ok {
			delete(r.pending, marker)
			if p.timer != nil {
				p.timer.Stop()
			}
			p.result <- Result{Code: code, Output: before}
		}
	}
}

// RejectAll settles every pending future with err. Call when the owning
// session is disposed or exits.
func (r *MarkerRunner) RejectAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for marker, p := range r.pending {
		delete(r.pending, marker)
		if p.timer != nil {
			p.timer.Stop()
		}
		p.result <- Result{Code: -1, Err: err}
	}
}

// Pending returns the number of unresolved registrations.
func (r *MarkerRunner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *MarkerRunner) reject(marker string, err error) {
	r.mu.Lock()
	p, ok := r.pending[marker]
	if ok {
		delete(r.pending, marker)
	}
	r.mu.Unlock()
	if ok {
		p.result <- Result{Code: -1, Err: err}
	}
}

// findMarker locates "<marker>:<digits>" in acc, skipping the PTY's echo of
// the command line itself (where the marker is followed by the unexpanded
// "$?"). The digit run must be terminated, or implausibly long for an exit
// code, before it is trusted. A code split across chunks is left pending.
func findMarker(acc, marker string) (code int, before string, ok bool) {
	needle := marker + ":"
	from := 0
	for {
		idx := strings.Index(acc[from:], needle)
		if idx < 0 {
			return 0, "", false
		}
		idx += from
		rest := acc[idx+len(needle):]

		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 || (end == len(rest) && end < 3) {
			from = idx + 1
			continue
		}

		code, err := strconv.Atoi(rest[:end])
		if err != nil {
			from = idx + 1
			continue
		}
		return code, acc[:idx], true
	}
}
