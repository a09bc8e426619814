package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/invoke-ai/launcher/internal/bridge"
)

// ExitStatus carries a child's exit code and, on POSIX, the terminating
// signal if any. A signal-terminated child reports Code -1.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// DataFunc receives escape-safe output fragments in arrival order.
type DataFunc func(chunk string)

// ExitFunc receives the exit status, exactly once per session, after all
// buffered data callbacks have been delivered.
type ExitFunc func(status ExitStatus)

// Session is a PTY-backed child process owned exclusively by its Manager.
type Session struct {
	ID        string
	Role      bridge.Role
	Command   string
	StartedAt time.Time

	cmd    *exec.Cmd
	ptmx   *os.File
	escape *EscapeBuffer
	history *History

	onData DataFunc
	onExit ExitFunc

	mu        sync.Mutex
	cols      int
	rows      int
	disposed  bool
	ptyClosed bool

	exited chan struct{} // closed after onExit has been delivered
}

// Exited is closed once the exit notification has been delivered and the
// session removed from its manager's index.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Dims returns the current terminal dimensions.
func (s *Session) Dims() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// write sends input to the child. Errors after disposal are expected and
// swallowed by the manager.
func (s *Session) write(data []byte) error {
	s.mu.Lock()
	if s.disposed || s.ptyClosed {
		s.mu.Unlock()
		return nil
	}
	ptmx := s.ptmx
	s.mu.Unlock()

	_, err := ptmx.Write(data)
	return err
}

// resize changes the PTY dimensions.
func (s *Session) resize(cols, rows int) error {
	s.mu.Lock()
	if s.disposed || s.ptyClosed {
		s.mu.Unlock()
		return nil
	}
	s.cols = cols
	s.rows = rows
	ptmx := s.ptmx
	s.mu.Unlock()

	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// terminate kills the child and closes the PTY. Idempotent, and safe to
// call concurrently with the exit notification: the serve goroutine is the
// only party that delivers onExit, so no double-fire is possible.
func (s *Session) terminate() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		terminateProcess(s.cmd.Process)
		// Escalate if the child ignores the polite request.
		go func(proc *os.Process) {
			select {
			case <-s.exited:
			case <-time.After(3 * time.Second):
				proc.Kill()
			}
		}(s.cmd.Process)
	}
	s.closePTY()
}

func (s *Session) closePTY() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptyClosed {
		return
	}
	s.ptyClosed = true
	s.ptmx.Close()
}
