package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/shared/id"
)

// Recorder receives session lifecycle and throughput observations. The
// monitoring package implements it; a nil recorder disables recording.
type Recorder interface {
	SessionOpened(role string)
	SessionClosed(role string)
	SessionBytes(role string, n int)
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Role    bridge.Role
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the inherited environment
	Cols    int
	Rows    int
	OnData  DataFunc
	OnExit  ExitFunc
	// HistoryLines overrides the manager default when > 0.
	HistoryLines int
}

// Manager creates, indexes and disposes PTY sessions. At most one session
// exists per role; creating a new one disposes the prior holder first.
type Manager struct {
	logger       *logging.Logger
	recorder     Recorder
	historyLines int

	mu     sync.Mutex
	byID   map[string]*Session
	byRole map[bridge.Role]*Session
}

// NewManager creates a session manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		logger:       logger,
		historyLines: DefaultHistoryLines,
		byID:         make(map[string]*Session),
		byRole:       make(map[bridge.Role]*Session),
	}
}

// WithRecorder attaches a metrics recorder.
func (m *Manager) WithRecorder(r Recorder) *Manager {
	m.recorder = r
	return m
}

// WithHistoryLines overrides the default history capacity for new sessions.
func (m *Manager) WithHistoryLines(n int) *Manager {
	if n > 0 {
		m.historyLines = n
	}
	return m
}

// Create spawns a PTY-backed child process for a role, disposing any prior
// session of that role first.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}

	// One active session per role: replace deterministically, never
	// leaving the old PTY handle to the garbage collector.
	m.mu.Lock()
	prior := m.byRole[opts.Role]
	m.mu.Unlock()
	if prior != nil {
		m.Dispose(prior.ID)
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(opts.Cols),
		Rows: uint16(opts.Rows),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	lines := m.historyLines
	if opts.HistoryLines > 0 {
		lines = opts.HistoryLines
	}

	session := &Session{
		ID:        id.NewSessionID().String(),
		Role:      opts.Role,
		Command:   opts.Command,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		escape:    NewEscapeBuffer(),
		history:   NewHistory(lines),
		onData:    opts.OnData,
		onExit:    opts.OnExit,
		cols:      opts.Cols,
		rows:      opts.Rows,
		exited:    make(chan struct{}),
	}

	m.mu.Lock()
	m.byID[session.ID] = session
	m.byRole[opts.Role] = session
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.SessionOpened(string(opts.Role))
	}
	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("role", string(opts.Role)),
		zap.String("command", opts.Command),
	)

	go m.serve(session)

	return session, nil
}

// serve is the single reader and exit notifier for a session. Running the
// read loop to completion before Wait guarantees onExit is never delivered
// ahead of buffered onData callbacks.
func (m *Manager) serve(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			m.deliver(s, buf[:n])
		}
		if err != nil {
			break
		}
	}

	// A session that ends mid-sequence still surfaces the tail bytes.
	if tail := s.escape.Flush(); tail != "" {
		s.history.Push(tail)
		if s.onData != nil {
			s.onData(tail)
		}
	}

	waitErr := s.cmd.Wait()
	status := classifyExit(s.cmd, waitErr)
	m.finish(s, status)
}

func (m *Manager) deliver(s *Session, b []byte) {
	complete, _ := s.escape.Append(string(b))
	if complete == "" {
		return
	}
	s.history.Push(complete)
	if m.recorder != nil {
		m.recorder.SessionBytes(string(s.Role), len(complete))
	}
	if s.onData != nil {
		s.onData(complete)
	}
}

// finish removes the session from the index, then delivers the exit
// notification. A callback that immediately re-queries the manager will not
// see the exited session.
func (m *Manager) finish(s *Session, status ExitStatus) {
	m.mu.Lock()
	if cur, ok := m.byID[s.ID]; ok && cur == s {
		delete(m.byID, s.ID)
	}
	if m.byRole[s.Role] == s {
		delete(m.byRole, s.Role)
	}
	m.mu.Unlock()

	s.closePTY()

	if m.recorder != nil {
		m.recorder.SessionClosed(string(s.Role))
	}
	m.logger.Info("session exited",
		zap.String("session_id", s.ID),
		zap.String("role", string(s.Role)),
		zap.Int("code", status.Code),
		zap.String("signal", status.Signal),
	)

	if s.onExit != nil {
		s.onExit(status)
	}
	close(s.exited)
}

// Write sends input to a session. Unknown or disposed ids are a no-op.
func (m *Manager) Write(sessionID string, data []byte) {
	m.mu.Lock()
	s := m.byID[sessionID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.write(data); err != nil {
		m.logger.Debug("write to session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Resize changes a session's dimensions. Unknown ids are a no-op.
func (m *Manager) Resize(sessionID string, cols, rows int) {
	m.mu.Lock()
	s := m.byID[sessionID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.resize(cols, rows); err != nil {
		m.logger.Debug("resize failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Dispose terminates a session and removes it from the index. Idempotent:
// unknown ids and repeated disposal are no-ops. Safe to call concurrently
// with an in-flight exit notification.
func (m *Manager) Dispose(sessionID string) {
	m.mu.Lock()
	s := m.byID[sessionID]
	if s != nil {
		delete(m.byID, sessionID)
		if m.byRole[s.Role] == s {
			delete(m.byRole, s.Role)
		}
	}
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.terminate()
}

// Replay returns a session's buffered recent output, or ok=false for an
// unknown id.
func (m *Manager) Replay(sessionID string) (string, bool) {
	m.mu.Lock()
	s := m.byID[sessionID]
	m.mu.Unlock()
	if s == nil {
		return "", false
	}
	return strings.Join(s.history.Get(), ""), true
}

// Get returns the live session for a role.
func (m *Manager) Get(role bridge.Role) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byRole[role]
	return s, ok
}

// Lookup returns a session by id.
func (m *Manager) Lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	return s, ok
}

// Teardown disposes all sessions. Used at daemon shutdown.
func (m *Manager) Teardown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.byID = make(map[string]*Session)
	m.byRole = make(map[bridge.Role]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.terminate()
	}
}
