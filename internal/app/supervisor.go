package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/install"
	"github.com/invoke-ai/launcher/internal/terminal"
)

var (
	// ErrAlreadyRunning reports a start while the server is supervised.
	ErrAlreadyRunning = errors.New("application is already running")
	// ErrNotRunning reports an operation that needs a live server.
	ErrNotRunning = errors.New("application is not running")
	// ErrNoEndpoint reports a reopen before the server ever became ready.
	ErrNoEndpoint = errors.New("no known application endpoint")
)

// readyPattern matches the server's readiness signal and captures the
// announced URL.
var readyPattern = regexp.MustCompile(`Uvicorn running on (https?://\S+)`)

// StartOptions tune the environment composed for the server process.
type StartOptions struct {
	// ServeLAN binds the server to all interfaces for LAN access.
	ServeLAN bool `json:"serveLAN"`
	// PartialLoading enables partial model loading into VRAM.
	PartialLoading bool `json:"partialLoading"`
	// ComputeFallback forces CPU fallback for operations the platform's
	// accelerator does not implement. Only meaningful on macOS.
	ComputeFallback bool `json:"computeFallback"`
}

// Supervisor starts and watches the application server. State machine:
// starting -> running -> exiting -> exited|error, with window-crashed
// reachable only from running while the server survives its surface.
type Supervisor struct {
	manager *terminal.Manager
	board   *bridge.Board
	logger  *logging.Logger

	mu       sync.Mutex
	session  *terminal.Session
	endpoint *Endpoint
}

// NewSupervisor creates an application supervisor.
func NewSupervisor(manager *terminal.Manager, board *bridge.Board, logger *logging.Logger) *Supervisor {
	return &Supervisor{manager: manager, board: board, logger: logger}
}

// Start validates the install at dir and spawns the server. The first-run
// marker, if present, is consumed here.
func (s *Supervisor) Start(dir string, opts StartOptions) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	desc := install.Probe(dir)
	if !desc.IsInstalled {
		s.board.Set(bridge.RoleApp, bridge.StateStarting, "validating install")
		msg := fmt.Sprintf("no usable installation at %s", dir)
		s.board.Set(bridge.RoleApp, bridge.StateError, msg)
		return errors.New(msg)
	}

	s.consumeFirstRunMarker(dir)

	env := []string{
		"INVOKEAI_ROOT=" + dir,
		"PYTHONUNBUFFERED=1",
		"FORCE_COLOR=1",
	}
	if opts.ServeLAN {
		env = append(env, "INVOKEAI_HOST=0.0.0.0")
	}
	if opts.PartialLoading {
		env = append(env, "INVOKEAI_ENABLE_PARTIAL_LOADING=1")
	}
	if opts.ComputeFallback && runtime.GOOS == "darwin" {
		env = append(env, "PYTORCH_ENABLE_MPS_FALLBACK=1")
	}

	watcher := terminal.NewWatcher(readyPattern, func(chunk string) bool {
		return strings.Contains(chunk, "Uvicorn")
	}, s.onReady)

	if err := s.board.Set(bridge.RoleApp, bridge.StateStarting, "starting "+desc.Version); err != nil {
		return err
	}

	session, err := s.manager.Create(terminal.CreateOptions{
		Role:    bridge.RoleApp,
		Command: desc.ExecutablePath,
		Dir:     dir,
		Env:     env,
		OnData: func(chunk string) {
			s.board.Output(bridge.RoleApp, chunk)
			watcher.Check(chunk)
		},
		OnExit: s.onExit,
	})
	if err != nil {
		msg := fmt.Sprintf("failed to start application: %v", err)
		s.board.Set(bridge.RoleApp, bridge.StateError, msg)
		return err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.logger.Info("application starting",
		zap.String("dir", dir),
		zap.String("executable", desc.ExecutablePath),
		zap.String("version", desc.Version),
	)
	return nil
}

// Exit requests a graceful shutdown of the server.
func (s *Supervisor) Exit() error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return ErrNotRunning
	}

	s.board.Set(bridge.RoleApp, bridge.StateExiting, "shutting down")
	s.manager.Dispose(session.ID)
	return nil
}

// SurfaceCrashed records the death of the display surface while the server
// is still alive. The server process is deliberately left untouched and
// the endpoint retained so a fresh surface can rebind.
func (s *Supervisor) SurfaceCrashed(reason string) error {
	classified := ClassifyCrash(reason)
	s.logger.Warn("display surface terminated abnormally",
		zap.String("reason", string(classified)),
	)
	return s.board.Set(bridge.RoleApp, bridge.StateWindowCrashed, string(classified))
}

// Reopen returns the last known endpoint so the UI can bind a fresh
// display surface, transitioning back to running after a surface crash.
func (s *Supervisor) Reopen() (Endpoint, error) {
	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()
	if endpoint == nil {
		return Endpoint{}, ErrNoEndpoint
	}

	if s.board.Get(bridge.RoleApp).State == bridge.StateWindowCrashed {
		if err := s.board.Set(bridge.RoleApp, bridge.StateRunning, "surface reattached"); err != nil {
			return Endpoint{}, err
		}
	}
	return *endpoint, nil
}

// Endpoint returns the last known running endpoint, if any.
func (s *Supervisor) Endpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return Endpoint{}, false
	}
	return *s.endpoint, true
}

// Running reports whether a server process is currently supervised.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *Supervisor) onReady(raw string) {
	endpoint, err := NormalizeEndpoint(raw, primaryAddress())
	if err != nil {
		s.logger.Warn("unusable readiness endpoint", zap.String("raw", raw), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.endpoint = &endpoint
	s.mu.Unlock()

	s.logger.Info("application ready",
		zap.String("loopback", endpoint.Loopback),
		zap.String("lan", endpoint.LAN),
	)
	s.board.Set(bridge.RoleApp, bridge.StateRunning, endpoint.Loopback)
}

// onExit classifies the server's termination. Signal-terminated counts as
// a normal exit: it only occurs in response to an explicit shutdown
// request.
func (s *Supervisor) onExit(status terminal.ExitStatus) {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if status.Signal != "" || status.Code == 0 {
		s.board.Set(bridge.RoleApp, bridge.StateExited, "")
		return
	}

	msg := fmt.Sprintf("application exited with code %d", status.Code)
	s.board.Log(bridge.LevelError, msg)
	s.board.Set(bridge.RoleApp, bridge.StateError, msg)
}

func (s *Supervisor) consumeFirstRunMarker(dir string) {
	marker := filepath.Join(dir, install.FirstRunMarker)
	err := os.Remove(marker)
	switch {
	case err == nil:
		s.board.Log(bridge.LevelInfo, "first launch since install; initial startup may take longer")
	case os.IsNotExist(err):
	default:
		// Informational only; a stale marker never blocks a launch.
		s.logger.Info("could not delete first-run marker", zap.Error(err))
	}
}
