//go:build !windows

package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/install"
	"github.com/invoke-ai/launcher/internal/terminal"
)

const readyLine = `echo "INFO:     Uvicorn running on http://0.0.0.0:9090 (Press CTRL+C to quit)"`

// writeServerInstall lays out an install whose server executable is the
// given shell script.
func writeServerInstall(t *testing.T, dir, script string) {
	t.Helper()
	venv := filepath.Join(dir, install.EnvDirName)

	require.NoError(t, os.MkdirAll(filepath.Join(venv, "bin"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(venv, "pyvenv.cfg"),
		[]byte("home = /usr/bin\nversion = 3.11.10\n"),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(venv, "bin", "invokeai-web"),
		[]byte("#!/bin/sh\n"+script+"\n"),
		0o755,
	))
	distInfo := filepath.Join(venv, "lib", "python3.11", "site-packages", "invokeai-5.10.0.dist-info")
	require.NoError(t, os.MkdirAll(distInfo, 0o755))
}

func newTestSupervisor(t *testing.T) (*Supervisor, *terminal.Manager, *bridge.Board) {
	t.Helper()
	board := bridge.NewBoard(bridge.NewBus(), logging.NewNop())
	manager := terminal.NewManager(logging.NewNop())
	t.Cleanup(manager.Teardown)
	return NewSupervisor(manager, board, logging.NewNop()), manager, board
}

func waitAppState(t *testing.T, board *bridge.Board, want bridge.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return board.Get(bridge.RoleApp).State == want
	}, 10*time.Second, 20*time.Millisecond, "never reached %s (now %s)", want, board.Get(bridge.RoleApp).State)
}

func TestStartBecomesRunningWithLoopbackEndpoint(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, readyLine+"\nexec sleep 30")

	sup, _, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))
	waitAppState(t, board, bridge.StateRunning)

	ep, ok := sup.Endpoint()
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
	assert.Equal(t, "http://127.0.0.1:9090", board.Get(bridge.RoleApp).Message)

	require.NoError(t, sup.Exit())
	waitAppState(t, board, bridge.StateExited)
	assert.False(t, sup.Running())
}

func TestServerEnvironmentCarriesRootAndHost(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir,
		`echo "root=$INVOKEAI_ROOT host=$INVOKEAI_HOST"`+"\n"+readyLine+"\nexec sleep 30")

	sup, manager, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{ServeLAN: true}))
	waitAppState(t, board, bridge.StateRunning)

	session, ok := manager.Get(bridge.RoleApp)
	require.True(t, ok)
	replay, ok := manager.Replay(session.ID)
	require.True(t, ok)
	assert.Contains(t, replay, "root="+dir)
	assert.Contains(t, replay, "host=0.0.0.0")

	require.NoError(t, sup.Exit())
	waitAppState(t, board, bridge.StateExited)
}

func TestSurfaceCrashKeepsServerAlive(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, readyLine+"\nexec sleep 30")

	sup, manager, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))
	waitAppState(t, board, bridge.StateRunning)

	require.NoError(t, sup.SurfaceCrashed("oom"))
	status := board.Get(bridge.RoleApp)
	assert.Equal(t, bridge.StateWindowCrashed, status.State)
	assert.Equal(t, "oom", status.Message)

	// The server process itself is untouched.
	assert.True(t, sup.Running())
	_, ok := manager.Get(bridge.RoleApp)
	assert.True(t, ok)

	// A fresh surface rebinds to the retained endpoint.
	ep, err := sup.Reopen()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", ep.Loopback)
	assert.Equal(t, bridge.StateRunning, board.Get(bridge.RoleApp).State)

	require.NoError(t, sup.Exit())
	waitAppState(t, board, bridge.StateExited)
}

func TestSurfaceCrashOnlyFromRunning(t *testing.T) {
	sup, _, board := newTestSupervisor(t)
	assert.Error(t, sup.SurfaceCrashed("crashed"))
	assert.Equal(t, bridge.StateUninitialized, board.Get(bridge.RoleApp).State)
}

func TestNonZeroExitReportsError(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, "exit 3")

	sup, _, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))
	waitAppState(t, board, bridge.StateError)
	assert.Contains(t, board.Get(bridge.RoleApp).Message, "code 3")
}

func TestCleanExitIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, readyLine)

	sup, _, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))
	waitAppState(t, board, bridge.StateExited)
}

func TestStartRejectsMissingInstall(t *testing.T) {
	sup, _, board := newTestSupervisor(t)
	err := sup.Start(t.TempDir(), StartOptions{})
	require.Error(t, err)
	assert.Equal(t, bridge.StateError, board.Get(bridge.RoleApp).State)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, readyLine+"\nexec sleep 30")

	sup, _, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))
	waitAppState(t, board, bridge.StateRunning)

	assert.ErrorIs(t, sup.Start(dir, StartOptions{}), ErrAlreadyRunning)

	require.NoError(t, sup.Exit())
	waitAppState(t, board, bridge.StateExited)
}

func TestFirstRunMarkerConsumedOnStart(t *testing.T) {
	dir := t.TempDir()
	writeServerInstall(t, dir, readyLine)
	marker := filepath.Join(dir, install.FirstRunMarker)
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	sup, _, board := newTestSupervisor(t)
	require.NoError(t, sup.Start(dir, StartOptions{}))

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
	waitAppState(t, board, bridge.StateExited)
}

func TestReopenWithoutEndpoint(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	_, err := sup.Reopen()
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestExitWhenIdle(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	assert.ErrorIs(t, sup.Exit(), ErrNotRunning)
}
