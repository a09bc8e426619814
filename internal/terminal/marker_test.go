//go:build !windows

package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/launcher/internal/bridge"
)

func TestFindMarkerSkipsEchoedCommandLine(t *testing.T) {
	marker := "m-123"

	// The PTY echoes the typed command line first, where the marker is
	// followed by the unexpanded "$?".
	acc := "{ true; } && echo m-123:$?\r\nm-123:0\r\n"
	code, before, ok := findMarker(acc, marker)
	require.True(t, ok)
	assert.Equal(t, 0, code)
	assert.Contains(t, before, "echo")
}

func TestFindMarkerWaitsForTerminatedDigits(t *testing.T) {
	// A code still arriving must stay pending rather than resolve with a
	// truncated value.
	_, _, ok := findMarker("m:1", "m")
	assert.False(t, ok)

	code, _, ok := findMarker("m:12\r\n", "m")
	require.True(t, ok)
	assert.Equal(t, 12, code)
}

func TestFindMarkerAbsent(t *testing.T) {
	_, _, ok := findMarker("no sentinel here", "m-abc")
	assert.False(t, ok)
}

func newShellSession(t *testing.T, m *Manager) (*Session, *MarkerRunner) {
	t.Helper()

	var runner *MarkerRunner
	s, err := m.Create(CreateOptions{
		Role:    bridge.RoleConsole,
		Command: "sh",
		Cols:    200,
		Rows:    50,
		OnData: func(chunk string) {
			if runner != nil {
				runner.Scan(chunk)
			}
		},
		OnExit: func(ExitStatus) {
			if runner != nil {
				runner.RejectAll(ErrSessionClosed)
			}
		},
	})
	require.NoError(t, err)
	runner = NewMarkerRunner(m, s.ID)
	return s, runner
}

func TestDispatchResolvesWithExitCode(t *testing.T) {
	m := newTestManager()
	defer m.Teardown()
	_, runner := newShellSession(t, m)

	future, err := runner.Dispatch("printf inner-output", 10*time.Second)
	require.NoError(t, err)

	res := awaitResult(t, future)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.Code)
	assert.Contains(t, res.Output, "inner-output")
	assert.Equal(t, 0, runner.Pending())
}

func TestDispatchTimeoutRejects(t *testing.T) {
	m := newTestManager()
	defer m.Teardown()
	_, runner := newShellSession(t, m)

	// The wrapper only echoes the marker on success, so a failing command
	// never produces one; the hard timeout must reject regardless.
	future, err := runner.Dispatch("false", 500*time.Millisecond)
	require.NoError(t, err)

	res := awaitResult(t, future)
	assert.ErrorIs(t, res.Err, ErrCommandTimeout)
	assert.Equal(t, 0, runner.Pending())
}

func TestDispatchRejectedOnSessionDisposal(t *testing.T) {
	m := newTestManager()
	defer m.Teardown()
	s, runner := newShellSession(t, m)

	future, err := runner.Dispatch("sleep 60", 30*time.Second)
	require.NoError(t, err)

	m.Dispose(s.ID)
	res := awaitResult(t, future)
	assert.ErrorIs(t, res.Err, ErrSessionClosed)
}

func TestDispatchOnMissingSession(t *testing.T) {
	m := newTestManager()
	runner := NewMarkerRunner(m, "sess_gone")
	_, err := runner.Dispatch("true", time.Second)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
