//go:build !windows

package install

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/terminal"
)

// fakeRunner records invocations and settles each future immediately.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	exitCode func(args []string) int
}

func (f *fakeRunner) Run(ctx context.Context, command string, args []string, opts terminal.RunOptions) (<-chan terminal.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	if opts.OnData != nil {
		opts.OnData("step output\r\n")
	}

	code := 0
	if f.exitCode != nil {
		code = f.exitCode(args)
	}
	ch := make(chan terminal.Result, 1)
	ch <- terminal.Result{Code: code}
	return ch, nil
}

func (f *fakeRunner) Kill(wait bool, timeout time.Duration) error { return nil }

func (f *fakeRunner) steps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, call := range f.calls {
		out[i] = call[0]
	}
	return out
}

// gatedResolver signals when Resolve is entered and blocks until released.
type gatedResolver struct {
	pins    Pins
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, version string) (Pins, error) {
	if g.entered != nil {
		close(g.entered)
	}
	if g.release != nil {
		<-g.release
	}
	return g.pins, nil
}

// gatedStepRunner blocks the step whose first argument matches gate until
// released, then behaves like fakeRunner. Later runs pass straight through.
type gatedStepRunner struct {
	fakeRunner
	gate    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStepRunner) Run(ctx context.Context, command string, args []string, opts terminal.RunOptions) (<-chan terminal.Result, error) {
	if len(args) > 0 && args[0] == g.gate {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.fakeRunner.Run(ctx, command, args, opts)
}

type staticResolver struct{ pins Pins }

func (s staticResolver) Resolve(ctx context.Context, version string) (Pins, error) {
	return s.pins, nil
}

func newTestWorkflow(t *testing.T, runner Runner, pins PinResolver) (*Workflow, *bridge.Board) {
	t.Helper()
	board := bridge.NewBoard(bridge.NewBus(), logging.NewNop())
	// "true" stands in for uv: it exists on PATH, satisfying the
	// precondition check, and is never actually spawned by the fake.
	return New(board, runner, pins, "true", logging.NewNop()), board
}

func waitState(t *testing.T, board *bridge.Board, want bridge.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return board.Get(bridge.RoleInstall).State == want
	}, 10*time.Second, 10*time.Millisecond, "never reached %s (now %s)", want, board.Get(bridge.RoleInstall).State)
}

func TestFreshInstallStepOrder(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	waitState(t, board, bridge.StateCompleted)

	assert.Equal(t, []string{"python", "venv", "pip"}, runner.steps())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"python", "install", "3.11.10"}, runner.calls[0])
	assert.Equal(t, []string{"venv", "--python", "3.11.10", filepath.Join(dir, EnvDirName)}, runner.calls[1])
	assert.Contains(t, runner.calls[2], "invokeai==5.10.0")
	assert.Contains(t, runner.calls[2], "--index")
	assert.Contains(t, runner.calls[2], testPins.Indexes["cuda"])

	// First-run marker written on full success.
	_, err := os.Stat(filepath.Join(dir, FirstRunMarker))
	assert.NoError(t, err)
}

func TestLegacyNvidiaGetsExtraPackage(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidiaLegacy, Version: "v5.10.0"}))
	waitState(t, board, bridge.StateCompleted)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Contains(t, runner.calls[2], "xformers")
}

func TestCancelBetweenResolveAndInterpreter(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	resolver := &gatedResolver{
		pins:    testPins,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	wf, board := newTestWorkflow(t, runner, resolver)

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))

	<-resolver.entered
	wf.Cancel()
	close(resolver.release)

	waitState(t, board, bridge.StateCanceled)

	// No interpreter-install process was ever spawned.
	assert.Empty(t, runner.steps())
	assert.False(t, wf.Running())
}

func TestCancelRacingCompletionResolvesCanceled(t *testing.T) {
	dir := t.TempDir()
	runner := &gatedStepRunner{
		gate:    "pip",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	<-runner.entered

	// A cancel request whose status write lands after the run has passed
	// its final step boundary: the run can no longer observe it, but the
	// board is already in canceling.
	require.NoError(t, board.Set(bridge.RoleInstall, bridge.StateCanceling, "cancellation requested"))
	close(runner.release)

	// The run settles on canceled instead of wedging the state machine.
	waitState(t, board, bridge.StateCanceled)
	require.Eventually(t, func() bool { return !wf.Running() }, 10*time.Second, 10*time.Millisecond)

	// The machine is usable again: a fresh run starts and completes.
	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	waitState(t, board, bridge.StateCompleted)
}

func TestMatchingInterpreterSkipsInstallStep(t *testing.T) {
	dir := t.TempDir()
	// Existing 3.11.9 install; resolved pin is 3.11.10, same major.minor.
	writeFakeInstall(t, dir, "3.11.9", "5.9.0")

	runner := &fakeRunner{}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	waitState(t, board, bridge.StateCompleted)

	// Only the package install runs: interpreter matched, venv existed.
	assert.Equal(t, []string{"pip"}, runner.steps())
}

func TestRepairRebuildsEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFakeInstall(t, dir, "3.11.9", "5.9.0")

	runner := &fakeRunner{}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0", Repair: true}))
	waitState(t, board, bridge.StateCompleted)

	assert.Equal(t, []string{"python", "venv", "pip"}, runner.steps())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Contains(t, runner.calls[0], "--reinstall")
	assert.Contains(t, runner.calls[2], "--reinstall")

	// The stale environment was deleted before recreation.
	_, err := os.Stat(filepath.Join(dir, EnvDirName))
	assert.True(t, os.IsNotExist(err))
}

func TestStepFailureReportsErrorWithRepairHint(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{exitCode: func(args []string) int { return 2 }}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	waitState(t, board, bridge.StateError)

	status := board.Get(bridge.RoleInstall)
	assert.Contains(t, status.Message, "install-interpreter")
	assert.Contains(t, status.Message, "repair")
}

func TestInvalidDirectoryFailsBeforeSpawning(t *testing.T) {
	runner := &fakeRunner{}
	wf, board := newTestWorkflow(t, runner, staticResolver{pins: testPins})

	require.NoError(t, wf.Start(Request{
		Dir:     filepath.Join(t.TempDir(), "does-not-exist"),
		GPU:     GPUNvidia,
		Version: "v5.10.0",
	}))
	waitState(t, board, bridge.StateError)
	assert.Empty(t, runner.steps())
}

func TestStartWhileRunningReturnsBusy(t *testing.T) {
	dir := t.TempDir()
	resolver := &gatedResolver{
		pins:    testPins,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	wf, board := newTestWorkflow(t, &fakeRunner{}, resolver)

	require.NoError(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}))
	<-resolver.entered

	assert.ErrorIs(t, wf.Start(Request{Dir: dir, GPU: GPUNvidia, Version: "v5.10.0"}), ErrBusy)

	close(resolver.release)
	waitState(t, board, bridge.StateCompleted)
}

func TestCancelWhenIdleIsNoOp(t *testing.T) {
	wf, board := newTestWorkflow(t, &fakeRunner{}, staticResolver{pins: testPins})
	wf.Cancel()
	assert.Equal(t, bridge.StateUninitialized, board.Get(bridge.RoleInstall).State)
}
