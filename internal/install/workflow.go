package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/invoke-ai/launcher/internal/bridge"
	"github.com/invoke-ai/launcher/internal/infrastructure/logging"
	"github.com/invoke-ai/launcher/internal/terminal"
)

// ErrBusy reports that an installation is already in flight.
var ErrBusy = errors.New("an installation is already running")

// Runner abstracts the single-command runner so tests can stub process
// execution. *terminal.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, command string, args []string, opts terminal.RunOptions) (<-chan terminal.Result, error)
	Kill(wait bool, timeout time.Duration) error
}

// Recorder receives step timing observations. Optional.
type Recorder interface {
	InstallStepDuration(step string, seconds float64)
}

// StepError is a subprocess or precondition failure attributed to a named
// workflow step. Distinct from cancellation, which is never wrapped in one.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Request describes one installation run.
type Request struct {
	Dir     string  `json:"path"`
	GPU     GPUType `json:"gpuType"`
	Version string  `json:"version"`
	Repair  bool    `json:"repair"`
}

// Workflow is the sequenced, cancelable installation state machine. A
// single cooperative cancellation token is shared across all steps and
// checked at every step boundary, so a cancellation requested between two
// steps is honored without spawning the next child.
type Workflow struct {
	board    *bridge.Board
	runner   Runner
	pins     PinResolver
	logger   *logging.Logger
	recorder Recorder
	uvPath   string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates an install workflow shelling out to uv at uvPath.
func New(board *bridge.Board, runner Runner, pins PinResolver, uvPath string, logger *logging.Logger) *Workflow {
	if uvPath == "" {
		uvPath = "uv"
	}
	return &Workflow{
		board:  board,
		runner: runner,
		pins:   pins,
		logger: logger,
		uvPath: uvPath,
	}
}

// WithRecorder attaches a metrics recorder.
func (w *Workflow) WithRecorder(r Recorder) *Workflow {
	w.recorder = r
	return w
}

// Start launches the workflow asynchronously. Returns ErrBusy if a run is
// already in flight.
func (w *Workflow) Start(req Request) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.board.Set(bridge.RoleInstall, bridge.StateStarting, "preparing installation"); err != nil {
		w.finish()
		return err
	}

	w.logger.Info("install requested",
		zap.String("dir", req.Dir),
		zap.String("version", req.Version),
		zap.String("gpu", string(req.GPU)),
		zap.Bool("repair", req.Repair),
	)

	go w.run(ctx, req)
	return nil
}

// Cancel requests cooperative cancellation: marks status canceling, kills
// any in-flight child, and lets the next step-boundary check short-circuit.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	running := w.running
	cancel := w.cancel
	w.mu.Unlock()
	if !running {
		return
	}

	w.board.Set(bridge.RoleInstall, bridge.StateCanceling, "cancellation requested")
	cancel()
	w.runner.Kill(false, 0)
}

// Running reports whether a workflow run is in flight.
func (w *Workflow) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Workflow) finish() {
	w.mu.Lock()
	w.running = false
	w.cancel = nil
	w.mu.Unlock()
}

func (w *Workflow) run(ctx context.Context, req Request) {
	defer w.finish()

	err := w.execute(ctx, req)
	switch {
	case err == nil:
		// A cancel that lands after the last step boundary still resolves
		// the run: the completed transition is rejected from canceling, so
		// settle on canceled rather than leaving the machine in flight.
		if err := w.board.Set(bridge.RoleInstall, bridge.StateCompleted, "installation complete"); err != nil {
			w.board.Set(bridge.RoleInstall, bridge.StateCanceled, "installation canceled")
			w.board.Log(bridge.LevelInfo, "installation canceled")
			return
		}
		w.board.Log(bridge.LevelInfo, "installation complete")

	case errors.Is(err, context.Canceled):
		// A first-class outcome, never conflated with error.
		w.board.Set(bridge.RoleInstall, bridge.StateCanceled, "installation canceled")
		w.board.Log(bridge.LevelInfo, "installation canceled")

	default:
		message := err.Error()
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			message = fmt.Sprintf("%s (retry with repair mode if the problem persists)", message)
		}
		w.logger.Error("installation failed", zap.Error(err))
		w.board.Set(bridge.RoleInstall, bridge.StateError, message)
		w.board.Log(bridge.LevelError, message)
	}
}

// execute runs the step sequence. Every step begins with a cancellation
// check; subprocess steps additionally propagate ctx into the spawn.
func (w *Workflow) execute(ctx context.Context, req Request) error {
	// Step 1: preconditions, before any process spawns.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.validate(req); err != nil {
		return err
	}

	// Step 2: resolve version pins from the remote manifest.
	if err := ctx.Err(); err != nil {
		return err
	}
	pins, err := w.pins.Resolve(ctx, req.Version)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StepError{Step: "resolve-pins", Err: err}
	}
	variant, err := SelectVariant(runtime.GOOS, req.GPU, pins)
	if err != nil {
		return &StepError{Step: "resolve-pins", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.board.Set(bridge.RoleInstall, bridge.StateInstalling, "installing"); err != nil {
		return err
	}

	// Step 3: provision the interpreter, skipped when a version-matching
	// one is already present and no repair was requested.
	if err := ctx.Err(); err != nil {
		return err
	}
	desc := Probe(req.Dir)
	if req.Repair || MajorMinor(desc.InterpreterVersion) != MajorMinor(pins.Python) {
		args := []string{"python", "install", pins.Python}
		if req.Repair {
			args = append(args, "--reinstall")
		}
		if err := w.step(ctx, "install-interpreter", args); err != nil {
			return err
		}
	} else {
		w.logger.Info("interpreter already matches pin, skipping",
			zap.String("installed", desc.InterpreterVersion),
			zap.String("pin", pins.Python),
		)
	}

	// Step 4: create the isolated environment, recreating it in repair mode.
	if err := ctx.Err(); err != nil {
		return err
	}
	venv := filepath.Join(req.Dir, EnvDirName)
	if req.Repair {
		if err := os.RemoveAll(venv); err != nil {
			return &StepError{Step: "create-environment", Err: err}
		}
	}
	if _, err := os.Stat(venv); os.IsNotExist(err) {
		args := []string{"venv", "--python", pins.Python, venv}
		if err := w.step(ctx, "create-environment", args); err != nil {
			return err
		}
	}

	// Step 5: install the application package from the variant's index.
	if err := ctx.Err(); err != nil {
		return err
	}
	pkg := appPackage + "==" + strings.TrimPrefix(req.Version, "v")
	args := []string{"pip", "install", "--python", interpreterPath(venv), pkg}
	args = append(args, variant.Extras...)
	if variant.Index != "" {
		args = append(args, "--index", variant.Index)
	}
	if req.Repair {
		args = append(args, "--reinstall")
	}
	if err := w.step(ctx, "install-package", args); err != nil {
		return err
	}

	// Step 6: mark the next launch as the first since this install.
	if err := ctx.Err(); err != nil {
		return err
	}
	marker := filepath.Join(req.Dir, FirstRunMarker)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return &StepError{Step: "write-marker", Err: err}
	}

	return nil
}

// validate fails fast on bad preconditions without spawning anything.
func (w *Workflow) validate(req Request) error {
	info, err := os.Stat(req.Dir)
	if err != nil {
		return &StepError{Step: "validate", Err: fmt.Errorf("install directory %s: %w", req.Dir, err)}
	}
	if !info.IsDir() {
		return &StepError{Step: "validate", Err: fmt.Errorf("install path %s is not a directory", req.Dir)}
	}
	if req.Version == "" {
		return &StepError{Step: "validate", Err: errors.New("version is required")}
	}
	if err := supportedPlatform(runtime.GOOS, runtime.GOARCH); err != nil {
		return &StepError{Step: "validate", Err: err}
	}
	if _, err := exec.LookPath(w.uvPath); err != nil {
		return &StepError{Step: "validate", Err: fmt.Errorf("required tool not found: %w", err)}
	}
	return nil
}

// step spawns one uv invocation, streaming its output onto the bridge. The
// cancellation token is checked before spawning and propagated into the
// spawn so an in-flight wait is interruptible.
func (w *Workflow) step(ctx context.Context, name string, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.logger.Info("install step", zap.String("step", name), zap.Strings("args", args))
	start := time.Now()

	future, err := w.runner.Run(ctx, w.uvPath, args, terminal.RunOptions{
		OnData: func(chunk string) {
			w.board.Output(bridge.RoleInstall, chunk)
		},
	})
	if err != nil {
		return &StepError{Step: name, Err: err}
	}

	res := <-future
	if w.recorder != nil {
		w.recorder.InstallStepDuration(name, time.Since(start).Seconds())
	}

	// A child killed by cancellation is cancellation, not failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if res.Err != nil {
		return &StepError{Step: name, Err: res.Err}
	}
	if res.Code != 0 {
		return &StepError{Step: name, Err: fmt.Errorf("%s exited with code %d", w.uvPath, res.Code)}
	}
	return nil
}

// supportedPlatform rejects hosts the application does not ship for.
func supportedPlatform(goos, goarch string) error {
	switch goos {
	case "linux":
		if goarch != "amd64" && goarch != "arm64" {
			return fmt.Errorf("unsupported architecture %s/%s", goos, goarch)
		}
	case "windows":
		if goarch != "amd64" {
			return fmt.Errorf("unsupported architecture %s/%s", goos, goarch)
		}
	case "darwin":
		if goarch != "arm64" {
			return fmt.Errorf("unsupported architecture %s/%s (Apple silicon required)", goos, goarch)
		}
	default:
		return fmt.Errorf("unsupported platform %s", goos)
	}
	return nil
}
