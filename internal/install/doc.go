// Package install runs the multi-step application installation workflow:
// validate the target, resolve version pins from the remote manifest,
// provision the interpreter, create the isolated environment, and install
// the application package. Each step is cancelable at its boundary, with
// idempotent skip logic and a repair variant that rebuilds the environment
// from scratch.
//
// Steps shell out to the uv tool through a single-command runner; the
// runner is injected so tests exercise the sequencing without spawning
// processes.
package install
