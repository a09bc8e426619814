// Package terminal owns pseudo-terminal sessions for child processes.
//
// A Manager indexes at most one live Session per role (console, install,
// app); creating a session for a role first disposes any prior one. Each
// session's raw PTY output is passed through an escape-sequence buffer so
// downstream consumers never observe a fragment that ends mid-sequence,
// and recent fragments are retained in a bounded history for replay to a
// late-attaching viewer.
//
// Layered on the Manager:
//   - Runner runs exactly one foreground command at a time, with native
//     exit-code retrieval and single-flight semantics.
//   - MarkerRunner recovers exit codes from an interactive shell by
//     injecting a sentinel echo after each dispatched command.
//   - Watcher scans output for a one-shot readiness pattern.
package terminal
