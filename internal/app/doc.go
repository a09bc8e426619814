// Package app supervises the lifecycle of the long-running application
// server process. It spawns the server through the PTY layer, correlates
// its output against the readiness signal, normalizes the announced bind
// address into reachable URLs, and tracks the display surface bound to the
// running server, including surface crashes that the server outlives.
package app
