// Package http exposes the launcher's REST surface: status queries, the
// install workflow, application lifecycle control and console sessions.
package http
