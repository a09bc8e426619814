package terminal

import (
	"regexp"
	"sync"
)

// Watcher scans an output stream for a pattern, gated by a cheap filter
// predicate, and invokes its callback at most once. Readiness is a one-shot
// transition; the watcher never re-arms itself.
type Watcher struct {
	pattern *regexp.Regexp
	filter  func(chunk string) bool
	onMatch func(value string)

	mu    sync.Mutex
	fired bool
}

// NewWatcher creates a watcher. filter may be nil; onMatch receives the
// first capture group when the pattern has one, otherwise the whole match.
func NewWatcher(pattern *regexp.Regexp, filter func(string) bool, onMatch func(string)) *Watcher {
	return &Watcher{pattern: pattern, filter: filter, onMatch: onMatch}
}

// Check applies the filter, then the pattern, firing the callback on the
// first match. Returns true only on the firing call.
func (w *Watcher) Check(chunk string) bool {
	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	// Filter before regexp: high-volume irrelevant output skips the
	// expensive match.
	if w.filter != nil && !w.filter(chunk) {
		return false
	}

	m := w.pattern.FindStringSubmatch(chunk)
	if m == nil {
		return false
	}

	value := m[0]
	if len(m) > 1 && m[1] != "" {
		value = m[1]
	}

	w.mu.Lock()
	if w.fired {
		w.mu.Unlock()
		return false
	}
	w.fired = true
	w.mu.Unlock()

	w.onMatch(value)
	return true
}

// Fired reports whether the callback has been invoked.
func (w *Watcher) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
