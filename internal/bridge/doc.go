// Package bridge is the boundary between the orchestration core and the UI
// layer. It owns the per-role status state machines and a topic-based event
// bus that fans internal transitions, raw output, structured logs and
// resource samples out to subscribers.
//
// Status transitions are validated against the declared state machine for
// each role; an illegal transition is rejected rather than recorded. The
// latest snapshot per role is retained so a polling client can reconcile
// state it missed over push.
package bridge
