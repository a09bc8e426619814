package bridge

import "time"

// Level classifies a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is the transport-level projection of an output fragment or an
// internal notice. Immutable once created.
type LogEntry struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Log publishes a structured log entry on the log topic.
func (b *Board) Log(level Level, message string) {
	b.bus.Publish(TopicLog, LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Output publishes a raw output fragment for a role.
func (b *Board) Output(role Role, data string) {
	b.bus.Publish(TopicOutput, OutputChunk{Role: role, Data: data})
}
