package logger

import "go.uber.org/zap"

// EventLog is the fire-and-forget event sink consumed by the routing core.
// Implementations must never block and must never panic into callers.
type EventLog interface {
	Event(name string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// ZapEventLog adapts a zap logger to the EventLog interface.
type ZapEventLog struct {
	l *zap.Logger
}

// NewEventLog wraps the provided logger. A nil logger yields a no-op sink.
func NewEventLog(l *zap.Logger) *ZapEventLog {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapEventLog{l: l}
}

// Event records a named structured event at info level.
func (e *ZapEventLog) Event(name string, fields ...zap.Field) {
	if e == nil || e.l == nil {
		return
	}
	e.l.Info(name, fields...)
}

// Error records an error-level message.
func (e *ZapEventLog) Error(msg string, fields ...zap.Field) {
	if e == nil || e.l == nil {
		return
	}
	e.l.Error(msg, fields...)
}
