package onvif

import (
	"github.com/rs/zerolog"
)

// EventLevel distinguishes informational events from failures
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelError EventLevel = "error"
)

// Event is a one-way notification emitted by a controller
type Event struct {
	Device  string     `json:"device"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
}

// Sink receives controller events. Notify must not block for long; it is
// called from the controller's goroutines.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Notify(Event) {}

// LogSink writes events to a zerolog logger
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(e Event) {
	ev := s.Logger.Info()
	if e.Level == LevelError {
		ev = s.Logger.Error()
	}
	ev.Str("device", e.Device).Msg(e.Message)
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

func (m MultiSink) Notify(e Event) {
	for _, s := range m {
		s.Notify(e)
	}
}
