package monitor

import "log"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// AlertSinkFunc adapts a plain function to an AlertSink.
type AlertSinkFunc func(message string) error

func (f AlertSinkFunc) Send(message string) error { return f(message) }

// LogSink is the reference AlertSink: it logs and never errors.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Println(message)
	return nil
}
