package main

import "log"

type Logger interface {
	Log(format string, args ...any)
}

// stdLogger adapts a *log.Logger.
type stdLogger struct {
	logger *log.Logger
}

func (s *stdLogger) Log(format string, args ...any) {
	s.logger.Printf(format, args...)
}

// prefixLogger wraps a logger with a component tag.
type prefixLogger struct {
	tag  string
	base Logger
}

func (p *prefixLogger) Log(format string, args ...any) {
	p.base.Log("[%s] "+format, append([]any{p.tag}, args...)...)
}

func withPrefix(base Logger, tag string) Logger {
	if base == nil {
		return nopLogger{}
	}
	return &prefixLogger{tag: tag, base: base}
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}
