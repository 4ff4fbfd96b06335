package restq

import (
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging interface used for debug output.
// Keys and values alternate in keysAndValues.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes leveled lines to stderr via the standard log package.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger returns a console logger suitable for development.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{l: log.New(os.Stderr, "restq ", log.LstdFlags)}
}

func (s *SimpleLogger) print(level, msg string, keysAndValues []any) {
	line := level + " " + msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	s.l.Println(line)
}

// Debug implements Logger.
func (s *SimpleLogger) Debug(msg string, keysAndValues ...any) {
	s.print("DEBUG", msg, keysAndValues)
}

// Info implements Logger.
func (s *SimpleLogger) Info(msg string, keysAndValues ...any) {
	s.print("INFO", msg, keysAndValues)
}

// Warn implements Logger.
func (s *SimpleLogger) Warn(msg string, keysAndValues ...any) {
	s.print("WARN", msg, keysAndValues)
}

// Error implements Logger.
func (s *SimpleLogger) Error(msg string, keysAndValues ...any) {
	s.print("ERROR", msg, keysAndValues)
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

func fields(ev *zerolog.Event, keysAndValues []any) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return ev
}

// Debug implements Logger.
func (z *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	fields(z.l.Debug(), keysAndValues).Msg(msg)
}

// Info implements Logger.
func (z *ZerologLogger) Info(msg string, keysAndValues ...any) {
	fields(z.l.Info(), keysAndValues).Msg(msg)
}

// Warn implements Logger.
func (z *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	fields(z.l.Warn(), keysAndValues).Msg(msg)
}

// Error implements Logger.
func (z *ZerologLogger) Error(msg string, keysAndValues ...any) {
	fields(z.l.Error(), keysAndValues).Msg(msg)
}

// DebugConfig gates debug logging per concern so insight stays opt-in.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogRetries   bool
	LogRateLimit bool
	LogCircuit   bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a config with all flags on and uuid request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogRetries:   true,
		LogRateLimit: true,
		LogCircuit:   true,
		RequestIDGen: newRequestID,
	}
}
