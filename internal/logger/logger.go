// Package logger provides a thread-safe in-memory logger for status messages.
// Every message is kept in a bounded ring (served to the dashboard and the
// status websocket) and forwarded to a logrus sink for process output.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Levels understood by Log.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Message represents a single log message
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Logger manages in-memory log messages
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	sink     *logrus.Logger
}

// New creates a new logger with specified max message count. Output goes to
// stderr through a text-formatted logrus logger.
func New(maxSize int) *Logger {
	sink := logrus.New()
	sink.SetOutput(os.Stderr)
	sink.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return NewWithSink(maxSize, sink)
}

// NewWithSink creates a logger that forwards to an existing logrus logger.
func NewWithSink(maxSize int, sink *logrus.Logger) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		sink:     sink,
	}
}

// Discard returns a logger that keeps the ring but writes nothing out.
func Discard(maxSize int) *Logger {
	sink := logrus.New()
	sink.SetOutput(io.Discard)
	return NewWithSink(maxSize, sink)
}

// SetLevel sets the minimum level forwarded to the sink ("debug", "info",
// "warning", "error"). The in-memory ring always keeps every message.
func (l *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	l.sink.SetLevel(lvl)
	return nil
}

// Sink exposes the underlying logrus logger.
func (l *Logger) Sink() *logrus.Logger {
	return l.sink
}

// Log adds a new message to the logger
func (l *Logger) Log(level, text string) {
	l.mu.Lock()
	msg := Message{
		Timestamp: time.Now(),
		Text:      text,
		Level:     level,
	}

	l.messages = append(l.messages, msg)

	// Keep only the last maxSize messages
	if len(l.messages) > l.maxSize {
		l.messages = l.messages[len(l.messages)-l.maxSize:]
	}
	l.mu.Unlock()

	switch level {
	case LevelError:
		l.sink.Error(text)
	case LevelWarning:
		l.sink.Warn(text)
	default:
		l.sink.Info(text)
	}
}

// Info logs an info-level message
func (l *Logger) Info(text string) {
	l.Log(LevelInfo, text)
}

// Warning logs a warning-level message
func (l *Logger) Warning(text string) {
	l.Log(LevelWarning, text)
}

// Error logs an error-level message
func (l *Logger) Error(text string) {
	l.Log(LevelError, text)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Log(LevelWarning, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Log(LevelError, fmt.Sprintf(format, args...))
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}
	if n < 0 {
		n = 0
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}

	return result
}

// GetAll returns all messages (newest first)
func (l *Logger) GetAll() []Message {
	l.mu.RLock()
	n := len(l.messages)
	l.mu.RUnlock()
	return l.GetRecent(n)
}
