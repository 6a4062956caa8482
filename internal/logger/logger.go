// Package logger writes one JSON-lines event file per gateway session.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Directions
const (
	DirClient  = "client"
	DirBackend = "backend"
	DirGateway = "gateway"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Direction string    `json:"direction"`
	Type      string    `json:"type"`
	Size      int       `json:"size,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type Logger struct {
	mu        sync.Mutex
	file      *os.File
	enc       *json.Encoder
	sessionID string
	closed    bool
}

func NewLogger(dir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(dir, fmt.Sprintf("%s.log", sessionID))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		file:      file,
		enc:       json.NewEncoder(file),
		sessionID: sessionID,
	}, nil
}

// Log is safe on a nil Logger, which discards the entry.
func (l *Logger) Log(entry LogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	entry.Timestamp = time.Now()
	entry.SessionID = l.sessionID
	l.enc.Encode(entry)
}

func (l *Logger) LogMessage(direction, msgType string, size int) {
	l.Log(LogEntry{
		Direction: direction,
		Type:      msgType,
		Size:      size,
	})
}

func (l *Logger) LogError(direction string, err error) {
	l.Log(LogEntry{
		Direction: direction,
		Type:      "error",
		Error:     err.Error(),
	})
}

func (l *Logger) LogEvent(message string) {
	l.Log(LogEntry{
		Direction: DirGateway,
		Type:      "event",
		Message:   message,
	})
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.file.Name()
}
