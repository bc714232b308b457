// Package eventlog provides a JSONL transcript of workflow activity: user
// events, state transitions, and generation calls. One file per day, one
// JSON object per line.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aegisprime/pkg/proto"
)

// EventKind tags a transcript record.
type EventKind string

const (
	KindUserEvent  EventKind = "user_event"
	KindTransition EventKind = "state_transition"
	KindGeneration EventKind = "generation"
	KindError      EventKind = "error"
)

// Record is one transcript line.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Event     string    `json:"event,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Writer appends transcript records to daily rotated JSONL files.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates a writer rotating daily in the given directory.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer := &Writer{logDir: logDir}
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return writer, nil
}

// Write appends one record. The timestamp is filled in if unset.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// UserEvent records a user event raised against the workflow.
func (w *Writer) UserEvent(sessionID string, event proto.Event, detail string) error {
	return w.Write(Record{
		SessionID: sessionID,
		Kind:      KindUserEvent,
		Event:     event.String(),
		Detail:    detail,
	})
}

// Transition records a state change.
func (w *Writer) Transition(sessionID string, from, to proto.State) error {
	return w.Write(Record{
		SessionID: sessionID,
		Kind:      KindTransition,
		From:      from.String(),
		To:        to.String(),
	})
}

// Generation records a completed generation call.
func (w *Writer) Generation(sessionID, kind, detail string) error {
	return w.Write(Record{
		SessionID: sessionID,
		Kind:      KindGeneration,
		Event:     kind,
		Detail:    detail,
	})
}

// Error records a failure.
func (w *Writer) Error(sessionID, detail string) error {
	return w.Write(Record{
		SessionID: sessionID,
		Kind:      KindError,
		Detail:    detail,
	})
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	filename := fmt.Sprintf("events-%s.jsonl", newDate)
	path := filepath.Join(w.logDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	return nil
}
