package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry is one line of the JSONL audit log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"` // request or decision
	RequestID string         `json:"request_id"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Decision  Decision       `json:"decision,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
	Note      string         `json:"note,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FileRecorder appends audit entries to a JSONL file.
type FileRecorder struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileRecorder opens (or creates) the audit file.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileRecorder{path: path, file: f}, nil
}

func (r *FileRecorder) RecordRequest(req *Request) error {
	return r.write(LogEntry{
		Timestamp: req.CreatedAt,
		EventType: "request",
		RequestID: req.ID,
		Type:      req.Type,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
}

func (r *FileRecorder) RecordDecision(req *Request, res *Result) error {
	return r.write(LogEntry{
		Timestamp: res.DecidedAt,
		EventType: "decision",
		RequestID: req.ID,
		Type:      req.Type,
		SessionID: req.SessionID,
		Decision:  res.Decision,
		DecidedBy: res.DecidedBy,
		Note:      res.Note,
	})
}

func (r *FileRecorder) write(e LogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Path returns the audit file path.
func (r *FileRecorder) Path() string { return r.path }

// Close closes the audit file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// MultiRecorder writes to several recorders and returns the first error.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordRequest(req *Request) error {
	var first error
	for _, r := range m {
		if err := r.RecordRequest(req); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRecorder) RecordDecision(req *Request, res *Result) error {
	var first error
	for _, r := range m {
		if err := r.RecordDecision(req, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}
