package payable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AuditSink persists the per-workflow audit trail as it is produced, backing
// the GetAuditLog interface. Events are append-only; a sink never rewrites
// or reorders what it has already stored.
type AuditSink interface {
	// Append stores events for a workflow, preserving order.
	Append(ctx context.Context, workflowID string, events []AuditEvent) error

	// History returns all stored events for a workflow, in append order.
	History(ctx context.Context, workflowID string) ([]AuditEvent, error)
}

// FileAuditSink writes newline-delimited JSON, one file per workflow.
type FileAuditSink struct {
	directory string
}

// NewFileAuditSink creates an audit sink rooted at directory.
func NewFileAuditSink(directory string) *FileAuditSink {
	return &FileAuditSink{directory: directory}
}

func (s *FileAuditSink) auditLogPath(workflowID string) string {
	return filepath.Join(s.directory, fmt.Sprintf("%s.jsonl", workflowID))
}

func (s *FileAuditSink) Append(ctx context.Context, workflowID string, events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	filePath := s.auditLogPath(workflowID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return f.Sync()
}

func (s *FileAuditSink) History(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	data, err := os.ReadFile(s.auditLogPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []AuditEvent
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// MemoryAuditSink keeps audit trails in memory, for tests and ephemeral use.
type MemoryAuditSink struct {
	mutex  sync.RWMutex
	trails map[string][]AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{trails: map[string][]AuditEvent{}}
}

func (s *MemoryAuditSink) Append(ctx context.Context, workflowID string, events []AuditEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.trails[workflowID] = append(s.trails[workflowID], events...)
	return nil
}

func (s *MemoryAuditSink) History(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	trail := s.trails[workflowID]
	out := make([]AuditEvent, len(trail))
	copy(out, trail)
	return out, nil
}

// NullAuditSink discards events.
type NullAuditSink struct{}

func NewNullAuditSink() *NullAuditSink {
	return &NullAuditSink{}
}

func (s *NullAuditSink) Append(ctx context.Context, workflowID string, events []AuditEvent) error {
	return nil
}

func (s *NullAuditSink) History(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	return nil, nil
}
