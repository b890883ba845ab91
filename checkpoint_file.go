package payable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore is a file-based CheckpointStore that persists each checkpoint
// and its review-queue entry as a single JSON document under a data
// directory. The document is written to a temporary file, fsynced and
// renamed into place, so the checkpoint and queue entry appear (and later
// resolve) as one atomic unit and survive a process restart. A store-wide
// mutex linearizes same-ID operations within the process.
type FileStore struct {
	dataDir string
	mutex   sync.Mutex
}

// checkpointRecord is the on-disk document: the checkpoint plus its queue
// projection.
type checkpointRecord struct {
	Checkpoint Checkpoint       `json:"checkpoint"`
	Entry      ReviewQueueEntry `json:"queue_entry"`
}

// NewFileStore creates a file-based checkpoint store rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".payable", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) recordPath(checkpointID string) string {
	return filepath.Join(s.dataDir, checkpointID+".json")
}

// writeTemp writes the record to a synced temp file in the data directory
// and returns its path. The caller publishes it under the final name.
func (s *FileStore) writeTemp(record *checkpointRecord) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dataDir, "ckpt-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write checkpoint record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync checkpoint record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close checkpoint record: %w", err)
	}
	return tmpPath, nil
}

func (s *FileStore) writeRecord(record *checkpointRecord) error {
	tmpPath, err := s.writeTemp(record)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.recordPath(record.Checkpoint.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish checkpoint record: %w", err)
	}
	return nil
}

func (s *FileStore) readRecord(checkpointID string) (*checkpointRecord, error) {
	data, err := os.ReadFile(s.recordPath(checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(ErrorTypeCheckpointNotFound, "checkpoint %s not found", checkpointID)
		}
		return nil, fmt.Errorf("failed to read checkpoint record: %w", err)
	}
	var record checkpointRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint record: %w", err)
	}
	return &record, nil
}

func (s *FileStore) Create(ctx context.Context, checkpoint *Checkpoint, entry *ReviewQueueEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record := &checkpointRecord{Checkpoint: *checkpoint, Entry: *entry}
	record.Checkpoint.Status = CheckpointPending
	tmpPath, err := s.writeTemp(record)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	// Hard-link publish keeps creation exclusive even when another process
	// shares the data directory.
	if err := os.Link(tmpPath, s.recordPath(checkpoint.ID)); err != nil {
		if os.IsExist(err) {
			return NewError(ErrorTypeDuplicateCheckpoint, "checkpoint %s already exists", checkpoint.ID)
		}
		return fmt.Errorf("failed to publish checkpoint record: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, err := s.readRecord(checkpointID)
	if err != nil {
		return nil, err
	}
	cp := record.Checkpoint
	return &cp, nil
}

func (s *FileStore) ListPending(ctx context.Context) ([]*ReviewQueueEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	dirEntries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var entries []*ReviewQueueEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		record, err := s.readRecord(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Skip records we can't read
			continue
		}
		if record.Checkpoint.Status != CheckpointPending {
			continue
		}
		entry := record.Entry
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *FileStore) ListResolved(ctx context.Context) ([]*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	dirEntries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var resolved []*Checkpoint
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		record, err := s.readRecord(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if record.Checkpoint.Status != CheckpointResolved {
			continue
		}
		cp := record.Checkpoint
		resolved = append(resolved, &cp)
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].DecidedAt.After(resolved[j].DecidedAt)
	})
	return resolved, nil
}

func (s *FileStore) Resolve(ctx context.Context, checkpointID string, decision Decision, reviewerID, notes string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, err := s.readRecord(checkpointID)
	if err != nil {
		return nil, err
	}
	if record.Checkpoint.Status == CheckpointResolved {
		return nil, NewError(ErrorTypeAlreadyResolved, "checkpoint %s is already resolved", checkpointID)
	}

	record.Checkpoint.Status = CheckpointResolved
	record.Checkpoint.Decision = decision
	record.Checkpoint.ReviewerID = reviewerID
	record.Checkpoint.Notes = notes
	record.Checkpoint.DecidedAt = time.Now().UTC()

	if err := s.writeRecord(record); err != nil {
		return nil, err
	}
	cp := record.Checkpoint
	return &cp, nil
}
