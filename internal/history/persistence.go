// Package history persists the most recent finished sync session so the
// dashboard can show the last outcome across process restarts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mailvault/sync-monitor/internal/session"
)

const (
	// HistoryFileName is the name of the last-session file
	HistoryFileName = "last-session.json"
)

// Persistence defines the interface for last-session persistence
type Persistence interface {
	// SaveLast saves the finished session to persistent storage
	SaveLast(ctx context.Context, finished session.Session) error

	// LoadLast loads the last finished session from persistent storage.
	// Returns nil without error if none has been recorded yet (first run).
	LoadLast(ctx context.Context) (*session.Session, error)
}

// filePersistence implements Persistence using the local filesystem
type filePersistence struct {
	basePath string
}

// NewFilePersistence creates a file-based last-session persistence.
// basePath is the directory where the history file is stored.
func NewFilePersistence(basePath string) Persistence {
	return &filePersistence{
		basePath: basePath,
	}
}

// SaveLast saves the finished session to a JSON file
func (f *filePersistence) SaveLast(_ context.Context, finished session.Session) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	filePath := filepath.Join(f.basePath, HistoryFileName)

	// Pretty printing for readability
	data, err := json.MarshalIndent(finished, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary history file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		// Clean up temp file on error
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename history file: %w", err)
	}

	return nil
}

// LoadLast loads the last finished session from the JSON file
func (f *filePersistence) LoadLast(_ context.Context) (*session.Session, error) {
	filePath := filepath.Join(f.basePath, HistoryFileName)

	// #nosec G304 -- filePath is constructed from the configured data directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No session has finished yet
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var last session.Session
	if err := json.Unmarshal(data, &last); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history file: %w", err)
	}

	return &last, nil
}
