package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"twarchive/pkg/logger"
)

const currentVersion = 1

// Checkpoint records how far a bulk fetch got through its input file.
type Checkpoint struct {
	Input     string    `json:"input"`
	Processed int       `json:"processed"` // input lines consumed, blank lines included
	Fetched   int       `json:"fetched"`
	Failed    int       `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// PathFor returns the checkpoint path that belongs to an input file.
func PathFor(input string) string {
	return input + ".checkpoint.json"
}

// NewManager creates a manager for the checkpoint at path.
func NewManager(path string, log logger.Logger) *Manager {
	return &Manager{
		checkpointPath: path,
		logger:         logger.OrDefault(log),
	}
}

// Path returns the checkpoint file location.
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create creates and saves a fresh checkpoint for input.
func (m *Manager) Create(input string) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   currentVersion,
	}
	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"input": input,
		"path":  m.checkpointPath,
	})
	return cp, nil
}

// Load loads an existing checkpoint. It returns nil, nil when there is none.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != currentVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"input":      cp.Input,
		"processed":  cp.Processed,
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"processed": cp.Processed,
		"fetched":   cp.Fetched,
		"failed":    cp.Failed,
	})
	return nil
}

// Advance marks through as the number of consumed input lines and saves.
func (m *Manager) Advance(cp *Checkpoint, through int, fetched bool) error {
	cp.Processed = through
	if fetched {
		cp.Fetched++
	} else {
		cp.Failed++
	}
	return m.Save(cp)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}
