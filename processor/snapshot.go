package processor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"coinflow/logger"
	"coinflow/models"
)

// FileStore persists the snapshot as a single JSON file, rewritten wholesale
// on every save. Separate paths per environment keep test runs away from
// production data.
type FileStore struct {
	path string
	log  *logger.Log
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, log: logger.GetLogger()}
}

// Save writes the complete snapshot through a temp file and rename so a crash
// mid-write never leaves a truncated snapshot behind.
func (s *FileStore) Save(coins []models.Coin) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.Marshal(coins)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	logger.IncrementSnapshotSave(len(data))
	s.log.WithComponent("snapshot_store").WithFields(logger.Fields{
		"path":  s.path,
		"coins": len(coins),
		"bytes": len(data),
	}).Debug("snapshot file written")
	return nil
}

// Load reads the stored snapshot. A missing file yields an empty dataset; a
// corrupt or unreadable file is deleted and also yields an empty dataset, so
// startup never fails on bad local state.
func (s *FileStore) Load() ([]models.Coin, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.WithComponent("snapshot_store").WithError(err).WithFields(logger.Fields{
			"path": s.path,
		}).Warn("snapshot file unreadable, resetting")
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.WithComponent("snapshot_store").WithError(rmErr).Warn("failed to remove snapshot file")
		}
		return nil, nil
	}

	var coins []models.Coin
	if err := json.Unmarshal(data, &coins); err != nil {
		s.log.WithComponent("snapshot_store").WithError(err).WithFields(logger.Fields{
			"path": s.path,
		}).Warn("snapshot file corrupt, resetting")
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.WithComponent("snapshot_store").WithError(rmErr).Warn("failed to remove snapshot file")
		}
		return nil, nil
	}

	return coins, nil
}
