package database

import (
	"fmt"
	"path/filepath"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/config"
)

// NewJournalFromConfig creates a Journal implementation based on the database config type.
func NewJournalFromConfig(cfg config.DatabaseConfig, hostID string) (archive.Journal, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, hostID+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	journal, err := NewSQLiteJournal(path)
	if err != nil {
		return nil, err
	}
	return journal, nil
}
