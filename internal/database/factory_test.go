package database

import (
	"os"
	"path/filepath"
	"testing"

	"tgdump-go/internal/config"
)

func TestNewJournalFromConfig(t *testing.T) {
	t.Run("memory journal", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewJournalFromConfig(cfg, "test-host-123")
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("NewJournalFromConfig() returned nil")
		}
		got.Close()
	})

	t.Run("sqlite journal", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewJournalFromConfig(cfg, "test-host-123")
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("NewJournalFromConfig() returned nil")
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dir, "test-host-123.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite journal without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewJournalFromConfig(cfg, "test-host-123")
		if err == nil {
			t.Error("NewJournalFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewJournalFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewJournalFromConfig(cfg, "test-host-123")
		if err == nil {
			t.Error("NewJournalFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewJournalFromConfig() should return nil on error")
			got.Close()
		}
	})
}
