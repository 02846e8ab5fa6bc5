package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:     "test-host-abc",
		BaseDir:    "/home/user/.local/share/tgdump",
		LogDir:     "/home/user/.local/share/tgdump/log",
		ArchiveDir: "/srv/archive",
		Source: SourceConfig{
			Type:              "http",
			BaseURL:           "http://bridge:8081",
			TokenEnv:          "BRIDGE_TOKEN",
			RequestsPerSecond: 12.5,
			Burst:             3,
			Timeout:           Duration{10 * time.Second},
		},
		Sync: SyncConfig{
			FetchReplies:  true,
			DownloadMedia: true,
			Cooldown:      Duration{1500 * time.Millisecond},
			Parallel:      4,
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/tgdump/keys/tgdump.pub",
			PrivateKeyPath: "/home/user/.local/share/tgdump/keys/tgdump.key",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/tgdump/db"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.ArchiveDir != original.ArchiveDir {
		t.Errorf("ArchiveDir = %q, want %q", got.ArchiveDir, original.ArchiveDir)
	}
	if got.Source.BaseURL != "http://bridge:8081" {
		t.Errorf("Source.BaseURL = %q, want %q", got.Source.BaseURL, "http://bridge:8081")
	}
	if got.Source.RequestsPerSecond != 12.5 {
		t.Errorf("Source.RequestsPerSecond = %v, want 12.5", got.Source.RequestsPerSecond)
	}
	if got.Source.Timeout.Duration != 10*time.Second {
		t.Errorf("Source.Timeout = %v, want 10s", got.Source.Timeout.Duration)
	}
	if got.Sync.Cooldown.Duration != 1500*time.Millisecond {
		t.Errorf("Sync.Cooldown = %v, want 1.5s", got.Sync.Cooldown.Duration)
	}
	if got.Sync.Parallel != 4 {
		t.Errorf("Sync.Parallel = %d, want 4", got.Sync.Parallel)
	}
	if !got.Sync.FetchReplies || !got.Sync.DownloadMedia {
		t.Errorf("Sync flags = %+v, want both enabled", got.Sync)
	}
	if len(got.Vaults) != 1 {
		t.Fatalf("len(Vaults) = %d, want 1", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[sync]\ncooldown = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/tgdump")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/tgdump/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/tgdump/log")
	}
	if cfg.ArchiveDir != "/data/tgdump/archive" {
		t.Errorf("ArchiveDir = %q, want %q", cfg.ArchiveDir, "/data/tgdump/archive")
	}
	if cfg.Database.DataDir != "/data/tgdump/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/tgdump/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/tgdump/keys/tgdump.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/tgdump/keys/tgdump.pub")
	}
	if cfg.Sync.Cooldown.Duration != time.Second {
		t.Errorf("Sync.Cooldown = %v, want 1s", cfg.Sync.Cooldown.Duration)
	}
	if !cfg.Sync.FetchReplies {
		t.Error("Sync.FetchReplies = false, want true")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tgdump.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tgdump.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tgdump.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Source.Timeout.Duration != 30*time.Second {
			t.Errorf("Source.Timeout = %v, want 30s", got.Source.Timeout.Duration)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/tgdump.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
