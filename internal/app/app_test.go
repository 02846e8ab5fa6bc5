package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/config"
)

// bridge serves two conversations: "alpha" (id 1) with a reply thread on
// message 2, and "beta" (id 2) with a single message.
type bridge struct {
	*httptest.Server
	replyCalls atomic.Int32
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	b := &bridge{}

	conversations := map[string]string{
		"alpha": `{"id":1,"name":"alpha","kind":"channel"}`,
		"beta":  `{"id":2,"name":"beta","kind":"chat"}`,
	}
	messages := map[string]string{
		"1": `[{"id":1,"message":"hi"},{"id":2,"message":"thread","replies":{"thread_root_id":2,"latest_reply_id":11,"reply_count":2}}]`,
		"2": `[{"id":5,"message":"only"}]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversations/{name}", func(w http.ResponseWriter, r *http.Request) {
		body, ok := conversations[r.PathValue("name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":"not_found","message":"no such conversation"}`)
			return
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("GET /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"messages":%s,"next_cursor":null}`, messages[r.PathValue("id")])
	})
	mux.HandleFunc("GET /v1/conversations/{id}/messages/{root}/replies", func(w http.ResponseWriter, r *http.Request) {
		b.replyCalls.Add(1)
		fmt.Fprint(w, `{"messages":[{"id":10,"message":"r1"},{"id":11,"message":"r2"}]}`)
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("test-host", dir)
	cfg.Source.BaseURL = baseURL
	cfg.Source.TokenEnv = ""
	cfg.Source.RequestsPerSecond = 0
	cfg.Sync.Cooldown = config.Duration{Duration: time.Millisecond}
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Vaults = []config.VaultConfig{{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(dir, "vault")}}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *ArchiveApp {
	t.Helper()
	a, err := NewArchiveApp(context.Background(), cfg, operation, Options{})
	if err != nil {
		t.Fatalf("NewArchiveApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveApp_SyncAll(t *testing.T) {
	b := newBridge(t)
	cfg := testConfig(t, b.URL)
	a := newTestApp(t, cfg, "Sync")

	outcomes, err := a.SyncAll(context.Background(), []string{"alpha", "missing", "beta"}, a.DefaultSyncOptions())
	if err == nil {
		t.Fatal("SyncAll() expected error for the missing conversation")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error = %v, want it to name the failing conversation", err)
	}
	if !a.Operation().Failed() {
		t.Error("operation not marked failed")
	}

	if len(outcomes) != 3 {
		t.Fatalf("len(outcomes) = %d, want 3", len(outcomes))
	}
	for i, want := range []string{"alpha", "missing", "beta"} {
		if outcomes[i].Name != want {
			t.Errorf("outcomes[%d].Name = %q, want %q", i, outcomes[i].Name, want)
		}
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("unexpected errors: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}

	alpha := outcomes[0].Result
	if len(alpha.Snapshot) != 2 || len(alpha.Snapshot[2].ReplyMessages) != 2 {
		t.Errorf("alpha snapshot = %v", alpha.Snapshot.IDs())
	}
	if b.replyCalls.Load() != 1 {
		t.Errorf("reply fetches = %d, want 1", b.replyCalls.Load())
	}

	for _, name := range []string{"entity_1_messages.jsonl", "entity_1.json", "entity_2_messages.jsonl"} {
		if _, err := os.Stat(filepath.Join(cfg.ArchiveDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	passes, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(passes) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(passes))
	}
	statuses := map[string]string{}
	for _, p := range passes {
		statuses[p.Conversation] = p.Status
	}
	if statuses["alpha"] != archive.PassSuccess || statuses["missing"] != archive.PassError {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestArchiveApp_SyncAll_RepeatedNames(t *testing.T) {
	b := newBridge(t)
	cfg := testConfig(t, b.URL)
	cfg.Sync.Parallel = 4
	a := newTestApp(t, cfg, "Sync")

	outcomes, err := a.SyncAll(context.Background(), []string{"alpha", "beta", "alpha", "alpha"}, a.DefaultSyncOptions())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(outcomes) != 2 || outcomes[0].Name != "alpha" || outcomes[1].Name != "beta" {
		t.Fatalf("outcomes = %+v, want alpha then beta", outcomes)
	}
	if got := b.replyCalls.Load(); got != 1 {
		t.Errorf("reply fetches = %d, want 1", got)
	}

	passes, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(passes) != 2 {
		t.Errorf("len(History()) = %d, want 2", len(passes))
	}
}

func TestUniqueNames(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"empty", nil, []string{}},
		{"no repeats", []string{"a", "b"}, []string{"a", "b"}},
		{"keeps first position", []string{"b", "a", "b", "c", "a"}, []string{"b", "a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := uniqueNames(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("uniqueNames(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestArchiveApp_SyncAll_Idempotent(t *testing.T) {
	b := newBridge(t)
	cfg := testConfig(t, b.URL)
	a := newTestApp(t, cfg, "Sync")
	opts := a.DefaultSyncOptions()

	if _, err := a.SyncAll(context.Background(), []string{"alpha"}, opts); err != nil {
		t.Fatalf("first SyncAll() error = %v", err)
	}
	path := filepath.Join(cfg.ArchiveDir, "entity_1_messages.jsonl")
	first, _ := os.ReadFile(path)

	if _, err := a.SyncAll(context.Background(), []string{"alpha"}, opts); err != nil {
		t.Fatalf("second SyncAll() error = %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Errorf("archive changed on an identical pass:\n%s\n%s", first, second)
	}
	if b.replyCalls.Load() != 1 {
		t.Errorf("reply fetches = %d, want 1 (thread unchanged)", b.replyCalls.Load())
	}
}

func TestArchiveApp_PushPull(t *testing.T) {
	b := newBridge(t)
	cfg := testConfig(t, b.URL)
	a := newTestApp(t, cfg, "Sync")

	if _, err := a.SyncAll(context.Background(), []string{"beta"}, archive.SyncOptions{}); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	size, err := a.Push(2)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	copyPath := filepath.Join(cfg.Vaults[0].FSVaultRoot, "archives", "2", archive.ArchiveObjectName)
	info, err := os.Stat(copyPath)
	if err != nil {
		t.Fatalf("vault copy missing: %v", err)
	}
	if info.Size() != size {
		t.Errorf("vault copy is %d bytes, Push reported %d", info.Size(), size)
	}

	if _, err := a.Pull(2, "", false); err == nil {
		t.Error("Pull() expected error when the local archive exists")
	}

	archivePath := filepath.Join(cfg.ArchiveDir, "entity_2_messages.jsonl")
	want, _ := os.ReadFile(archivePath)
	if err := os.Remove(archivePath); err != nil {
		t.Fatal(err)
	}

	n, err := a.Pull(2, "", false)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Pull() restored %d records, want 1", n)
	}
	got, _ := os.ReadFile(archivePath)
	if string(got) != string(want) {
		t.Errorf("restored archive = %q, want %q", got, want)
	}

	if _, err := a.Pull(2, "", true); err != nil {
		t.Errorf("forced Pull() error = %v", err)
	}
}

func TestArchiveApp_NoVault(t *testing.T) {
	b := newBridge(t)
	cfg := testConfig(t, b.URL)
	cfg.Vaults = nil
	a := newTestApp(t, cfg, "VaultPush")

	if _, err := a.Push(1); err == nil {
		t.Error("Push() expected error without vaults")
	}
	if !a.Operation().Failed() {
		t.Error("operation not marked failed")
	}
}

func TestArchiveApp_InitKeys(t *testing.T) {
	b := newBridge(t)

	t.Run("test encryptor", func(t *testing.T) {
		a := newTestApp(t, testConfig(t, b.URL), "KeysInit")
		if err := a.InitKeys("secret"); err != nil {
			t.Fatalf("InitKeys() error = %v", err)
		}
		if !a.NeedsPassphrase() {
			t.Error("NeedsPassphrase() = false with encryption enabled")
		}
	})

	t.Run("encryption disabled", func(t *testing.T) {
		cfg := testConfig(t, b.URL)
		cfg.Encryption = config.EncryptionConfig{Type: "none"}
		a := newTestApp(t, cfg, "KeysInit")
		if err := a.InitKeys("secret"); err == nil {
			t.Error("InitKeys() expected error with encryption disabled")
		}
		if a.NeedsPassphrase() {
			t.Error("NeedsPassphrase() = true with encryption disabled")
		}
	})
}

func TestNewArchiveApp_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{"unknown source", func(cfg *config.Config) { cfg.Source.Type = "carrier-pigeon" }},
		{"unknown database", func(cfg *config.Config) { cfg.Database.Type = "oracle" }},
		{"unknown vault", func(cfg *config.Config) { cfg.Vaults[0].Type = "tape" }},
		{"unknown encryption", func(cfg *config.Config) { cfg.Encryption.Type = "rot13" }},
		{"no archive dir", func(cfg *config.Config) { cfg.ArchiveDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1")
			tt.modify(cfg)
			if _, err := NewArchiveApp(context.Background(), cfg, "Sync", Options{}); err == nil {
				t.Error("NewArchiveApp() expected error")
			}
		})
	}
}
