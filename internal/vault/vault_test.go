package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"tgdump-go/internal/archive"
)

// testVaultBehavior runs the checks every archive.Vault implementation must pass.
func testVaultBehavior(t *testing.T, newVault func(t *testing.T) archive.Vault) {
	t.Helper()

	t.Run("put then get", func(t *testing.T) {
		v := newVault(t)
		data := "{\"id\":1}\n{\"id\":2}\n"

		if err := v.PutArchive(42, "messages.jsonl", strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("PutArchive() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetArchive(42, "messages.jsonl", &buf); err != nil {
			t.Fatalf("GetArchive() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("GetArchive() = %q, want %q", buf.String(), data)
		}
	})

	t.Run("put replaces previous copy", func(t *testing.T) {
		v := newVault(t)

		for _, data := range []string{"old", "newer"} {
			if err := v.PutArchive(7, "messages.jsonl", strings.NewReader(data), int64(len(data))); err != nil {
				t.Fatalf("PutArchive(%q) error = %v", data, err)
			}
		}

		var buf bytes.Buffer
		if err := v.GetArchive(7, "messages.jsonl", &buf); err != nil {
			t.Fatalf("GetArchive() error = %v", err)
		}
		if buf.String() != "newer" {
			t.Errorf("GetArchive() = %q, want %q", buf.String(), "newer")
		}
	})

	t.Run("conversations are kept apart", func(t *testing.T) {
		v := newVault(t)

		if err := v.PutArchive(1, "messages.jsonl", strings.NewReader("one"), 3); err != nil {
			t.Fatalf("PutArchive() error = %v", err)
		}

		var buf bytes.Buffer
		err := v.GetArchive(2, "messages.jsonl", &buf)
		if !errors.Is(err, archive.ErrArchiveNotFound) {
			t.Errorf("GetArchive() of other conversation error = %v, want ErrArchiveNotFound", err)
		}
	})

	t.Run("missing artifact", func(t *testing.T) {
		v := newVault(t)

		var buf bytes.Buffer
		err := v.GetArchive(99, "messages.jsonl", &buf)
		if !errors.Is(err, archive.ErrArchiveNotFound) {
			t.Errorf("GetArchive() error = %v, want ErrArchiveNotFound", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := newVault(t)

		if err := v.PutArchive(3, "messages.jsonl", strings.NewReader("short"), 100); err == nil {
			t.Error("PutArchive() expected error for size mismatch")
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		v := newVault(t)
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryVault(t *testing.T) {
	testVaultBehavior(t, func(t *testing.T) archive.Vault {
		return NewMemoryVault("test")
	})
}

func TestMemoryVault_Artifact(t *testing.T) {
	v := NewMemoryVault("test")
	if got := v.Artifact(1, "messages.jsonl"); got != nil {
		t.Errorf("Artifact() = %q, want nil", got)
	}
	if err := v.PutArchive(1, "messages.jsonl", strings.NewReader("abc"), 3); err != nil {
		t.Fatalf("PutArchive() error = %v", err)
	}
	if got := string(v.Artifact(1, "messages.jsonl")); got != "abc" {
		t.Errorf("Artifact() = %q, want %q", got, "abc")
	}
}
