package vault

import (
	"fmt"
	"io"
	"sync"

	"tgdump-go/internal/archive"
)

// MemoryVault keeps archive copies in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	artifacts map[string][]byte // "conversationID/name" -> bytes
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		artifacts: make(map[string][]byte),
	}
}

func artifactKey(conversationID int64, name string) string {
	return fmt.Sprintf("%d/%s", conversationID, name)
}

func (m *MemoryVault) PutArchive(conversationID int64, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[artifactKey(conversationID, name)] = data
	return nil
}

func (m *MemoryVault) GetArchive(conversationID int64, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.artifacts[artifactKey(conversationID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("conversation %d, %s: %w", conversationID, name, archive.ErrArchiveNotFound)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for memory vaults.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Artifact returns a stored artifact, or nil. Intended for tests.
func (m *MemoryVault) Artifact(conversationID int64, name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.artifacts[artifactKey(conversationID, name)]
}

var _ archive.Vault = (*MemoryVault)(nil)
