package archive

import (
	"bytes"
	"fmt"
)

// ArchiveObjectName is the vault object an archive copy is stored under.
const ArchiveObjectName = "messages.jsonl"

// Mirror pushes the current archive of conv to the vault, encrypted when an
// encryptor is configured. It returns the number of bytes uploaded.
func (s *Service) Mirror(conv *Conversation) (int64, error) {
	if s.vault == nil {
		return 0, fmt.Errorf("no vault configured")
	}

	exists, err := s.store.Exists(conv)
	if err != nil {
		return 0, fmt.Errorf("checking archive: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("no archive for conversation %d", conv.ID)
	}

	var plain bytes.Buffer
	if err := s.store.Export(conv, &plain); err != nil {
		return 0, fmt.Errorf("exporting archive: %w", err)
	}

	payload := &plain
	if s.encryptor != nil {
		var sealed bytes.Buffer
		if err := s.encryptor.Encrypt(&plain, &sealed); err != nil {
			return 0, fmt.Errorf("encrypting archive: %w", err)
		}
		payload = &sealed
	}

	size := int64(payload.Len())
	if err := s.vault.PutArchive(conv.ID, ArchiveObjectName, payload, size); err != nil {
		return 0, fmt.Errorf("uploading archive: %w", err)
	}

	s.logger.Info("archive mirrored", "conversation", conv.ID, "bytes", size)
	return size, nil
}

// Restore replaces the local archive of conv with the vault copy. decryptCtx
// is required when an encryptor is configured. An existing local archive is
// only overwritten when force is set. Returns the number of restored records.
func (s *Service) Restore(conv *Conversation, decryptCtx DecryptionContext, force bool) (int, error) {
	if s.vault == nil {
		return 0, fmt.Errorf("no vault configured")
	}
	if s.encryptor != nil && decryptCtx == nil {
		return 0, fmt.Errorf("archive copies are encrypted: decryption context required")
	}

	if !force {
		exists, err := s.store.Exists(conv)
		if err != nil {
			return 0, fmt.Errorf("checking archive: %w", err)
		}
		if exists {
			return 0, fmt.Errorf("archive for conversation %d already exists (use force to overwrite)", conv.ID)
		}
	}

	var stored bytes.Buffer
	if err := s.vault.GetArchive(conv.ID, ArchiveObjectName, &stored); err != nil {
		return 0, fmt.Errorf("downloading archive: %w", err)
	}

	payload := &stored
	if decryptCtx != nil {
		var plain bytes.Buffer
		if err := decryptCtx.Decrypt(&stored, &plain); err != nil {
			return 0, fmt.Errorf("decrypting archive: %w", err)
		}
		payload = &plain
	}

	if err := s.store.Import(conv, payload); err != nil {
		return 0, fmt.Errorf("importing archive: %w", err)
	}

	snapshot, err := s.store.Load(conv)
	if err != nil {
		return 0, fmt.Errorf("reloading restored archive: %w", err)
	}

	s.logger.Info("archive restored", "conversation", conv.ID, "records", len(snapshot))
	return len(snapshot), nil
}
