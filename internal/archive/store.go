package archive

import (
	"errors"
	"fmt"
	"io"
)

// ErrCorruptArchive is matched (via errors.Is) by every CorruptionError.
var ErrCorruptArchive = errors.New("corrupt archive")

// CorruptionError reports a persisted archive that cannot be trusted:
// a record without an id, a duplicated id, or an undecodable line.
// Corruption is never repaired automatically.
type CorruptionError struct {
	Path   string
	Line   int
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt archive %s line %d: %s", e.Path, e.Line, e.Reason)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruptArchive
}

// RecordStore persists one snapshot per conversation.
type RecordStore interface {
	// Load reads the archived snapshot. A missing archive is an empty snapshot.
	Load(conv *Conversation) (Snapshot, error)

	// Save replaces the archived snapshot as a whole. Either the new snapshot
	// is fully written or the previous one is left untouched.
	Save(conv *Conversation, snapshot Snapshot) error

	// SaveConversation stores the conversation description.
	SaveConversation(conv *Conversation) error

	// Export writes the archive in its persisted form to w.
	Export(conv *Conversation, w io.Writer) error

	// Import validates the archive read from r and stores it, replacing any
	// existing archive.
	Import(conv *Conversation, r io.Reader) error

	// Exists reports whether an archive has been saved for conv.
	Exists(conv *Conversation) (bool, error)
}

// MediaStore holds downloaded media files for a conversation.
type MediaStore interface {
	// HasMedia reports whether a file with the given name is already stored.
	HasMedia(conv *Conversation, name string) (bool, error)

	// WriteMedia stores whatever write produces under name. If write fails
	// nothing becomes visible under name.
	WriteMedia(conv *Conversation, name string, write func(w io.Writer) error) error
}
