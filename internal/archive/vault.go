package archive

import (
	"errors"
	"io"
)

// ErrArchiveNotFound is returned by a Vault that holds no copy of the requested artifact.
var ErrArchiveNotFound = errors.New("archive copy not found")

// Vault is off-host storage for archive copies. All operations stream so an
// archive never has to be held twice in memory by the backend.
type Vault interface {
	// PutArchive stores an archive artifact for a conversation, replacing any
	// previous copy. size is the number of bytes that will be read from r.
	PutArchive(conversationID int64, name string, r io.Reader, size int64) error

	// GetArchive writes the stored artifact to w.
	GetArchive(conversationID int64, name string, w io.Writer) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
