package archive

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Conversation identifies a chat or channel whose messages are archived.
type Conversation struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Kind  string `json:"kind,omitempty"` // "channel", "chat" or "user"

	// Info is the source's full description of the conversation, saved
	// verbatim next to the archive.
	Info json.RawMessage `json:"info,omitempty"`
}

// MessageSource is the remote side of a sync pass. Every method may block on
// network I/O. Transport failures are returned as errors; "no data" is an
// empty result with a nil error.
type MessageSource interface {
	// ResolveConversation looks up a conversation by handle or numeric id.
	ResolveConversation(ctx context.Context, name string) (*Conversation, error)

	// ListMessages returns the top-level messages of conv in ascending time
	// order. When since is non-nil only messages posted at or after it are
	// returned.
	ListMessages(ctx context.Context, conv *Conversation, since *time.Time) ([]*Message, error)

	// ListReplies returns the replies of the thread rooted at threadRootID in
	// chronological order.
	ListReplies(ctx context.Context, conv *Conversation, threadRootID int64) ([]*Message, error)

	// DownloadMedia streams the content of doc to w and returns the number of
	// bytes written.
	DownloadMedia(ctx context.Context, conv *Conversation, doc *Document, w io.Writer) (int64, error)
}
