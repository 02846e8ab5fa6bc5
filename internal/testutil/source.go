package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"tgdump-go/internal/archive"
)

// ErrInjected is returned by FakeSource when a failure was injected.
var ErrInjected = errors.New("injected source failure")

// FakeSource is an in-memory archive.MessageSource. Safe for concurrent use.
type FakeSource struct {
	mu            sync.Mutex
	conversations map[string]*archive.Conversation
	messages      map[int64][]*archive.Message // conversation id -> listing
	replies       map[int64][]*archive.Message // thread root -> replies
	media         map[int64][]byte             // document id -> content

	// FailRepliesAt makes the n-th ListReplies call (1-based) fail; 0 never fails.
	FailRepliesAt int
	// FailMedia makes DownloadMedia fail for the given document ids.
	FailMedia map[int64]bool
	// ListErr, when set, is returned by ListMessages.
	ListErr error
	// OnListReplies runs before every ListReplies call with its 1-based number.
	OnListReplies func(call int)

	replyCalls []int64
	sinceSeen  []*time.Time
	mediaCalls int
}

// NewFakeSource creates an empty source.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		conversations: make(map[string]*archive.Conversation),
		messages:      make(map[int64][]*archive.Message),
		replies:       make(map[int64][]*archive.Message),
		media:         make(map[int64][]byte),
		FailMedia:     make(map[int64]bool),
	}
}

// AddConversation makes conv resolvable by its name and by its numeric id.
func (f *FakeSource) AddConversation(conv *archive.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[conv.Name] = conv
	f.conversations[fmt.Sprint(conv.ID)] = conv
}

// SetMessages replaces the listing of a conversation.
func (f *FakeSource) SetMessages(convID int64, msgs ...*archive.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[convID] = msgs
}

// SetReplies replaces the replies of the thread rooted at root.
func (f *FakeSource) SetReplies(root int64, msgs ...*archive.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[root] = msgs
}

// SetMedia stores the content of a document.
func (f *FakeSource) SetMedia(docID int64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[docID] = data
}

// ReplyCalls returns the thread roots passed to ListReplies, in call order.
func (f *FakeSource) ReplyCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.replyCalls...)
}

// SinceSeen returns the since arguments passed to ListMessages.
func (f *FakeSource) SinceSeen() []*time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*time.Time(nil), f.sinceSeen...)
}

// MediaCalls returns how many times DownloadMedia was called.
func (f *FakeSource) MediaCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaCalls
}

func (f *FakeSource) ResolveConversation(ctx context.Context, name string) (*archive.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[name]
	if !ok {
		return nil, fmt.Errorf("conversation %q not found", name)
	}
	c := *conv
	return &c, nil
}

// ListMessages returns clones of the listing; since filters inclusively on
// the message date.
func (f *FakeSource) ListMessages(ctx context.Context, conv *archive.Conversation, since *time.Time) ([]*archive.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceSeen = append(f.sinceSeen, since)
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	var out []*archive.Message
	for _, m := range f.messages[conv.ID] {
		if since != nil && m.Date().Before(*since) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (f *FakeSource) ListReplies(ctx context.Context, conv *archive.Conversation, threadRootID int64) ([]*archive.Message, error) {
	f.mu.Lock()
	f.replyCalls = append(f.replyCalls, threadRootID)
	call := len(f.replyCalls)
	hook := f.OnListReplies
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FailRepliesAt > 0 && call == f.FailRepliesAt {
		return nil, fmt.Errorf("replies of %d: %w", threadRootID, ErrInjected)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*archive.Message
	for _, r := range f.replies[threadRootID] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *FakeSource) DownloadMedia(ctx context.Context, conv *archive.Conversation, doc *archive.Document, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.mediaCalls++
	data, ok := f.media[doc.ID]
	fail := f.FailMedia[doc.ID]
	f.mu.Unlock()

	if fail {
		// Write part of the file first so callers must discard partial output.
		if len(data) > 0 {
			w.Write(data[:len(data)/2])
		}
		return 0, fmt.Errorf("document %d: %w", doc.ID, ErrInjected)
	}
	if !ok {
		return 0, fmt.Errorf("document %d not found", doc.ID)
	}
	n, err := w.Write(data)
	return int64(n), err
}

var _ archive.MessageSource = (*FakeSource)(nil)
