package store

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"tgdump-go/internal/archive"
)

// MemoryStore keeps encoded archives and media in memory. Records go through
// the same JSON Lines encoding as JSONLStore, so it behaves like the file
// store without touching disk. Safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	archives      map[int64][]byte
	conversations map[int64]*archive.Conversation
	media         map[string][]byte
	saves         int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		archives:      make(map[int64][]byte),
		conversations: make(map[int64]*archive.Conversation),
		media:         make(map[string][]byte),
	}
}

func mediaKey(convID int64, name string) string {
	return fmt.Sprintf("%d/%s", convID, name)
}

func (s *MemoryStore) Load(conv *archive.Conversation) (archive.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.archives[conv.ID]
	s.mu.RUnlock()
	if !ok {
		return archive.Snapshot{}, nil
	}
	return decodeSnapshot(bytes.NewReader(data), fmt.Sprintf("memory:%d", conv.ID))
}

func (s *MemoryStore) Save(conv *archive.Conversation, snapshot archive.Snapshot) error {
	var buf bytes.Buffer
	if err := encodeSnapshot(&buf, snapshot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[conv.ID] = buf.Bytes()
	s.saves++
	return nil
}

func (s *MemoryStore) SaveConversation(conv *archive.Conversation) error {
	c := *conv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = &c
	return nil
}

func (s *MemoryStore) Export(conv *archive.Conversation, w io.Writer) error {
	s.mu.RLock()
	data, ok := s.archives[conv.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no archive for conversation %d", conv.ID)
	}
	_, err := w.Write(data)
	return err
}

func (s *MemoryStore) Import(conv *archive.Conversation, r io.Reader) error {
	snapshot, err := decodeSnapshot(r, "import")
	if err != nil {
		return err
	}
	return s.Save(conv, snapshot)
}

func (s *MemoryStore) Exists(conv *archive.Conversation) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.archives[conv.ID]
	return ok, nil
}

func (s *MemoryStore) HasMedia(conv *archive.Conversation, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.media[mediaKey(conv.ID, name)]
	return ok, nil
}

func (s *MemoryStore) WriteMedia(conv *archive.Conversation, name string, write func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[mediaKey(conv.ID, name)] = buf.Bytes()
	return nil
}

// Raw returns the encoded archive of a conversation, or nil.
func (s *MemoryStore) Raw(convID int64) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archives[convID]
}

// Media returns a stored media file, or nil.
func (s *MemoryStore) Media(convID int64, name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.media[mediaKey(convID, name)]
}

// Conversation returns the saved description of a conversation, or nil.
func (s *MemoryStore) Conversation(convID int64) *archive.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[convID]
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

var (
	_ archive.RecordStore = (*MemoryStore)(nil)
	_ archive.MediaStore  = (*MemoryStore)(nil)
)
