package archive

import (
	"fmt"
	"sort"
)

// Snapshot is the full archived state of one conversation, keyed by message id.
type Snapshot map[int64]*Message

// Add inserts m, rejecting an id that is already present.
func (s Snapshot) Add(m *Message) error {
	if _, exists := s[m.ID]; exists {
		return fmt.Errorf("duplicate message id %d", m.ID)
	}
	s[m.ID] = m
	return nil
}

// IDs returns the message ids in ascending order.
func (s Snapshot) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sorted returns the records in ascending id order, which is the order they
// are persisted in.
func (s Snapshot) Sorted() []*Message {
	ids := s.IDs()
	out := make([]*Message, len(ids))
	for i, id := range ids {
		out[i] = s[id]
	}
	return out
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for id, m := range s {
		c[id] = m.Clone()
	}
	return c
}

// FetchedReplies holds the reply threads fetched during one pass, keyed by the
// parent message id. A nil FetchedReplies means replies were not requested.
type FetchedReplies map[int64][]*Message

// Messages flattens all fetched replies in ascending parent id order.
func (f FetchedReplies) Messages() []*Message {
	parents := make([]int64, 0, len(f))
	for id := range f {
		parents = append(parents, id)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	var out []*Message
	for _, id := range parents {
		out = append(out, f[id]...)
	}
	return out
}
