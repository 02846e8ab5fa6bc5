package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingID is returned when a record has no usable "id" field.
var ErrMissingID = errors.New("record has no id")

// ErrNullRecord is returned when a list of records holds a JSON null.
var ErrNullRecord = errors.New("record is null")

// ReplySummary is the compact fingerprint of a reply thread as observed on
// the source: which message roots the thread, the newest reply in it and how
// many replies it holds. Unknown keys of the JSON object are preserved.
type ReplySummary struct {
	ThreadRootID  int64
	LatestReplyID int64
	ReplyCount    int

	extra map[string]json.RawMessage
}

// HasThread reports whether the summary describes a non-empty thread.
func (r *ReplySummary) HasThread() bool {
	return r != nil && r.ReplyCount > 0
}

// Equal compares the three fingerprint fields. Two nil summaries are equal.
func (r *ReplySummary) Equal(other *ReplySummary) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.ThreadRootID == other.ThreadRootID &&
		r.LatestReplyID == other.LatestReplyID &&
		r.ReplyCount == other.ReplyCount
}

func (r *ReplySummary) clone() *ReplySummary {
	if r == nil {
		return nil
	}
	c := *r
	c.extra = cloneFields(r.extra)
	return &c
}

func (r *ReplySummary) UnmarshalJSON(data []byte) error {
	fields, err := splitObject(data)
	if err != nil {
		return fmt.Errorf("decoding reply summary: %w", err)
	}
	var s ReplySummary
	if err := takeField(fields, "thread_root_id", &s.ThreadRootID); err != nil {
		return err
	}
	if err := takeField(fields, "latest_reply_id", &s.LatestReplyID); err != nil {
		return err
	}
	if err := takeField(fields, "reply_count", &s.ReplyCount); err != nil {
		return err
	}
	s.extra = fields
	*r = s
	return nil
}

func (r ReplySummary) MarshalJSON() ([]byte, error) {
	return joinObject(r.extra, map[string]any{
		"thread_root_id":  r.ThreadRootID,
		"latest_reply_id": r.LatestReplyID,
		"reply_count":     r.ReplyCount,
	})
}

// Message is one archived message. Only the fields the synchronizer reasons
// about are typed; everything else the source produced is kept verbatim and
// written back unchanged.
//
// ReplyMessages distinguishes "never captured" (nil) from "captured, empty"
// (non-nil, zero length). Replies never carry ReplyMessages of their own.
type Message struct {
	ID            int64
	Replies       *ReplySummary
	ReplyMessages []*Message

	fields map[string]json.RawMessage
}

// NewMessage returns a message with only an id set.
func NewMessage(id int64) *Message {
	return &Message{ID: id, fields: map[string]json.RawMessage{}}
}

// Field returns the raw JSON of an untyped field, or nil when absent.
func (m *Message) Field(key string) json.RawMessage {
	return m.fields[key]
}

// Set stores v (JSON-encoded) under key. Typed keys cannot be set this way.
func (m *Message) Set(key string, v any) error {
	switch key {
	case "id", "replies", "reply_messages":
		return fmt.Errorf("field %q is typed; assign it directly", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding field %q: %w", key, err)
	}
	if m.fields == nil {
		m.fields = map[string]json.RawMessage{}
	}
	m.fields[key] = raw
	return nil
}

// Date returns the message timestamp, or the zero time when absent or malformed.
func (m *Message) Date() time.Time {
	var t time.Time
	raw, ok := m.fields["date"]
	if !ok || json.Unmarshal(raw, &t) != nil {
		return time.Time{}
	}
	return t
}

// Document describes an attached file.
type Document struct {
	ID       int64  `json:"id"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Document returns the attached document, or nil.
func (m *Message) Document() *Document {
	raw, ok := m.fields["document"]
	if !ok || isNull(raw) {
		return nil
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	return &d
}

// Peer identifies the chat a message was posted in.
type Peer struct {
	ChannelID int64 `json:"channel_id,omitempty"`
	ChatID    int64 `json:"chat_id,omitempty"`
	UserID    int64 `json:"user_id,omitempty"`
}

// String renders the peer as "channel_<id>", "chat_<id>" or "user_<id>".
// An empty peer renders as "".
func (p Peer) String() string {
	switch {
	case p.ChannelID != 0:
		return fmt.Sprintf("channel_%d", p.ChannelID)
	case p.ChatID != 0:
		return fmt.Sprintf("chat_%d", p.ChatID)
	case p.UserID != 0:
		return fmt.Sprintf("user_%d", p.UserID)
	}
	return ""
}

// Peer returns the peer the message belongs to; zero when absent.
func (m *Message) Peer() Peer {
	var p Peer
	if raw, ok := m.fields["peer_id"]; ok {
		_ = json.Unmarshal(raw, &p)
	}
	return p
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{
		ID:      m.ID,
		Replies: m.Replies.clone(),
		fields:  cloneFields(m.fields),
	}
	if m.ReplyMessages != nil {
		c.ReplyMessages = make([]*Message, len(m.ReplyMessages))
		for i, r := range m.ReplyMessages {
			c.ReplyMessages[i] = r.Clone()
		}
	}
	return c
}

func (m *Message) UnmarshalJSON(data []byte) error {
	fields, err := splitObject(data)
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}

	rawID, ok := fields["id"]
	if !ok || isNull(rawID) {
		return ErrMissingID
	}
	var msg Message
	if err := json.Unmarshal(rawID, &msg.ID); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	delete(fields, "id")

	if raw, ok := fields["replies"]; ok && !isNull(raw) {
		msg.Replies = &ReplySummary{}
		if err := json.Unmarshal(raw, msg.Replies); err != nil {
			return fmt.Errorf("message %d: %w", msg.ID, err)
		}
		delete(fields, "replies")
	}

	if raw, ok := fields["reply_messages"]; ok {
		delete(fields, "reply_messages")
		if !isNull(raw) {
			var replies []*Message
			if err := json.Unmarshal(raw, &replies); err != nil {
				return fmt.Errorf("message %d replies: %w", msg.ID, err)
			}
			if replies == nil {
				replies = []*Message{}
			}
			for i, r := range replies {
				if r == nil {
					return fmt.Errorf("message %d reply %d: %w", msg.ID, i, ErrNullRecord)
				}
				r.ReplyMessages = nil
			}
			msg.ReplyMessages = replies
		}
	}

	msg.fields = fields
	*m = msg
	return nil
}

func (m *Message) MarshalJSON() ([]byte, error) {
	known := map[string]any{"id": m.ID}
	if m.Replies != nil {
		known["replies"] = m.Replies
	}
	if m.ReplyMessages != nil {
		known["reply_messages"] = m.ReplyMessages
	}
	return joinObject(m.fields, known)
}

// checkRecords rejects a listing that holds nil messages.
func checkRecords(msgs []*Message) error {
	for i, m := range msgs {
		if m == nil {
			return fmt.Errorf("record %d: %w", i, ErrNullRecord)
		}
	}
	return nil
}

func splitObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}
	return fields, nil
}

// joinObject overlays known values on top of the preserved raw fields.
func joinObject(extra map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", k, err)
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

// takeField decodes and removes key from fields. Absent or null keys leave dst untouched.
func takeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

func cloneFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if fields == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		c[k] = v
	}
	return c
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
