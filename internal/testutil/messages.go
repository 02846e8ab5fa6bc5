package testutil

import (
	"time"

	"tgdump-go/internal/archive"
)

// BaseDate is the date of message 0 built by Msg; each id adds a minute.
var BaseDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Msg builds a plain message with a text and a date derived from its id.
func Msg(id int64, text string) *archive.Message {
	m := archive.NewMessage(id)
	mustSet(m, "message", text)
	mustSet(m, "date", BaseDate.Add(time.Duration(id)*time.Minute))
	return m
}

// WithThread gives m a reply summary for a thread rooted at m itself.
func WithThread(m *archive.Message, latestReplyID int64, count int) *archive.Message {
	m.Replies = &archive.ReplySummary{ThreadRootID: m.ID, LatestReplyID: latestReplyID, ReplyCount: count}
	return m
}

// WithVoice attaches a voice document and a channel peer to m.
func WithVoice(m *archive.Message, docID, size, channelID int64) *archive.Message {
	mustSet(m, "document", archive.Document{ID: docID, MimeType: archive.VoiceMimeType, Size: size})
	mustSet(m, "peer_id", archive.Peer{ChannelID: channelID})
	return m
}

// Replies builds n reply messages with ids first, first+1, ...
func Replies(first int64, n int) []*archive.Message {
	out := make([]*archive.Message, n)
	for i := range out {
		out[i] = Msg(first+int64(i), "reply")
	}
	return out
}

func mustSet(m *archive.Message, key string, v any) {
	if err := m.Set(key, v); err != nil {
		panic(err)
	}
}
