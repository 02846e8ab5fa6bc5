package archive

import (
	"context"
	"fmt"
	"io"
)

// VoiceMimeType is the mime type of voice messages, the only media downloaded.
const VoiceMimeType = "audio/ogg"

// MediaStats counts the outcome of media downloads in a pass.
type MediaStats struct {
	Downloaded int
	Skipped    int // already present
	Failed     int
}

// MediaFileName returns the file name a voice message is stored under,
// e.g. "channel_42_msg_7.oga".
func MediaFileName(conv *Conversation, m *Message) string {
	peer := m.Peer().String()
	if peer == "" {
		peer = fmt.Sprintf("conversation_%d", conv.ID)
	}
	return fmt.Sprintf("%s_msg_%d.oga", peer, m.ID)
}

// VoiceMessages returns the messages carrying a voice document.
func VoiceMessages(messages []*Message) []*Message {
	var out []*Message
	for _, m := range messages {
		if doc := m.Document(); doc != nil && doc.MimeType == VoiceMimeType {
			out = append(out, m)
		}
	}
	return out
}

// downloadMedia fetches every voice message not yet stored. Failures are
// logged and counted; the archive has already been saved at this point so
// they never fail the pass. Cancellation stops the remaining downloads.
func (s *Service) downloadMedia(ctx context.Context, conv *Conversation, messages []*Message) MediaStats {
	var stats MediaStats
	if s.media == nil {
		s.logger.Warn("media download requested but no media store configured")
		return stats
	}

	voice := VoiceMessages(messages)
	s.logger.Info("voice messages to download", "count", len(voice))

	for _, m := range voice {
		if ctx.Err() != nil {
			s.logger.Warn("media download interrupted", "error", ctx.Err())
			break
		}

		name := MediaFileName(conv, m)
		exists, err := s.media.HasMedia(conv, name)
		if err != nil {
			s.logger.Warn("checking media", "file", name, "error", err)
			stats.Failed++
			continue
		}
		if exists {
			stats.Skipped++
			continue
		}

		doc := m.Document()
		progress := NewTransferProgress(name, doc.Size, s.logger)
		err = s.media.WriteMedia(conv, name, func(w io.Writer) error {
			_, err := s.source.DownloadMedia(ctx, conv, doc, io.MultiWriter(w, progress))
			return err
		})
		if err != nil {
			s.logger.Warn("downloading media", "file", name, "error", err)
			stats.Failed++
			continue
		}

		s.logger.Info("media downloaded", "file", name, "bytes", progress.Written)
		stats.Downloaded++
	}

	return stats
}
