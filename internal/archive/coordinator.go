package archive

import (
	"context"
	"fmt"
	"time"
)

// DefaultCooldown is the pause taken after every CooldownStep reply fetches.
const DefaultCooldown = time.Second

// ReplyFetchError reports the reply thread whose fetch aborted a pass.
type ReplyFetchError struct {
	ParentID     int64
	ThreadRootID int64
	Err          error
}

func (e *ReplyFetchError) Error() string {
	return fmt.Sprintf("fetching replies of message %d (thread %d): %v", e.ParentID, e.ThreadRootID, e.Err)
}

func (e *ReplyFetchError) Unwrap() error { return e.Err }

// ReplyCoordinator fetches stale reply threads one at a time, pausing after
// every few fetches to stay under the source's request ceiling.
type ReplyCoordinator struct {
	source   MessageSource
	sleeper  Sleeper
	cooldown time.Duration
	logger   Logger
}

// NewReplyCoordinator creates a coordinator. A non-positive cooldown selects
// DefaultCooldown.
func NewReplyCoordinator(source MessageSource, sleeper Sleeper, cooldown time.Duration, logger Logger) *ReplyCoordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &ReplyCoordinator{
		source:   source,
		sleeper:  sleeper,
		cooldown: cooldown,
		logger:   logger,
	}
}

// FetchStaleReplies fetches the reply thread of every message in messages
// that RequiresReplyFetch against old. Messages are visited in the given
// order and each thread is fetched at most once.
//
// The first failing fetch aborts the call; no partial result is returned.
// The returned Progress describes the work done, also on failure.
func (c *ReplyCoordinator) FetchStaleReplies(ctx context.Context, conv *Conversation, messages []*Message, old Snapshot) (FetchedReplies, *Progress, error) {
	stale := staleMessages(messages, old)
	progress := NewProgress(len(stale))
	fetched := make(FetchedReplies, len(stale))

	if len(stale) == 0 {
		return fetched, progress, nil
	}
	c.logger.Info("reply threads to fetch", "count", len(stale), "step", progress.Step)

	for _, m := range stale {
		root := m.Replies.ThreadRootID
		if root == 0 {
			root = m.ID
		}

		replies, err := c.source.ListReplies(ctx, conv, root)
		if err == nil {
			err = checkRecords(replies)
		}
		if err != nil {
			return nil, progress, &ReplyFetchError{ParentID: m.ID, ThreadRootID: root, Err: err}
		}

		thread := make([]*Message, len(replies))
		for i, r := range replies {
			thread[i] = r.Clone()
			thread[i].ReplyMessages = nil
		}
		fetched[m.ID] = thread

		if progress.Advance() {
			c.logger.Info("fetched replies", "done", progress.Done, "total", progress.Total)
			if err := c.sleeper.Sleep(ctx, c.cooldown); err != nil {
				return nil, progress, fmt.Errorf("cooling down after %d fetches: %w", progress.Done, err)
			}
			progress.Pauses++
		}
	}

	return fetched, progress, nil
}

// staleMessages returns the messages whose reply thread needs fetching,
// keeping input order and dropping repeated ids.
func staleMessages(messages []*Message, old Snapshot) []*Message {
	seen := make(map[int64]struct{}, len(messages))
	var stale []*Message
	for _, m := range messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if RequiresReplyFetch(m, old[m.ID]) {
			stale = append(stale, m)
		}
	}
	return stale
}
