package archive

// RequiresReplyFetch decides whether the reply thread of fresh must be fetched
// again given the previously archived record old (nil when the message is new).
//
// Any difference triggers a full refetch of the thread; growth, shrinkage and
// an advanced latest reply are all treated the same.
func RequiresReplyFetch(fresh, old *Message) bool {
	if !fresh.Replies.HasThread() {
		return false
	}

	var oldSummary *ReplySummary
	var captured []*Message
	if old != nil {
		oldSummary = old.Replies
		captured = old.ReplyMessages
	}

	if !fresh.Replies.Equal(oldSummary) {
		return true
	}
	if captured == nil {
		return true
	}
	return len(captured) != fresh.Replies.ReplyCount
}
