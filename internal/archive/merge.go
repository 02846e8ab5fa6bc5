package archive

// Merge combines the freshly listed messages with the previously archived
// snapshot and returns a new snapshot. Neither input is modified.
//
// Records only present in old survive untouched. For records present in both,
// the fresh top-level fields win. Reply threads are taken from fetched when
// that thread was fetched in this pass (even if it came back empty);
// otherwise the previously captured replies are carried over. A nil fetched
// means no thread was fetched.
//
// No record in the result carries a present-but-empty ReplyMessages.
func Merge(fresh []*Message, old Snapshot, fetched FetchedReplies) Snapshot {
	result := old.Clone()

	for _, f := range fresh {
		rec := f.Clone()

		if thread, ok := fetched[rec.ID]; ok {
			rec.ReplyMessages = cloneThread(thread)
		} else if prev, exists := result[rec.ID]; exists && prev.ReplyMessages != nil {
			rec.ReplyMessages = prev.ReplyMessages
		}
		result[rec.ID] = rec
	}

	for _, rec := range result {
		if rec.ReplyMessages != nil && len(rec.ReplyMessages) == 0 {
			rec.ReplyMessages = nil
		}
	}
	return result
}

func cloneThread(thread []*Message) []*Message {
	out := make([]*Message, len(thread))
	for i, r := range thread {
		out[i] = r.Clone()
		out[i].ReplyMessages = nil
	}
	return out
}
