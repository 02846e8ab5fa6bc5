package archive_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/testutil"
)

var conv = &archive.Conversation{ID: 1001, Name: "somechannel", Kind: "channel"}

// threads builds n top-level messages, each with a thread of one reply.
func threads(src *testutil.FakeSource, n int) []*archive.Message {
	msgs := make([]*archive.Message, n)
	for i := range msgs {
		id := int64(i + 1)
		replyID := 10000 + id
		msgs[i] = testutil.WithThread(testutil.Msg(id, "post"), replyID, 1)
		src.SetReplies(id, testutil.Msg(replyID, "reply"))
	}
	return msgs
}

func newCoordinator(src archive.MessageSource, sleeper archive.Sleeper) *archive.ReplyCoordinator {
	return archive.NewReplyCoordinator(src, sleeper, 250*time.Millisecond, archive.NewNopLogger())
}

func TestReplyCoordinator_CooldownCadence(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 120)
	sleeper := &testutil.RecordingSleeper{}

	fetched, progress, err := newCoordinator(src, sleeper).FetchStaleReplies(context.Background(), conv, msgs, archive.Snapshot{})
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}

	if len(fetched) != 120 {
		t.Errorf("len(fetched) = %d, want 120", len(fetched))
	}
	if progress.Total != 120 || progress.Done != 120 || progress.Step != 6 {
		t.Errorf("progress = %+v, want total 120, done 120, step 6", progress)
	}
	if progress.Pauses != 20 || sleeper.Count() != 20 {
		t.Errorf("pauses = %d (sleeper saw %d), want 20", progress.Pauses, sleeper.Count())
	}
	for _, d := range sleeper.Pauses {
		if d != 250*time.Millisecond {
			t.Errorf("pause = %v, want 250ms", d)
			break
		}
	}
}

func TestReplyCoordinator_SmallBatchUsesMinimumStep(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 12)
	sleeper := &testutil.RecordingSleeper{}

	_, progress, err := newCoordinator(src, sleeper).FetchStaleReplies(context.Background(), conv, msgs, archive.Snapshot{})
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}
	if progress.Step != 5 || sleeper.Count() != 2 {
		t.Errorf("step = %d, pauses = %d, want 5, 2", progress.Step, sleeper.Count())
	}
}

func TestReplyCoordinator_OnlyStaleThreads(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 3)
	msgs = append(msgs, testutil.Msg(4, "no thread"))

	// Thread 2 is already fully captured with the same summary.
	old := archive.Snapshot{2: msgs[1].Clone()}
	old[2].ReplyMessages = []*archive.Message{testutil.Msg(10002, "reply")}

	fetched, progress, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(context.Background(), conv, msgs, old)
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}

	if calls := src.ReplyCalls(); !reflect.DeepEqual(calls, []int64{1, 3}) {
		t.Errorf("ListReplies calls = %v, want [1 3]", calls)
	}
	if _, ok := fetched[2]; ok {
		t.Error("fresh thread 2 was fetched")
	}
	if progress.Total != 2 {
		t.Errorf("progress.Total = %d, want 2", progress.Total)
	}
}

func TestReplyCoordinator_NothingStale(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := []*archive.Message{testutil.Msg(1, "a"), testutil.Msg(2, "b")}

	fetched, progress, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(context.Background(), conv, msgs, archive.Snapshot{})
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}
	if fetched == nil || len(fetched) != 0 {
		t.Errorf("fetched = %v, want empty non-nil map", fetched)
	}
	if progress.Total != 0 || len(src.ReplyCalls()) != 0 {
		t.Errorf("progress = %+v, calls = %v, want no work", progress, src.ReplyCalls())
	}
}

func TestReplyCoordinator_DeduplicatesRepeatedIDs(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 2)
	msgs = append(msgs, msgs[0].Clone())

	_, _, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(context.Background(), conv, msgs, archive.Snapshot{})
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}
	if calls := src.ReplyCalls(); !reflect.DeepEqual(calls, []int64{1, 2}) {
		t.Errorf("ListReplies calls = %v, want [1 2]", calls)
	}
}

func TestReplyCoordinator_UsesThreadRoot(t *testing.T) {
	src := testutil.NewFakeSource()
	m := testutil.Msg(5, "forwarded discussion post")
	m.Replies = &archive.ReplySummary{ThreadRootID: 77, LatestReplyID: 80, ReplyCount: 1}
	src.SetReplies(77, testutil.Msg(80, "reply"))

	fetched, _, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(context.Background(), conv, []*archive.Message{m}, archive.Snapshot{})
	if err != nil {
		t.Fatalf("FetchStaleReplies() error = %v", err)
	}
	if calls := src.ReplyCalls(); !reflect.DeepEqual(calls, []int64{77}) {
		t.Errorf("ListReplies calls = %v, want [77]", calls)
	}
	if len(fetched[5]) != 1 || fetched[5][0].ID != 80 {
		t.Errorf("fetched[5] = %v, want reply 80 keyed by parent id", fetched[5])
	}
}

func TestReplyCoordinator_FailFast(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 120)
	src.FailRepliesAt = 50

	fetched, progress, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(context.Background(), conv, msgs, archive.Snapshot{})
	if err == nil {
		t.Fatal("FetchStaleReplies() expected error")
	}
	if fetched != nil {
		t.Errorf("fetched = %d threads, want nil on failure", len(fetched))
	}

	var fetchErr *archive.ReplyFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %T, want *archive.ReplyFetchError", err)
	}
	if fetchErr.ParentID != 50 || fetchErr.ThreadRootID != 50 {
		t.Errorf("ReplyFetchError = %+v, want parent 50", fetchErr)
	}
	if !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("error does not wrap the source failure: %v", err)
	}
	if progress.Done != 49 {
		t.Errorf("progress.Done = %d, want 49", progress.Done)
	}
	if calls := len(src.ReplyCalls()); calls != 50 {
		t.Errorf("ListReplies calls = %d, want 50 (no fetch after the failure)", calls)
	}
}

func TestReplyCoordinator_Cancelled(t *testing.T) {
	src := testutil.NewFakeSource()
	msgs := threads(src, 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.OnListReplies = func(call int) {
		if call == 3 {
			cancel()
		}
	}

	fetched, _, err := newCoordinator(src, &testutil.RecordingSleeper{}).FetchStaleReplies(ctx, conv, msgs, archive.Snapshot{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fetched != nil {
		t.Error("fetched should be nil after cancellation")
	}
	if calls := len(src.ReplyCalls()); calls != 3 {
		t.Errorf("ListReplies calls = %d, want 3", calls)
	}
}
