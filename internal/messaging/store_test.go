package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ids(threads []model.Thread) []string {
	out := make([]string, len(threads))
	for i, t := range threads {
		out[i] = t.ID
	}
	return out
}

func hydrated(t *testing.T, viewerID string, threads ...model.Thread) *ThreadStore {
	t.Helper()
	b := &fakeBackend{}
	b.setThreads(threads...)
	s := NewThreadStore(b, viewerID)
	require.NoError(t, s.Hydrate(context.Background()))
	return s
}

func TestHydrateOrdersThreads(t *testing.T) {
	t1 := testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "old", t0))
	t2 := testutil.Thread("t2", []string{"u1", "u3"}, testutil.Message("m2", "t2", "u3", "new", t0.Add(time.Hour)))
	empty := testutil.Thread("t3", []string{"u1", "u4"})

	read := testutil.Message("m3", "t4", "u2", "seen", t0)
	read.ReadBy = []model.ReadBy{{UserID: "u1", ReadAt: t0}}
	t4 := testutil.Thread("t4", []string{"u1", "u2"}, read)

	s := hydrated(t, "u1", t1, empty, t2, t4)
	assert.Equal(t, []string{"t2", "t1", "t4", "t3"}, ids(s.Threads()))

	unread := map[string]bool{}
	for _, th := range s.Threads() {
		unread[th.ID] = th.Unread
	}
	assert.Equal(t, map[string]bool{"t1": true, "t2": true, "t3": false, "t4": false}, unread)
}

func TestHydrateMergesChangesMadeDuringFetch(t *testing.T) {
	b := &fakeBackend{}
	b.setThreads(testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "hi", t0)))
	s := NewThreadStore(b, "u1")
	require.NoError(t, s.Hydrate(context.Background()))

	snapshotted, release := b.holdThreads()
	done := make(chan error, 1)
	go func() { done <- s.Hydrate(context.Background()) }()
	<-snapshotted

	require.True(t, s.ApplyInboundMessage("t1", testutil.Message("m2", "t1", "u2", "newer", t0.Add(time.Minute))))
	s.PromotePendingThread(model.PendingThread{ID: "tmp-1", ParticipantIDs: []string{"u3"}})
	release()
	require.NoError(t, <-done)

	t1, ok := s.Thread("t1")
	require.True(t, ok)
	assert.Len(t, t1.Messages, 2)
	assert.Equal(t, "newer", *t1.LastMessage)
	_, ok = s.Thread("tmp-1")
	assert.True(t, ok, "locally created thread survives the snapshot")
}

func TestHydrateFailureKeepsState(t *testing.T) {
	b := &fakeBackend{}
	b.setThreads(testutil.Thread("t1", []string{"u1", "u2"}))
	s := NewThreadStore(b, "u1")
	require.NoError(t, s.Hydrate(context.Background()))

	b.err = errors.New("boom")
	require.Error(t, s.Hydrate(context.Background()))
	assert.Equal(t, []string{"t1"}, ids(s.Threads()))
}

func TestVisibleSkipsLeftThreads(t *testing.T) {
	left := testutil.Thread("t2", []string{"u2"})
	at := t0
	left.Participants = append(left.Participants, model.Participant{UserID: "u1", LeftAt: &at})

	s := hydrated(t, "u1", testutil.Thread("t1", []string{"u1", "u2"}), left)
	assert.Equal(t, []string{"t1"}, ids(s.Visible()))
	assert.Len(t, s.Threads(), 2)
}

func TestResortNewestFirstNilLast(t *testing.T) {
	// [T2, nil, T1] with T2 > T1 sorts to [T2, T1, nil].
	a := testutil.Thread("a", nil, testutil.Message("m1", "a", "u2", "x", t0.Add(2*time.Hour)))
	b := testutil.Thread("b", nil)
	c := testutil.Thread("c", nil, testutil.Message("m2", "c", "u2", "y", t0.Add(time.Hour)))

	s := hydrated(t, "u1", a, b, c)
	s.Resort()
	assert.Equal(t, []string{"a", "c", "b"}, ids(s.Threads()))
}

func TestResortIsStableForTies(t *testing.T) {
	a := testutil.Thread("a", nil)
	b := testutil.Thread("b", nil)
	c := testutil.Thread("c", nil)

	s := hydrated(t, "u1", a, b, c)
	s.Resort()
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Threads()))
}

func TestApplyInboundMessage(t *testing.T) {
	s := hydrated(t, "u1",
		testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "hi", t0.Add(time.Hour))),
		testutil.Thread("t2", []string{"u1", "u3"}, testutil.Message("m2", "t2", "u3", "yo", t0)),
	)

	msg := testutil.Message("m3", "t2", "u3", "later", t0.Add(2*time.Hour))
	require.True(t, s.ApplyInboundMessage("t2", msg))

	assert.Equal(t, []string{"t2", "t1"}, ids(s.Threads()))
	t2, _ := s.Thread("t2")
	assert.Len(t, t2.Messages, 2)
	assert.Equal(t, "later", *t2.LastMessage)
	assert.Equal(t, "u3", t2.LastMessageSenderID)
	assert.True(t, t2.Unread)

	assert.False(t, s.ApplyInboundMessage("t9", msg))
}

func TestApplyInboundMessageIsIdempotent(t *testing.T) {
	s := hydrated(t, "u1", testutil.Thread("t1", []string{"u1", "u2"}))

	msg := testutil.Message("m1", "t1", "u2", "hi", t0)
	require.True(t, s.ApplyInboundMessage("t1", msg))
	require.True(t, s.ApplyInboundMessage("t1", msg))

	t1, _ := s.Thread("t1")
	assert.Len(t, t1.Messages, 1)
}

func TestOptimisticSendThenEchoMerges(t *testing.T) {
	s := hydrated(t, "u1", testutil.Thread("t1", []string{"u1", "u2"}))

	local, ok := s.ApplyOptimisticSend("t1", "u1", testutil.Text("hello"), model.Attachment{}, "c1")
	require.True(t, ok)
	assert.True(t, local.Pending)

	echo := testutil.Message("c1", "t1", "u1", "hello", local.CreatedAt)
	require.True(t, s.ApplyInboundMessage("t1", echo))

	t1, _ := s.Thread("t1")
	require.Len(t, t1.Messages, 1)
	assert.False(t, t1.Messages[0].Pending)
	assert.False(t, t1.Unread, "own echo must not flag the thread")
}

func TestApplyOptimisticSendUnknownThread(t *testing.T) {
	s := hydrated(t, "u1")
	_, ok := s.ApplyOptimisticSend("t1", "u1", testutil.Text("x"), model.Attachment{}, "c1")
	assert.False(t, ok)
}

func TestPromotePendingThread(t *testing.T) {
	s := hydrated(t, "u1")
	p := model.PendingThread{ID: "tmp-1", ParticipantIDs: []string{"u1", "u2"}}

	assert.True(t, s.PromotePendingThread(p))
	assert.False(t, s.PromotePendingThread(p))

	assert.Equal(t, []string{"tmp-1"}, ids(s.Threads()))
	assert.Equal(t, "tmp-1", s.ActiveID())

	tmp, ok := s.Thread("tmp-1")
	require.True(t, ok)
	assert.Equal(t, model.ThreadDirect, tmp.Type)
	assert.Equal(t, []string{"u1", "u2"}, tmp.ParticipantIDs())
	assert.NotNil(t, tmp.Messages)
}

func TestApplyReadAndUnreadCount(t *testing.T) {
	s := hydrated(t, "u1", testutil.Thread("t1", []string{"u1", "u2"},
		testutil.Message("m1", "t1", "u2", "a", t0),
		testutil.Message("m2", "t1", "u1", "b", t0.Add(time.Minute)),
		testutil.Message("m3", "t1", "u2", "c", t0.Add(2*time.Minute)),
	))
	assert.Equal(t, 2, s.UnreadCount("t1"))

	s.ApplyRead("t1", "u1", t0.Add(time.Minute))
	assert.Equal(t, 1, s.UnreadCount("t1"))

	s.ApplyRead("t1", "u1", t0.Add(time.Hour))
	assert.Equal(t, 0, s.UnreadCount("t1"))

	// Applying the same receipt again adds nothing.
	s.ApplyRead("t1", "u1", t0.Add(time.Hour))
	t1, _ := s.Thread("t1")
	assert.Len(t, t1.Messages[0].ReadBy, 1)
}
