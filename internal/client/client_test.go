package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/carechat/internal/config"
	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/notify"
	"github.com/johndosdos/carechat/internal/testutil"
)

func testConfig(b *testutil.Backend) config.Config {
	return config.Config{
		APIURL:           b.URL(),
		StreamURL:        b.StreamURL(),
		SessionToken:     testutil.SessionToken,
		MaxUploadBytes:   config.DefaultMaxUploadBytes,
		TypingDebounce:   time.Hour,
		RemoteTypingTTL:  time.Minute,
		ReconnectRetries: 2,
		ReconnectDelay:   10 * time.Millisecond,
		TypingRate:       100,
		Location:         time.UTC,
	}
}

func run(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		c.Close()
	})
}

func TestDialHydratesAndJoins(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	now := time.Now().UTC()
	b.SetThreads([]model.Thread{
		testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "hi", now.Add(-time.Hour))),
		testutil.Thread("t2", []string{"u1", "u3"}, testutil.Message("m2", "t2", "u3", "yo", now)),
		testutil.Thread("t3", []string{"u1", "u4"}),
	})

	c, err := Dial(context.Background(), testConfig(b), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "u1", c.Session.ViewerID())
	threads := c.Session.Threads.Visible()
	require.Len(t, threads, 3)
	assert.Equal(t, "t2", threads[0].ID)
	assert.Len(t, b.WaitFrames(event.JoinThreads, 1, 2*time.Second), 1)
}

func TestDialFailsWithoutStream(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.RejectStream(true)

	_, err := Dial(context.Background(), testConfig(b), Options{})
	assert.Error(t, err)
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.SetThreads([]model.Thread{testutil.Thread("t1", []string{"u1", "u2"})})

	var mu sync.Mutex
	var received []model.Message
	rec := &notify.Recorder{}
	c, err := Dial(context.Background(), testConfig(b), Options{
		Notifier: rec,
		OnMessage: func(msg model.Message) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, msg)
		},
	})
	require.NoError(t, err)
	run(t, c)

	ctx := context.Background()
	require.NoError(t, c.Session.Open(ctx, "t1"))
	c.Composer.SetText("blood pressure is stable")
	sent, err := c.Composer.Submit(ctx, "")
	require.NoError(t, err)

	frames := b.WaitFrames(event.SendMessage, 1, 2*time.Second)
	require.Len(t, frames, 1)
	var payload event.Send
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, sent.ID, payload.MessageID)
	assert.Equal(t, "t1", payload.ThreadID)
	assert.Equal(t, "u1", payload.SenderID)

	// The server echoes the send and a reply arrives.
	echo := testutil.Message(sent.ID, "t1", "u1", "blood pressure is stable", time.Now().UTC())
	require.NoError(t, b.Push(ctx, event.ReceiveMessage, event.Received{ThreadID: "t1", Message: echo}))
	reply := testutil.Message("r1", "t1", "u2", "thanks", time.Now().UTC().Add(time.Second))
	require.NoError(t, b.Push(ctx, event.ReceiveMessage, event.Received{ThreadID: "t1", Message: reply}))

	require.Eventually(t, func() bool { return len(c.Session.Active.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	msgs := c.Session.Active.Messages()
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, "r1", msgs[1].ID)

	// The reply is unread, so the open view marks the thread read once.
	marks := b.WaitFrames(event.MarkThreadRead, 1, 2*time.Second)
	assert.Len(t, marks, 1)

	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
	assert.Empty(t, rec.Notices())
}

func TestReconnectRefetchesThreads(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.SetThreads([]model.Thread{testutil.Thread("t1", []string{"u1", "u2"})})

	c, err := Dial(context.Background(), testConfig(b), Options{})
	require.NoError(t, err)
	run(t, c)

	b.SetThreads([]model.Thread{
		testutil.Thread("t1", []string{"u1", "u2"}),
		testutil.Thread("t2", []string{"u1", "u3"}),
	})
	b.DropConnections()

	require.Eventually(t, func() bool {
		_, ok := c.Session.Threads.Thread("t2")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, b.TokenCalls(), 2)
}
