package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/carechat/internal/model"
)

type fakeJS struct {
	subjects []string
	payloads [][]byte
	opts     int
	err      error
}

func (f *fakeJS) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	f.opts += len(opts)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.subjects))}, nil
}

func TestSubjectForThread(t *testing.T) {
	assert.Equal(t, "MESSAGES.thread.t1", SubjectForThread("t1"))
	assert.Equal(t, "MESSAGES.thread.a_b_c_", SubjectForThread("a.b*c>"))
	assert.Equal(t, "MESSAGES.thread._", SubjectForThread(""))
}

func TestRelayPublish(t *testing.T) {
	js := &fakeJS{}
	text := "hello"
	msg := model.Message{ID: "m1", ThreadID: "t1", SenderID: "u2", Text: &text, CreatedAt: time.Unix(0, 0).UTC()}

	require.NoError(t, NewRelay(js).Publish(context.Background(), msg))
	require.Len(t, js.subjects, 1)
	assert.Equal(t, "MESSAGES.thread.t1", js.subjects[0])
	assert.Equal(t, 1, js.opts, "message id is passed for dedup")

	var got model.Message
	require.NoError(t, json.Unmarshal(js.payloads[0], &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hello", got.Body())
}

func TestPublisherErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Publisher(ctx, nil, model.Message{ID: "m1"})
	assert.Error(t, err)

	_, err = Publisher(ctx, &fakeJS{}, model.Message{ThreadID: "t1"})
	assert.Error(t, err)

	_, err = Publisher(ctx, &fakeJS{err: errors.New("no responders")}, model.Message{ID: "m1", ThreadID: "t1"})
	assert.ErrorContains(t, err, "MESSAGES.thread.t1")
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"m1","thread_id":"t1","sender_id":"u2","message":null,"created_at":"2026-03-01T09:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.NotNil(t, msg.ReadBy)

	_, err = Decode([]byte(`{"id":"m1"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
