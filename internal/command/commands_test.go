package command

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/testutil"
)

func setEnv(t *testing.T, b *testutil.Backend) {
	t.Helper()
	t.Setenv("CARECHAT_API_URL", b.URL())
	t.Setenv("CARECHAT_STREAM_URL", b.StreamURL())
	t.Setenv("CARECHAT_SESSION_TOKEN", testutil.SessionToken)
	t.Setenv("CARECHAT_LOG_LEVEL", "error")
	t.Setenv("CARECHAT_NATS_URL", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestThreadsJSON(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	now := time.Now().UTC()
	left := testutil.Thread("t3", []string{"u5"})
	leftAt := now
	left.Participants = append(left.Participants, model.Participant{UserID: "u1", LeftAt: &leftAt})
	b.SetThreads([]model.Thread{
		testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "hi", now.Add(-time.Hour))),
		testutil.Thread("t2", []string{"u1", "u3"}, testutil.Message("m2", "t2", "u1", "sent", now)),
		left,
	})
	setEnv(t, b)

	out, err := execute(t, "threads", "--json")
	require.NoError(t, err)

	var rows []threadRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "t2", rows[0].ID)
	assert.Equal(t, 0, rows[0].Unread)
	assert.Equal(t, "t1", rows[1].ID)
	assert.Equal(t, 1, rows[1].Unread)

	out, err = execute(t, "threads", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "t3 [direct]")
}

func TestSendToExistingThread(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.SetThreads([]model.Thread{testutil.Thread("t1", []string{"u1", "u2"})})
	setEnv(t, b)

	path := filepath.Join(t.TempDir(), "discharge.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	out, err := execute(t, "send", "t1", "summary attached", "--file", path, "--wait", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "to t1")

	frames := b.WaitFrames(event.SendMessage, 1, 2*time.Second)
	require.Len(t, frames, 1)
	var payload event.Send
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, "summary attached", *payload.Message)
	assert.Equal(t, "discharge.pdf", payload.FileName)
	require.Len(t, b.Uploads(), 1)
}

func TestSendStartsConversation(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	setEnv(t, b)

	_, err := execute(t, "send", "new-1", "hello", "--to", "u2,u3", "--type", "group", "--wait", "0")
	require.NoError(t, err)

	frames := b.WaitFrames(event.SendMessage, 1, 2*time.Second)
	require.Len(t, frames, 1)
	var payload event.Send
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, "new-1", payload.ThreadID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, payload.ParticipantsIDs)
}

func TestSendUnknownThread(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	setEnv(t, b)

	_, err := execute(t, "send", "nope", "hello", "--wait", "0")
	assert.Error(t, err)
	assert.Empty(t, b.Frames(event.SendMessage))
}

func TestTailNeedsNATS(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	setEnv(t, b)

	_, err := execute(t, "tail")
	assert.ErrorContains(t, err, "CARECHAT_NATS_URL")
}
