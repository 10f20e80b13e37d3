package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/carechat/internal/auth"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/testutil"
)

func newClient(t *testing.T, b *testutil.Backend) *Client {
	t.Helper()
	c, err := NewClient(b.URL(), testutil.SessionToken)
	require.NoError(t, err)
	return c
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"trailing_slash", "https://care.example.com/", "https://care.example.com", false},
		{"whitespace", "  http://localhost:8080 ", "http://localhost:8080", false},
		{"empty", "", "", true},
		{"no_scheme", "care.example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBaseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURLKeepsBasePath(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{"root", "https://care.example.com", "/api/threads", "https://care.example.com/api/threads"},
		{"prefix", "https://care.example.com/v1", "/api/threads", "https://care.example.com/v1/api/threads"},
		{"prefix with slash", "https://care.example.com/v1/", "api/threads", "https://care.example.com/v1/api/threads"},
		{"escaped id", "https://care.example.com/v1", "/api/threads/a%2Fb/messages", "https://care.example.com/v1/api/threads/a%2Fb/messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.base, "token")
			require.NoError(t, err)
			got, err := c.buildURL(tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamToken(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	c := newClient(t, b)

	token, err := c.StreamToken(context.Background())
	require.NoError(t, err)

	id, err := auth.IdentityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, 1, b.TokenCalls())
}

func TestStreamTokenUnauthorized(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	c, err := NewClient(b.URL(), "wrong")
	require.NoError(t, err)

	_, err = c.StreamToken(context.Background())
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestThreadsWalksPages(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	now := time.Now().UTC()
	b.SetThreads([]model.Thread{
		testutil.Thread("t1", []string{"u1", "u2"}, testutil.Message("m1", "t1", "u2", "a", now)),
		testutil.Thread("t2", []string{"u1", "u3"}),
		testutil.Thread("t3", []string{"u1", "u4"}),
	})
	c := newClient(t, b)

	threads, err := c.Threads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 3)
	assert.Equal(t, "t1", threads[0].ID)
	assert.Equal(t, "t3", threads[2].ID)
	assert.Equal(t, "a", threads[0].Messages[0].Body())
}

func TestThreadsFailure(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.FailThreads(true)
	c := newClient(t, b)

	threads, err := c.Threads(context.Background())
	assert.Error(t, err)
	assert.Nil(t, threads)
}

func TestMessages(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	now := time.Now().UTC()
	b.SetMessages("t1", []model.Message{testutil.Message("m1", "t1", "u2", "hello", now)})
	c := newClient(t, b)

	msgs, err := c.Messages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	_, err = c.Messages(context.Background(), "missing")
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	c := newClient(t, b)

	att, err := c.Upload(context.Background(), "scan.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", att.FileName)
	assert.NotEmpty(t, att.FileURL)
	assert.NotEmpty(t, att.FileKey)

	uploads := b.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "application/pdf", uploads[0].ContentType)
	assert.Equal(t, 8, uploads[0].Size)
}

func TestUploadFailure(t *testing.T) {
	b := testutil.NewBackend(t, "u1")
	b.FailUploads(true)
	c := newClient(t, b)

	_, err := c.Upload(context.Background(), "scan.pdf", "application/pdf", strings.NewReader("x"))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.Status)
}
