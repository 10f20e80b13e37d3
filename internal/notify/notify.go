// Package notify delivers user-facing failure notices, the headless
// equivalent of a toast.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier shows a short message to the user.
type Notifier interface {
	Notify(ctx context.Context, msg string, err error)
}

// Log writes notices to slog at warn level.
type Log struct{}

func (Log) Notify(ctx context.Context, msg string, err error) {
	if err != nil {
		slog.WarnContext(ctx, msg, "error", err)
		return
	}
	slog.WarnContext(ctx, msg)
}

// Notice is a recorded notification.
type Notice struct {
	Message string
	Err     error
}

// Recorder keeps notices in memory for inspection.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, msg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Message: msg, Err: err})
}

// Notices returns a copy of what has been recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
