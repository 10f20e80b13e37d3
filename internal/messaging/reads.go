package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
)

// Emitter sends outbound stream events.
type Emitter interface {
	Emit(ctx context.Context, ev event.Outbound) error
}

// IsUnread reports whether msg counts as unread for userID: someone else sent
// it and userID has no read-by entry on it.
func IsUnread(msg model.Message, userID string) bool {
	return msg.SenderID != userID && !msg.ReadByUser(userID)
}

// UnreadCount counts the messages in msgs that are unread for userID.
func UnreadCount(msgs []model.Message, userID string) int {
	n := 0
	for _, m := range msgs {
		if IsUnread(m, userID) {
			n++
		}
	}
	return n
}

// ReadReconciler emits markThreadRead for the open thread once per viewing
// session. The latch resets whenever a different thread is observed.
type ReadReconciler struct {
	emitter Emitter

	mu       sync.Mutex
	threadID string
	latched  bool
}

// NewReadReconciler returns a reconciler emitting through emitter.
func NewReadReconciler(emitter Emitter) *ReadReconciler {
	return &ReadReconciler{emitter: emitter}
}

// Reset starts a new viewing session for threadID.
func (r *ReadReconciler) Reset(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadID = threadID
	r.latched = false
}

// Observe is the automatic path, run whenever the open thread is rendered.
// It reports whether an event was emitted.
func (r *ReadReconciler) Observe(ctx context.Context, threadID string, msgs []model.Message, userID string) (bool, error) {
	return r.reconcile(ctx, threadID, msgs, userID, false)
}

// CatchUp is the manual path (double-tap on the message list). It ignores
// the latch but still needs unread messages to emit.
func (r *ReadReconciler) CatchUp(ctx context.Context, threadID string, msgs []model.Message, userID string) (bool, error) {
	return r.reconcile(ctx, threadID, msgs, userID, true)
}

func (r *ReadReconciler) reconcile(ctx context.Context, threadID string, msgs []model.Message, userID string, force bool) (bool, error) {
	if threadID == "" || userID == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if threadID != r.threadID {
		r.threadID = threadID
		r.latched = false
	}
	if r.latched && !force {
		return false, nil
	}
	if UnreadCount(msgs, userID) == 0 {
		return false, nil
	}

	if err := r.emitter.Emit(ctx, event.MarkRead{ThreadID: threadID}); err != nil {
		return false, fmt.Errorf("failed to mark thread %s read: %w", threadID, err)
	}
	r.latched = true
	return true, nil
}
