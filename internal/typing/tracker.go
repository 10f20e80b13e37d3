// Package typing tracks "is typing" presence per thread: the local user's
// bursts, which are announced on the stream, and remote users' announcements.
package typing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/johndosdos/carechat/internal/event"
)

// Emitter sends outbound stream events.
type Emitter interface {
	Emit(ctx context.Context, ev event.Outbound) error
}

// Options configures a Tracker.
type Options struct {
	// Debounce is the quiet period after the last keystroke that ends a burst.
	Debounce time.Duration
	// RemoteTTL expires remote typing entries whose stop event was lost.
	RemoteTTL time.Duration
	// Now is the clock used for remote expiry.
	Now func() time.Time
}

// burst is the local typing state of one thread. A burst exists only while
// the latch is set; gen invalidates superseded debounce timers.
type burst struct {
	timer *time.Timer
	gen   uint64
}

// Tracker is the typing state machine. Local state per thread moves
// idle -> typing on the first keystroke and back to idle on debounce expiry or
// an explicit stop; each transition emits exactly one event.
type Tracker struct {
	emitter   Emitter
	debounce  time.Duration
	remoteTTL time.Duration
	now       func() time.Time

	mu     sync.Mutex
	local  map[string]*burst
	remote map[string]map[string]time.Time

	// emitMu keeps emissions in transition order.
	emitMu sync.Mutex
}

// New returns an idle tracker.
func New(emitter Emitter, opts Options) *Tracker {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		emitter:   emitter,
		debounce:  opts.Debounce,
		remoteTTL: opts.RemoteTTL,
		now:       opts.Now,
		local:     make(map[string]*burst),
		remote:    make(map[string]map[string]time.Time),
	}
}

// Keystroke records local input in threadID. The first keystroke of a burst
// emits typingStart; every keystroke restarts the debounce.
func (t *Tracker) Keystroke(threadID string) {
	if threadID == "" {
		return
	}

	t.mu.Lock()
	b, typing := t.local[threadID]
	if !typing {
		b = &burst{}
		t.local[threadID] = b
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(t.debounce, func() { t.expire(threadID, gen) })

	if typing {
		t.mu.Unlock()
		return
	}
	t.emitMu.Lock()
	t.mu.Unlock()
	t.emit(event.Typing{ThreadID: threadID, Active: true})
	t.emitMu.Unlock()
}

func (t *Tracker) expire(threadID string, gen uint64) {
	t.mu.Lock()
	b, ok := t.local[threadID]
	if !ok || b.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.local, threadID)
	t.emitMu.Lock()
	t.mu.Unlock()
	t.emit(event.Typing{ThreadID: threadID})
	t.emitMu.Unlock()
}

// Stop ends the local burst in threadID immediately, emitting typingStop if
// one was in progress. Used on blur, send and thread change.
func (t *Tracker) Stop(threadID string) {
	t.mu.Lock()
	b, ok := t.local[threadID]
	if !ok {
		t.mu.Unlock()
		return
	}
	b.timer.Stop()
	delete(t.local, threadID)
	t.emitMu.Lock()
	t.mu.Unlock()
	t.emit(event.Typing{ThreadID: threadID})
	t.emitMu.Unlock()
}

// StopAll ends every local burst, as on unmount or logout.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	threads := make([]string, 0, len(t.local))
	for id, b := range t.local {
		b.timer.Stop()
		threads = append(threads, id)
	}
	t.local = make(map[string]*burst)
	t.emitMu.Lock()
	t.mu.Unlock()
	defer t.emitMu.Unlock()

	sort.Strings(threads)
	for _, id := range threads {
		t.emit(event.Typing{ThreadID: id})
	}
}

// Typing reports whether the local user is mid-burst in threadID.
func (t *Tracker) Typing(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[threadID]
	return ok
}

func (t *Tracker) emit(ev event.Typing) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.emitter.Emit(ctx, ev); err != nil {
		slog.Debug("typing event not sent", "event", ev.EventName(), "thread_id", ev.ThreadID, "error", err)
	}
}

// ApplyRemote records a remote user's typing start or stop.
func (t *Tracker) ApplyRemote(ev event.Typing) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.remote[ev.ThreadID]
	if !ev.Active {
		delete(users, ev.UserID)
		if len(users) == 0 {
			delete(t.remote, ev.ThreadID)
		}
		return
	}
	if users == nil {
		users = make(map[string]time.Time)
		t.remote[ev.ThreadID] = users
	}
	users[ev.UserID] = t.now()
}

// ClearRemote drops userID's typing state in threadID, as when their message arrives.
func (t *Tracker) ClearRemote(threadID, userID string) {
	t.ApplyRemote(event.Typing{ThreadID: threadID, UserID: userID})
}

// Remote returns the users currently typing in threadID, sorted.
func (t *Tracker) Remote(threadID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []string
	for userID, since := range t.remote[threadID] {
		if now.Sub(since) >= t.remoteTTL {
			delete(t.remote[threadID], userID)
			continue
		}
		out = append(out, userID)
	}
	if len(t.remote[threadID]) == 0 {
		delete(t.remote, threadID)
	}
	sort.Strings(out)
	return out
}
