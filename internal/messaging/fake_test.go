package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      []event.Outbound
	events    chan event.Inbound
	connected bool
	fail      error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan event.Inbound, 16), connected: true}
}

func (f *fakeStream) Emit(_ context.Context, ev event.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeStream) Events() <-chan event.Inbound { return f.events }

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeStream) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

// named returns the sent events called name.
func (f *fakeStream) named(name string) []event.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Outbound
	for _, ev := range f.sent {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeBackend struct {
	mu       sync.Mutex
	threads  []model.Thread
	messages map[string][]model.Message
	err      error
	calls    int
	gate     chan struct{}

	// threadsGate holds Threads after it took its snapshot, which is
	// announced on snapshotted.
	threadsGate chan struct{}
	snapshotted chan struct{}
}

func (f *fakeBackend) Threads(ctx context.Context) ([]model.Thread, error) {
	f.mu.Lock()
	f.calls++
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	out := make([]model.Thread, len(f.threads))
	for i, t := range f.threads {
		out[i] = t.Clone()
	}
	gate, snapshotted := f.threadsGate, f.snapshotted
	f.mu.Unlock()

	if snapshotted != nil {
		snapshotted <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// holdThreads makes the next Threads calls wait until the returned func runs.
func (f *fakeBackend) holdThreads() (snapshotted <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.threadsGate = gate
	f.snapshotted = make(chan struct{}, 4)
	return f.snapshotted, func() { close(gate) }
}

func (f *fakeBackend) Messages(ctx context.Context, threadID string) ([]model.Message, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[threadID], nil
}

func (f *fakeBackend) setThreads(threads ...model.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = threads
}

func (f *fakeBackend) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
