package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/carechat/internal/event"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/typing"
)

// ErrSendRefused is returned when a send guard fails: nothing to send, no
// connection, no identity or no open thread. Callers do not surface it.
var ErrSendRefused = errors.New("send refused")

// Stream is the live event connection.
type Stream interface {
	Emit(ctx context.Context, ev event.Outbound) error
	Events() <-chan event.Inbound
	Connected() bool
}

// Backend is the REST side the session reads threads from.
type Backend interface {
	ThreadFetcher
	Messages(ctx context.Context, threadID string) ([]model.Message, error)
}

// Relay republishes received messages elsewhere. It is optional.
type Relay interface {
	Publish(ctx context.Context, msg model.Message) error
}

// Config wires a Session.
type Config struct {
	ViewerID string
	Stream   Stream
	Backend  Backend
	Relay    Relay
	Typing   typing.Options
	Location *time.Location
}

// SendRequest is a composed message.
type SendRequest struct {
	// ThreadID defaults to the open thread.
	ThreadID   string
	Text       string
	Attachment model.Attachment
}

// Session is the messaging state of one signed-in user. It is created at
// sign-in and dropped at sign-out; nothing in it is global.
type Session struct {
	viewerID string
	stream   Stream
	backend  Backend
	relay    Relay

	Threads  *ThreadStore
	Active   *Projection
	Reads    *ReadReconciler
	Typing   *typing.Tracker
	Presence *Presence

	mu        sync.Mutex
	pending   *model.PendingThread
	connected bool

	hydrating atomic.Bool
	wg        sync.WaitGroup
}

// NewSession returns an empty session. Call Hydrate and Run to start it.
func NewSession(cfg Config) *Session {
	return &Session{
		viewerID: cfg.ViewerID,
		stream:   cfg.Stream,
		backend:  cfg.Backend,
		relay:    cfg.Relay,
		Threads:  NewThreadStore(cfg.Backend, cfg.ViewerID),
		Active:   NewProjection(cfg.ViewerID, cfg.Location),
		Reads:    NewReadReconciler(cfg.Stream),
		Typing:   typing.New(cfg.Stream, cfg.Typing),
		Presence: NewPresence(),
	}
}

// ViewerID is the signed-in user.
func (s *Session) ViewerID() string { return s.viewerID }

// Connected reports whether the stream is live.
func (s *Session) Connected() bool { return s.stream.Connected() }

// Hydrate reloads the thread list and refreshes the open thread from it.
func (s *Session) Hydrate(ctx context.Context) error {
	if err := s.Threads.Hydrate(ctx); err != nil {
		return err
	}

	activeID := s.Active.ThreadID()
	if activeID == "" {
		return nil
	}
	if t, ok := s.Threads.Thread(activeID); ok {
		s.Active.ApplyIfActive(s.Active.Generation(), activeID, t.Messages)
		s.reconcileReads(ctx)
	}
	return nil
}

// Open selects a thread, clears its unread flag and starts a new read
// session for it. Partially loaded threads are completed from the backend;
// the result is dropped if another thread was opened meanwhile.
func (s *Session) Open(ctx context.Context, threadID string) error {
	t, ok := s.Threads.Thread(threadID)
	if !ok {
		return fmt.Errorf("unknown thread %s", threadID)
	}

	if prev := s.Active.ThreadID(); prev != "" && prev != threadID {
		s.Typing.Stop(prev)
	}

	s.Threads.Select(threadID)
	s.Threads.MarkThreadUnreadMessagesCleared(threadID)
	gen := s.Active.Select(t)
	s.Reads.Reset(threadID)

	if len(t.Messages) == 0 && t.LastMessageTime != nil && s.backend != nil {
		msgs, err := s.backend.Messages(ctx, threadID)
		if err != nil {
			slog.WarnContext(ctx, "failed to load thread messages", "thread_id", threadID, "error", err)
		} else if s.Active.ApplyIfActive(gen, threadID, msgs) {
			s.Threads.SetMessages(threadID, msgs)
		} else {
			slog.DebugContext(ctx, "discarding stale messages", "thread_id", threadID)
		}
	}

	s.reconcileReads(ctx)
	return nil
}

// StartConversation opens a pending thread for a conversation the server has
// not created yet. An empty p.ID gets a fresh tentative id. If a thread with
// that id already exists it is opened instead. It returns the thread id.
func (s *Session) StartConversation(ctx context.Context, p model.PendingThread) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = model.ThreadDirect
	}
	if !p.Type.Valid() {
		return "", fmt.Errorf("unknown thread type %q", p.Type)
	}
	if _, ok := s.Threads.Thread(p.ID); ok {
		return p.ID, s.Open(ctx, p.ID)
	}

	if prev := s.Active.ThreadID(); prev != "" && prev != p.ID {
		s.Typing.Stop(prev)
	}

	s.mu.Lock()
	pending := p
	s.pending = &pending
	s.mu.Unlock()

	s.Active.Select(p.Thread())
	s.Reads.Reset(p.ID)
	return p.ID, nil
}

// Pending returns the pending thread, if any.
func (s *Session) Pending() (model.PendingThread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return model.PendingThread{}, false
	}
	return *s.pending, true
}

func (s *Session) takePending(threadID string) (model.PendingThread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.ID != threadID {
		return model.PendingThread{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

func (s *Session) restorePending(p model.PendingThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = &p
	}
}

// Online reports whether the stream last announced userID as online.
func (s *Session) Online(userID string) bool { return s.Presence.Online(userID) }

// Keystroke records local input in the open thread.
func (s *Session) Keystroke() {
	s.Typing.Keystroke(s.Active.ThreadID())
}

// Blur ends the local typing burst in the open thread.
func (s *Session) Blur() {
	s.Typing.Stop(s.Active.ThreadID())
}

// Send emits a message and applies it optimistically. The first send into a
// pending thread promotes it into the store under its tentative id.
func (s *Session) Send(ctx context.Context, req SendRequest) (model.Message, error) {
	text := strings.TrimSpace(req.Text)
	switch {
	case text == "" && req.Attachment.IsZero():
		return model.Message{}, fmt.Errorf("%w: nothing to send", ErrSendRefused)
	case !s.stream.Connected():
		return model.Message{}, fmt.Errorf("%w: stream not connected", ErrSendRefused)
	case s.viewerID == "":
		return model.Message{}, fmt.Errorf("%w: unknown user", ErrSendRefused)
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.Active.ThreadID()
	}
	if threadID == "" {
		return model.Message{}, fmt.Errorf("%w: no open thread", ErrSendRefused)
	}

	var body *string
	if text != "" {
		body = &text
	}
	att := req.Attachment
	messageID := uuid.NewString()

	s.Typing.Stop(threadID)

	var ev event.Outbound
	pending, isPending := s.takePending(threadID)
	if isPending {
		s.Threads.PromotePendingThread(pending)
		if s.Active.ThreadID() != threadID {
			t, _ := s.Threads.Thread(threadID)
			s.Active.Select(t)
		}

		if pending.Type == model.ThreadBroadcast {
			ev = event.Broadcast{
				ThreadID:  threadID,
				MessageID: messageID,
				SenderID:  s.viewerID,
				Message:   body,
				FileURL:   att.FileURL,
				FileName:  att.FileName,
				FileKey:   att.FileKey,
			}
		} else {
			ev = event.Send{
				ThreadID:        threadID,
				SenderID:        s.viewerID,
				Message:         body,
				ParticipantsIDs: pending.ParticipantIDs,
				ClientID:        pending.ClientID,
				FileURL:         att.FileURL,
				FileName:        att.FileName,
				FileKey:         att.FileKey,
				MessageID:       messageID,
			}
		}
	} else {
		if _, ok := s.Threads.Thread(threadID); !ok {
			return model.Message{}, fmt.Errorf("%w: unknown thread %s", ErrSendRefused, threadID)
		}
		ev = event.Send{
			ThreadID:  threadID,
			SenderID:  s.viewerID,
			Message:   body,
			FileURL:   att.FileURL,
			FileName:  att.FileName,
			FileKey:   att.FileKey,
			MessageID: messageID,
		}
	}

	// The optimistic copy goes in before the emit so the echo always finds it.
	msg, _ := s.Threads.ApplyOptimisticSend(threadID, s.viewerID, body, att, messageID)
	s.Active.AppendLocal(msg)
	s.Threads.Resort()

	if err := s.stream.Emit(ctx, ev); err != nil {
		if isPending {
			s.restorePending(pending)
		}
		slog.WarnContext(ctx, "failed to send message",
			"thread_id", threadID,
			"message_id", messageID,
			"error", err)
		return msg, fmt.Errorf("failed to send message: %w", err)
	}

	slog.DebugContext(ctx, "message sent", "thread_id", threadID, "message_id", messageID, "event", ev.EventName())
	return msg, nil
}

// CatchUpReads is the manual read trigger for the open thread.
func (s *Session) CatchUpReads(ctx context.Context) (bool, error) {
	threadID := s.Active.ThreadID()
	return s.Reads.CatchUp(ctx, threadID, s.Active.Messages(), s.viewerID)
}

func (s *Session) reconcileReads(ctx context.Context) {
	threadID := s.Active.ThreadID()
	if _, err := s.Reads.Observe(ctx, threadID, s.Active.Messages(), s.viewerID); err != nil {
		slog.WarnContext(ctx, "read reconciliation failed", "thread_id", threadID, "error", err)
	}
}

// Run applies stream events until ctx ends. All inbound state changes happen
// on this goroutine, in arrival order.
func (s *Session) Run(ctx context.Context) error {
	defer s.wg.Wait()
	events := s.stream.Events()
	for {
		select {
		case ev := <-events:
			s.Handle(ctx, ev)
		case <-ctx.Done():
			s.Typing.StopAll()
			return ctx.Err()
		}
	}
}

// Handle applies a single inbound event.
func (s *Session) Handle(ctx context.Context, ev event.Inbound) {
	switch e := ev.(type) {
	case event.Received:
		s.receive(ctx, e)

	case event.Typing:
		if e.UserID != s.viewerID {
			s.Typing.ApplyRemote(e)
		}

	case event.Presence:
		s.Presence.Set(e.UserID, e.Online)

	case event.Read:
		s.Threads.ApplyRead(e.ThreadID, e.UserID, e.ReadAt)
		s.Active.ApplyRead(e.ThreadID, e.UserID, e.ReadAt)

	case event.Joined:
		slog.DebugContext(ctx, "joined threads", "count", len(e.ThreadIDs))

	case event.ServerError:
		slog.WarnContext(ctx, "stream error from server", "message", e.Message)

	case event.Lifecycle:
		s.lifecycle(ctx, e)

	default:
		slog.DebugContext(ctx, "ignoring event", "event", ev.EventName())
	}
}

func (s *Session) receive(ctx context.Context, e event.Received) {
	msg := e.Message
	s.Typing.ClearRemote(e.ThreadID, msg.SenderID)

	if s.relay != nil {
		if err := s.relay.Publish(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to relay message", "message_id", msg.ID, "error", err)
		}
	}

	if !s.Threads.ApplyInboundMessage(e.ThreadID, msg) {
		slog.InfoContext(ctx, "message for unknown thread; refetching threads", "thread_id", e.ThreadID)
		s.rehydrate(ctx)
		return
	}

	if s.Active.AppendInbound(msg) {
		s.Threads.MarkThreadUnreadMessagesCleared(e.ThreadID)
		s.reconcileReads(ctx)
	}
}

func (s *Session) lifecycle(ctx context.Context, e event.Lifecycle) {
	switch e.Name {
	case event.Connect:
		s.mu.Lock()
		reconnect := s.connected
		s.connected = true
		s.mu.Unlock()
		// Events missed while disconnected are only recoverable by refetching.
		if reconnect {
			s.rehydrate(ctx)
		}
	case event.Disconnect:
		slog.WarnContext(ctx, "stream disconnected", "error", e.Err)
		s.Presence.Reset()
	case event.ConnectError:
		slog.WarnContext(ctx, "stream connect error", "error", e.Err)
	}
}

// rehydrate refetches threads in the background, one refetch at a time.
func (s *Session) rehydrate(ctx context.Context) {
	if !s.hydrating.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.hydrating.Store(false)
		if err := s.Hydrate(ctx); err != nil {
			slog.WarnContext(ctx, "background refetch failed", "error", err)
		}
	}()
}
