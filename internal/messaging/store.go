// Package messaging holds the client-side conversation state of a signed-in
// session: the thread list, the open thread's message view and the read
// receipts, kept in step with the stream.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/johndosdos/carechat/internal/model"
)

// ThreadFetcher performs the bulk thread fetch.
type ThreadFetcher interface {
	Threads(ctx context.Context) ([]model.Thread, error)
}

// ThreadStore is the in-memory thread list, ordered by most recent activity.
// It is the single source of truth for thread state.
type ThreadStore struct {
	fetcher ThreadFetcher

	mu       sync.RWMutex
	viewerID string
	threads  []model.Thread
	activeID string

	// fetching counts hydrations in flight; touched collects the threads
	// changed locally meanwhile so the snapshot does not roll them back.
	fetching int
	touched  map[string]struct{}
}

// NewThreadStore returns an empty store for viewerID.
func NewThreadStore(fetcher ThreadFetcher, viewerID string) *ThreadStore {
	return &ThreadStore{fetcher: fetcher, viewerID: viewerID}
}

// Hydrate replaces the thread list with a fresh snapshot. Threads changed
// while the fetch was in flight are merged into it rather than overwritten,
// and partially loaded threads keep the messages already loaded. On failure
// the previous state is kept.
func (s *ThreadStore) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	s.fetching++
	s.mu.Unlock()

	threads, err := s.fetcher.Threads(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	touched := s.touched
	s.fetching--
	if s.fetching == 0 {
		s.touched = nil
	}

	if err != nil {
		slog.WarnContext(ctx, "thread hydration failed; keeping current threads", "error", err)
		return fmt.Errorf("failed to hydrate threads: %w", err)
	}

	current := make(map[string]model.Thread, len(s.threads))
	for _, t := range s.threads {
		current[t.ID] = t
	}

	normalized := make([]model.Thread, 0, len(threads))
	seen := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		t = normalizeThread(t)
		t.Unread = UnreadCount(t.Messages, s.viewerID) > 0
		seen[t.ID] = struct{}{}

		cur, ok := current[t.ID]
		_, changed := touched[t.ID]
		switch {
		case ok && changed:
			t = mergeThread(t, cur)
			t.Unread = cur.Unread
		case ok && len(t.Messages) == 0 && len(cur.Messages) > 0:
			t = mergeThread(t, cur)
		}
		normalized = append(normalized, t)
	}
	// Threads created locally during the fetch are not in the snapshot yet.
	for _, t := range s.threads {
		if _, changed := touched[t.ID]; !changed {
			continue
		}
		if _, ok := seen[t.ID]; !ok {
			normalized = append(normalized, t)
		}
	}

	s.threads = normalized
	s.resortLocked()

	slog.DebugContext(ctx, "threads hydrated", "count", len(normalized))
	return nil
}

// touchLocked records a local change to threadID while a hydration runs.
func (s *ThreadStore) touchLocked(threadID string) {
	if s.fetching == 0 {
		return
	}
	if s.touched == nil {
		s.touched = make(map[string]struct{})
	}
	s.touched[threadID] = struct{}{}
}

// Threads returns a copy of every thread, including ones the viewer left.
func (s *ThreadStore) Threads() []model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Thread, len(s.threads))
	for i, t := range s.threads {
		out[i] = t.Clone()
	}
	return out
}

// Visible returns the threads the viewer has not left, in display order.
func (s *ThreadStore) Visible() []model.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if t.HasLeft(s.viewerID) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Thread returns a copy of the thread with id.
func (s *ThreadStore) Thread(id string) (model.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return model.Thread{}, false
	}
	return s.threads[i].Clone(), true
}

// ActiveID is the selected thread.
func (s *ThreadStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Select makes id the selected thread.
func (s *ThreadStore) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}

// ApplyInboundMessage appends msg to its thread, updates the denormalized
// last-message fields and re-sorts. A message whose id is already present
// replaces the earlier copy. It reports false if the thread is unknown.
func (s *ThreadStore) ApplyInboundMessage(threadID string, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return false
	}

	msg.ThreadID = threadID
	msg.Pending = false
	s.touchLocked(threadID)
	t := &s.threads[i]
	t.Messages = upsertMessage(t.Messages, msg.Normalized())
	setLastMessage(t, msg)
	if msg.SenderID != s.viewerID {
		t.Unread = true
	}
	s.resortLocked()
	return true
}

// ApplyOptimisticSend appends a locally authored message without waiting for
// the server. The caller re-sorts.
func (s *ThreadStore) ApplyOptimisticSend(threadID, senderID string, text *string, att model.Attachment, clientMessageID string) (model.Message, bool) {
	msg := model.Message{
		ID:        clientMessageID,
		ThreadID:  threadID,
		SenderID:  senderID,
		Text:      text,
		FileURL:   att.FileURL,
		FileName:  att.FileName,
		FileKey:   att.FileKey,
		CreatedAt: time.Now().UTC(),
		ReadBy:    []model.ReadBy{},
		Pending:   true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return msg, false
	}
	s.touchLocked(threadID)
	t := &s.threads[i]
	t.Messages = upsertMessage(t.Messages, msg)
	setLastMessage(t, msg)
	return msg.Clone(), true
}

// PromotePendingThread turns a pending thread into a store entry with the
// same id and selects it. If the id is already present nothing is inserted
// and the existing thread is re-selected. It reports whether an entry was created.
func (s *ThreadStore) PromotePendingThread(p model.PendingThread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = p.ID
	if s.indexLocked(p.ID) >= 0 {
		return false
	}
	s.touchLocked(p.ID)
	s.threads = append(s.threads, p.Thread())
	s.resortLocked()
	return true
}

// Resort orders threads by last message time, newest first. Threads without
// one go last; ties keep their current relative order.
func (s *ThreadStore) Resort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resortLocked()
}

func (s *ThreadStore) resortLocked() {
	sort.SliceStable(s.threads, func(i, j int) bool {
		a, b := s.threads[i].LastMessageTime, s.threads[j].LastMessageTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
}

// MarkThreadUnreadMessagesCleared clears the unread flag of a thread.
func (s *ThreadStore) MarkThreadUnreadMessagesCleared(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(threadID); i >= 0 {
		s.touchLocked(threadID)
		s.threads[i].Unread = false
	}
}

// ApplyRead adds a read-by entry for userID to every message of the thread
// created at or before readAt.
func (s *ThreadStore) ApplyRead(threadID, userID string, readAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return
	}
	s.touchLocked(threadID)
	t := &s.threads[i]
	markRead(t.Messages, userID, readAt)
	if userID == s.viewerID && UnreadCount(t.Messages, s.viewerID) == 0 {
		t.Unread = false
	}
}

// SetMessages replaces the message sequence of a partially loaded thread.
func (s *ThreadStore) SetMessages(threadID string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return
	}
	s.touchLocked(threadID)
	s.threads[i].Messages = sortedMessages(msgs)
}

// UnreadCount is the number of messages in the thread the viewer has not read.
func (s *ThreadStore) UnreadCount(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(threadID)
	if i < 0 {
		return 0
	}
	return UnreadCount(s.threads[i].Messages, s.viewerID)
}

func (s *ThreadStore) indexLocked(id string) int {
	for i := range s.threads {
		if s.threads[i].ID == id {
			return i
		}
	}
	return -1
}

func normalizeThread(t model.Thread) model.Thread {
	t.Messages = sortedMessages(t.Messages)
	return t
}

// mergeThread folds the messages of cur that snapshot lacks into snapshot.
func mergeThread(snapshot, cur model.Thread) model.Thread {
	snapshot.Messages = mergeMessages(snapshot.Messages, cur.Messages)
	for _, m := range snapshot.Messages {
		setLastMessage(&snapshot, m)
	}
	return snapshot
}

func setLastMessage(t *model.Thread, msg model.Message) {
	if t.LastMessageTime != nil && msg.CreatedAt.Before(*t.LastMessageTime) {
		return
	}
	at := msg.CreatedAt
	t.LastMessage = msg.Text
	t.LastMessageTime = &at
	t.LastMessageSenderID = msg.SenderID
}

// sortedMessages copies msgs into creation order with non-nil read-by lists.
func sortedMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Normalized())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// upsertMessage inserts msg in creation order, or replaces the message with
// the same id. A replacement keeps read-by entries the server copy lacks.
func upsertMessage(msgs []model.Message, msg model.Message) []model.Message {
	for i := range msgs {
		if msgs[i].ID != msg.ID {
			continue
		}
		msg.ReadBy = mergeReadBy(msgs[i].ReadBy, msg.ReadBy)
		msgs = append(msgs[:i], msgs[i+1:]...)
		break
	}

	at := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	msgs = append(msgs, model.Message{})
	copy(msgs[at+1:], msgs[at:])
	msgs[at] = msg
	return msgs
}

// mergeMessages adds the messages of extra that base lacks and carries
// read-by entries over to the ones it has. The copies in base win.
func mergeMessages(base, extra []model.Message) []model.Message {
	out := sortedMessages(base)
	for _, m := range extra {
		i := indexOfMessage(out, m.ID)
		if i < 0 {
			out = upsertMessage(out, m.Normalized())
			continue
		}
		out[i].ReadBy = mergeReadBy(m.ReadBy, out[i].ReadBy)
	}
	return out
}

func indexOfMessage(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func mergeReadBy(local, remote []model.ReadBy) []model.ReadBy {
	out := append([]model.ReadBy{}, remote...)
	for _, r := range local {
		found := false
		for _, o := range out {
			if o.UserID == r.UserID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

func markRead(msgs []model.Message, userID string, readAt time.Time) {
	for i := range msgs {
		if msgs[i].CreatedAt.After(readAt) || msgs[i].ReadByUser(userID) {
			continue
		}
		msgs[i].ReadBy = append(msgs[i].ReadBy, model.ReadBy{UserID: userID, ReadAt: readAt})
	}
}
