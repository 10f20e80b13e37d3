package messaging

import (
	"sync"
	"time"

	"github.com/johndosdos/carechat/internal/model"
)

// DateGroup is the messages of one calendar day.
type DateGroup struct {
	Date     time.Time
	Messages []model.Message
}

// Projection is the open thread's message list as the chat view shows it.
// It follows the ThreadStore but takes optimistic inserts directly, so the
// two may briefly differ while a send is in flight.
type Projection struct {
	viewerID string
	loc      *time.Location

	mu       sync.RWMutex
	threadID string
	gen      uint64
	messages []model.Message
}

// NewProjection returns an empty projection grouping days in loc.
func NewProjection(viewerID string, loc *time.Location) *Projection {
	if loc == nil {
		loc = time.Local
	}
	return &Projection{viewerID: viewerID, loc: loc}
}

// Select shows thread. The previous thread's messages are cleared before the
// new ones are installed. It returns the view generation, which changes on
// every selection.
func (p *Projection) Select(thread model.Thread) uint64 {
	p.Clear()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.threadID = thread.ID
	p.messages = sortedMessages(thread.Messages)
	return p.gen
}

// Clear empties the view.
func (p *Projection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.threadID = ""
	p.messages = nil
}

// ThreadID is the open thread, or "" when nothing is open.
func (p *Projection) ThreadID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threadID
}

// Generation identifies the current selection.
func (p *Projection) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gen
}

// Messages returns a copy of the visible messages in display order.
func (p *Projection) Messages() []model.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Message, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Clone()
	}
	return out
}

// AppendLocal inserts an optimistically sent message into the open thread.
// A later echo with the same id replaces it instead of duplicating it.
func (p *Projection) AppendLocal(msg model.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.ThreadID != p.threadID || p.threadID == "" {
		return false
	}
	p.messages = upsertMessage(p.messages, msg.Normalized())
	return true
}

// AppendInbound applies a pushed message to the open thread. An echo of a
// message already shown confirms it; other messages from the viewer are
// skipped since the viewer's sends arrive through AppendLocal.
func (p *Projection) AppendInbound(msg model.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.ThreadID != p.threadID || p.threadID == "" {
		return false
	}

	msg.Pending = false
	for i := range p.messages {
		if p.messages[i].ID == msg.ID {
			p.messages = upsertMessage(p.messages, msg.Normalized())
			return true
		}
	}
	if msg.SenderID == p.viewerID {
		return false
	}
	p.messages = upsertMessage(p.messages, msg.Normalized())
	return true
}

// ApplyIfActive merges msgs loaded for threadID into the view, unless the
// view has moved on since generation gen was selected. Messages already
// shown but missing from msgs stay, so a slow load never drops newer ones.
func (p *Projection) ApplyIfActive(gen uint64, threadID string, msgs []model.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || p.threadID != threadID {
		return false
	}
	p.messages = mergeMessages(msgs, p.messages)
	return true
}

// ApplyRead mirrors a read receipt into the open thread.
func (p *Projection) ApplyRead(threadID, userID string, readAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if threadID != p.threadID {
		return
	}
	markRead(p.messages, userID, readAt)
}

// Groups returns the messages grouped by calendar day, oldest day first and
// oldest message first within a day.
func (p *Projection) Groups() []DateGroup {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var groups []DateGroup
	for _, m := range p.messages {
		local := m.CreatedAt.In(p.loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
		if n := len(groups); n == 0 || !groups[n-1].Date.Equal(day) {
			groups = append(groups, DateGroup{Date: day})
		}
		groups[len(groups)-1].Messages = append(groups[len(groups)-1].Messages, m.Clone())
	}
	return groups
}
