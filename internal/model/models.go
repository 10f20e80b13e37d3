package model

import (
	"time"
)

// ThreadType is the kind of conversation container.
type ThreadType string

const (
	ThreadDirect    ThreadType = "direct"
	ThreadGroup     ThreadType = "group"
	ThreadBroadcast ThreadType = "broadcast"
	ThreadGeneral   ThreadType = "general"
)

// Valid reports whether t is one of the known thread types.
func (t ThreadType) Valid() bool {
	switch t {
	case ThreadDirect, ThreadGroup, ThreadBroadcast, ThreadGeneral:
		return true
	}
	return false
}

// Participant is a thread member. LeftAt is set once the user departed.
type Participant struct {
	UserID string     `json:"user_id"`
	LeftAt *time.Time `json:"left_at,omitempty"`
}

// Thread is a conversation with a possibly partial message sequence.
type Thread struct {
	ID                  string        `json:"id"`
	Type                ThreadType    `json:"type"`
	ClientID            string        `json:"client_id,omitempty"`
	Participants        []Participant `json:"participants"`
	LastMessage         *string       `json:"last_message"`
	LastMessageTime     *time.Time    `json:"last_message_time"`
	LastMessageSenderID string        `json:"last_message_sender_id"`
	Messages            []Message     `json:"messages"`

	// Unread is the client-side "has unseen activity" flag.
	Unread bool `json:"-"`
}

// HasLeft reports whether userID is a departed participant of t.
func (t Thread) HasLeft(userID string) bool {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return p.LeftAt != nil
		}
	}
	return false
}

// ParticipantIDs returns the ids of current and departed participants.
func (t Thread) ParticipantIDs() []string {
	ids := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Clone returns a deep copy of t.
func (t Thread) Clone() Thread {
	out := t
	out.Participants = append([]Participant{}, t.Participants...)
	if t.LastMessage != nil {
		s := *t.LastMessage
		out.LastMessage = &s
	}
	if t.LastMessageTime != nil {
		ts := *t.LastMessageTime
		out.LastMessageTime = &ts
	}
	out.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// PendingThread is a conversation the server has not created yet. ID is the
// tentative thread id and becomes the real id on first send.
type PendingThread struct {
	ID             string
	ParticipantIDs []string
	ClientID       string
	Type           ThreadType
}

// Thread builds the store entry that replaces p after its first send.
func (p PendingThread) Thread() Thread {
	participants := make([]Participant, 0, len(p.ParticipantIDs))
	for _, id := range p.ParticipantIDs {
		participants = append(participants, Participant{UserID: id})
	}
	typ := p.Type
	if typ == "" {
		typ = ThreadDirect
	}
	return Thread{
		ID:           p.ID,
		Type:         typ,
		ClientID:     p.ClientID,
		Participants: participants,
		Messages:     []Message{},
	}
}
