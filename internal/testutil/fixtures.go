package testutil

import (
	"time"

	"github.com/johndosdos/carechat/internal/model"
)

// Text returns a pointer to s.
func Text(s string) *string { return &s }

// Message builds a message with an empty read-by list.
func Message(id, threadID, senderID, text string, at time.Time) model.Message {
	return model.Message{
		ID:        id,
		ThreadID:  threadID,
		SenderID:  senderID,
		Text:      Text(text),
		CreatedAt: at,
		ReadBy:    []model.ReadBy{},
	}
}

// Thread builds a direct thread whose denormalized fields follow its last message.
func Thread(id string, participants []string, msgs ...model.Message) model.Thread {
	t := model.Thread{
		ID:       id,
		Type:     model.ThreadDirect,
		Messages: msgs,
	}
	for _, p := range participants {
		t.Participants = append(t.Participants, model.Participant{UserID: p})
	}
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		at := last.CreatedAt
		t.LastMessage = last.Text
		t.LastMessageTime = &at
		t.LastMessageSenderID = last.SenderID
	}
	if t.Messages == nil {
		t.Messages = []model.Message{}
	}
	return t
}
