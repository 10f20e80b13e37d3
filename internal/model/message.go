// Package model defines data structure.
package model

import (
	"time"
)

// ReadBy records that a user has viewed a message.
type ReadBy struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Attachment describes an uploaded file. The zero value means no attachment.
type Attachment struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileKey  string `json:"file_key"`
}

// IsZero reports whether a holds no uploaded file.
func (a Attachment) IsZero() bool {
	return a.FileURL == "" && a.FileKey == ""
}

// Message holds information about a single message. ID is generated by the
// sending client and doubles as the idempotency key for the server echo.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	SenderID  string    `json:"sender_id"`
	Text      *string   `json:"message"`
	FileURL   string    `json:"file_url,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	FileKey   string    `json:"file_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ReadBy    []ReadBy  `json:"read_by"`

	// Pending is set on optimistic inserts until the server echo arrives.
	Pending bool `json:"-"`
}

// Attachment returns the message file fields.
func (m Message) Attachment() Attachment {
	return Attachment{FileURL: m.FileURL, FileName: m.FileName, FileKey: m.FileKey}
}

// Body returns the text content, or "" when the message only carries a file.
func (m Message) Body() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// ReadByUser reports whether userID has a read-by entry on m.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	out := m
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	out.ReadBy = append([]ReadBy{}, m.ReadBy...)
	return out
}

// Normalized returns m with a non-nil read-by list.
func (m Message) Normalized() Message {
	if m.ReadBy == nil {
		m.ReadBy = []ReadBy{}
	}
	return m
}
