// Package event defines the messages exchanged over the stream connection.
// Every frame is a JSON envelope carrying an event name and its payload.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/carechat/internal/model"
)

// Event names.
const (
	JoinThreads    = "joinThreads"
	SendMessage    = "sendMessage"
	SendBroadcast  = "sendBroadcast"
	ReceiveMessage = "receiveMessage"
	TypingStart    = "typingStart"
	TypingStop     = "typingStop"
	MarkThreadRead = "markThreadRead"
	ThreadRead     = "threadRead"
	UserOnline     = "userOnline"
	UserOffline    = "userOffline"
	Error          = "error"

	// Lifecycle events are produced locally by the connection manager.
	Connect      = "connect"
	ConnectError = "connect_error"
	Disconnect   = "disconnect"
)

// ErrMalformed is returned for frames that do not match a known event shape.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an event the client emits.
type Outbound interface {
	EventName() string
}

// Inbound is a decoded event received from the server or produced by the
// connection lifecycle.
type Inbound interface {
	EventName() string
}

// Join asks the server to subscribe the connection to all of the user's threads.
type Join struct{}

func (Join) EventName() string { return JoinThreads }

// Send is the sendMessage payload.
type Send struct {
	ThreadID        string   `json:"id"`
	SenderID        string   `json:"sender_id"`
	Message         *string  `json:"message"`
	ParticipantsIDs []string `json:"participants_ids,omitempty"`
	ClientID        string   `json:"client_id,omitempty"`
	FileURL         string   `json:"file_url,omitempty"`
	FileName        string   `json:"file_name,omitempty"`
	FileKey         string   `json:"file_key,omitempty"`
	MessageID       string   `json:"message_id"`
}

func (Send) EventName() string { return SendMessage }

// Broadcast is the sendBroadcast payload.
type Broadcast struct {
	ThreadID  string  `json:"id"`
	MessageID string  `json:"message_id"`
	SenderID  string  `json:"sender_id"`
	Message   *string `json:"message"`
	FileURL   string  `json:"file_url,omitempty"`
	FileName  string  `json:"file_name,omitempty"`
	FileKey   string  `json:"file_key,omitempty"`
}

func (Broadcast) EventName() string { return SendBroadcast }

// Typing is a typing presence change. UserID is empty on outbound events; the
// server fills it in from the connection identity.
type Typing struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	Active   bool   `json:"-"`
}

func (t Typing) EventName() string {
	if t.Active {
		return TypingStart
	}
	return TypingStop
}

// MarkRead asks the server to mark every message of a thread read.
type MarkRead struct {
	ThreadID string `json:"thread_id"`
}

func (MarkRead) EventName() string { return MarkThreadRead }

// Received carries a message pushed to one of the user's threads.
type Received struct {
	ThreadID string        `json:"thread_id"`
	Message  model.Message `json:"message"`
}

func (Received) EventName() string { return ReceiveMessage }

// Presence reports a user going online or offline.
type Presence struct {
	UserID string `json:"user_id"`
	Online bool   `json:"-"`
}

func (p Presence) EventName() string {
	if p.Online {
		return UserOnline
	}
	return UserOffline
}

// Joined acknowledges joinThreads.
type Joined struct {
	ThreadIDs []string `json:"thread_ids,omitempty"`
}

func (Joined) EventName() string { return JoinThreads }

// Read reports that a user read every message of a thread up to ReadAt.
type Read struct {
	ThreadID string    `json:"thread_id"`
	UserID   string    `json:"user_id"`
	ReadAt   time.Time `json:"read_at"`
}

func (Read) EventName() string { return ThreadRead }

// ServerError is an error pushed by the server.
type ServerError struct {
	Message string `json:"message"`
}

func (ServerError) EventName() string { return Error }

// Lifecycle is a connection state change.
type Lifecycle struct {
	Name string
	Err  error
}

func (l Lifecycle) EventName() string { return l.Name }

// Encode wraps ev in an envelope.
func Encode(ev Outbound) (Envelope, error) {
	var data json.RawMessage
	if _, ok := ev.(Join); !ok {
		p, err := json.Marshal(ev)
		if err != nil {
			return Envelope{}, fmt.Errorf("could not encode %s payload: %w", ev.EventName(), err)
		}
		data = p
	}
	return Envelope{Event: ev.EventName(), Data: data}, nil
}

var sanitizer = bluemonday.StrictPolicy()

// stripMarkup removes tags and returns the remaining text unescaped.
func stripMarkup(s string) string {
	return html.UnescapeString(sanitizer.Sanitize(s))
}

// Decode parses a frame into its typed inbound event.
func Decode(p []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Event {
	case ReceiveMessage:
		var ev Received
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.ThreadID == "" && ev.Message.ThreadID != "" {
			ev.ThreadID = ev.Message.ThreadID
		}
		if ev.ThreadID == "" || ev.Message.ID == "" || ev.Message.SenderID == "" {
			return nil, fmt.Errorf("%w: %s requires thread_id, message.id and message.sender_id", ErrMalformed, env.Event)
		}
		if ev.Message.ThreadID == "" {
			ev.Message.ThreadID = ev.ThreadID
		}
		if ev.Message.ThreadID != ev.ThreadID {
			return nil, fmt.Errorf("%w: %s thread mismatch", ErrMalformed, env.Event)
		}
		if ev.Message.Text != nil {
			clean := stripMarkup(*ev.Message.Text)
			ev.Message.Text = &clean
		}
		ev.Message = ev.Message.Normalized()
		return ev, nil

	case TypingStart, TypingStop:
		var ev Typing
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.ThreadID == "" || ev.UserID == "" {
			return nil, fmt.Errorf("%w: %s requires thread_id and user_id", ErrMalformed, env.Event)
		}
		ev.Active = env.Event == TypingStart
		return ev, nil

	case UserOnline, UserOffline:
		var ev Presence
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, fmt.Errorf("%w: %s requires user_id", ErrMalformed, env.Event)
		}
		ev.Online = env.Event == UserOnline
		return ev, nil

	case JoinThreads:
		var ev Joined
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := unmarshalData(env, &ev); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case ThreadRead:
		var ev Read
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		if ev.ThreadID == "" || ev.UserID == "" {
			return nil, fmt.Errorf("%w: %s requires thread_id and user_id", ErrMalformed, env.Event)
		}
		if ev.ReadAt.IsZero() {
			ev.ReadAt = time.Now().UTC()
		}
		return ev, nil

	case Error:
		var ev ServerError
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}

	return nil, fmt.Errorf("%w: unknown event %q", ErrMalformed, env.Event)
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return nil
}
