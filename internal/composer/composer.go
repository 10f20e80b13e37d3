// Package composer turns user input into outbound messages: text plus at
// most one attachment, validated, converted and uploaded as soon as it is
// selected.
package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/johndosdos/carechat/internal/messaging"
	"github.com/johndosdos/carechat/internal/model"
	"github.com/johndosdos/carechat/internal/notify"
)

// DefaultMaxBytes is the attachment size ceiling.
const DefaultMaxBytes = 10 << 20

// Uploader stores a file and returns its descriptor.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (model.Attachment, error)
}

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, req messaging.SendRequest) (model.Message, error)
	Connected() bool
	ViewerID() string
	Keystroke()
	Blur()
}

// Options configures a Composer.
type Options struct {
	MaxBytes int64
	Notifier notify.Notifier
}

// UploadState is the progress of the selected attachment.
type UploadState int

const (
	NoAttachment UploadState = iota
	Uploading
	Uploaded
)

func (s UploadState) String() string {
	switch s {
	case Uploading:
		return "uploading"
	case Uploaded:
		return "uploaded"
	default:
		return "none"
	}
}

// upload is one eager conversion and upload of a selected file.
type upload struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	att model.Attachment
	err error
}

// Composer holds the draft of one conversation view.
type Composer struct {
	uploader Uploader
	sender   Sender
	notifier notify.Notifier
	maxBytes int64

	mu   sync.Mutex
	text string
	up   *upload
}

// New returns an empty composer.
func New(uploader Uploader, sender Sender, opts Options) *Composer {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	return &Composer{
		uploader: uploader,
		sender:   sender,
		notifier: opts.Notifier,
		maxBytes: opts.MaxBytes,
	}
}

// SetText replaces the draft text. Non-empty input counts as a keystroke;
// clearing the draft ends the typing burst.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	prev := c.text
	c.text = text
	c.mu.Unlock()

	switch {
	case text != "":
		c.sender.Keystroke()
	case prev != "":
		c.sender.Blur()
	}
}

// Blur is called when the input loses focus.
func (c *Composer) Blur() {
	c.sender.Blur()
}

// Text is the current draft text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Attach selects f, replacing any previous selection. Validation failures
// are reported to the notifier and returned; conversion and upload then run
// in the background, and a failure there drops the selection.
func (c *Composer) Attach(ctx context.Context, f File) error {
	f, err := Validate(f, c.maxBytes)
	if err != nil {
		c.notifier.Notify(ctx, attachNotice(err), err)
		c.Remove()
		return err
	}

	upCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	up := &upload{name: f.Name, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.up
	c.up = up
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	go c.run(upCtx, up, f)
	return nil
}

func (c *Composer) run(ctx context.Context, up *upload, f File) {
	defer close(up.done)
	defer up.cancel()

	f, err := ConvertHEIC(f)
	if err == nil {
		up.att, err = c.uploader.Upload(ctx, f.Name, f.ContentType, bytes.NewReader(f.Data))
		if err != nil {
			err = fmt.Errorf("failed to upload %s: %w", f.Name, err)
		}
	}
	up.err = err
	if err == nil {
		slog.DebugContext(ctx, "attachment uploaded", "file_name", up.att.FileName, "file_key", up.att.FileKey)
		return
	}

	// A superseded or removed upload fails quietly.
	if ctx.Err() == nil {
		c.notifier.Notify(ctx, attachNotice(err), err)
	}
}

func attachNotice(err error) string {
	switch {
	case errors.Is(err, ErrTooLarge):
		return "File is too large"
	case errors.Is(err, ErrUnsupportedType):
		return "File type is not supported"
	case errors.Is(err, ErrConversion):
		return "Could not convert image"
	default:
		return "Upload failed"
	}
}

// failed reports whether up settled with an error. A failed upload counts as
// no selection.
func (up *upload) failed() bool {
	select {
	case <-up.done:
		return up.err != nil
	default:
		return false
	}
}

// Remove drops the selected attachment and cancels its upload.
func (c *Composer) Remove() {
	c.mu.Lock()
	up := c.up
	c.up = nil
	c.mu.Unlock()

	if up != nil {
		up.cancel()
	}
}

// Attachment reports the selected attachment and its state. The descriptor
// is only set once uploaded.
func (c *Composer) Attachment() (model.Attachment, UploadState) {
	c.mu.Lock()
	up := c.up
	c.mu.Unlock()

	if up == nil {
		return model.Attachment{}, NoAttachment
	}
	select {
	case <-up.done:
		if up.err != nil {
			return model.Attachment{}, NoAttachment
		}
		return up.att, Uploaded
	default:
		return model.Attachment{}, Uploading
	}
}

// Wait blocks until the selected attachment has settled.
func (c *Composer) Wait(ctx context.Context) (model.Attachment, error) {
	c.mu.Lock()
	up := c.up
	c.mu.Unlock()

	if up == nil {
		return model.Attachment{}, nil
	}
	select {
	case <-up.done:
		return up.att, up.err
	case <-ctx.Done():
		return model.Attachment{}, ctx.Err()
	}
}

// Submit sends the draft to threadID, or to the open thread when empty.
// The draft is cleared before the send goes out. An attachment still
// uploading is waited for; one that failed is left off the message.
func (c *Composer) Submit(ctx context.Context, threadID string) (model.Message, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.text)
	up := c.up
	if up != nil && up.failed() {
		up = nil
	}
	if text == "" && up == nil {
		c.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: nothing to send", messaging.ErrSendRefused)
	}
	if !c.sender.Connected() || c.sender.ViewerID() == "" {
		c.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: not ready", messaging.ErrSendRefused)
	}
	c.text = ""
	c.up = nil
	c.mu.Unlock()

	var att model.Attachment
	if up != nil {
		select {
		case <-up.done:
		case <-ctx.Done():
			up.cancel()
			return model.Message{}, ctx.Err()
		}
		if up.err == nil {
			att = up.att
		} else {
			slog.WarnContext(ctx, "sending without attachment", "file_name", up.name, "error", up.err)
		}
	}

	msg, err := c.sender.Send(ctx, messaging.SendRequest{ThreadID: threadID, Text: text, Attachment: att})
	if err != nil && !errors.Is(err, messaging.ErrSendRefused) {
		c.notifier.Notify(ctx, "Message not sent", err)
	}
	return msg, err
}
