// Package worker holds handlers for relayed messages.
package worker

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/johndosdos/carechat/internal/model"
)

// Printer returns a handler writing one line per message to w. Times are
// shown relative to now.
func Printer(w io.Writer, now func() time.Time) func(model.Message) {
	if now == nil {
		now = time.Now
	}
	var mu sync.Mutex
	return func(msg model.Message) {
		line := Format(msg, now())
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}

// Format renders msg as "[thread] sender (when): body".
func Format(msg model.Message, now time.Time) string {
	body := msg.Body()
	if att := msg.Attachment(); !att.IsZero() {
		if body != "" {
			body += " "
		}
		body += "[" + att.FileName + "]"
	}
	return fmt.Sprintf("[%s] %s (%s): %s", msg.ThreadID, msg.SenderID, humanize.RelTime(msg.CreatedAt, now, "ago", "from now"), body)
}
