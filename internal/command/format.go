package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/johndosdos/carechat/internal/model"
)

type threadRow struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Participants []string   `json:"participants"`
	LastMessage  string     `json:"last_message"`
	LastActivity *time.Time `json:"last_message_time"`
	Unread       int        `json:"unread"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatThread renders one thread list line.
func formatThread(row threadRow, now time.Time) string {
	when := "never"
	if row.LastActivity != nil {
		when = humanize.RelTime(*row.LastActivity, now, "ago", "from now")
	}
	unread := ""
	if row.Unread > 0 {
		unread = fmt.Sprintf(" (%d unread)", row.Unread)
	}
	return fmt.Sprintf("%s [%s] %s, %s%s: %s", row.ID, row.Type, strings.Join(row.Participants, ", "), when, unread, truncate(row.LastMessage, 60))
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func rowFor(t model.Thread, unread int) threadRow {
	row := threadRow{
		ID:           t.ID,
		Type:         string(t.Type),
		Participants: t.ParticipantIDs(),
		LastActivity: t.LastMessageTime,
		Unread:       unread,
	}
	if t.LastMessage != nil {
		row.LastMessage = *t.LastMessage
	}
	return row
}
