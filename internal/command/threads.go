package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/client"
)

// NewThreadsCmd creates the threads command.
func NewThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List conversation threads, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			runCtx, stop := signalContext(cmd)
			defer stop()

			c, err := client.Dial(runCtx, ctx.Config, client.Options{})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer c.Close()

			includeLeft, _ := cmd.Flags().GetBool("all")
			threads := c.Session.Threads.Visible()
			if includeLeft {
				threads = c.Session.Threads.Threads()
			}

			rows := make([]threadRow, 0, len(threads))
			for _, t := range threads {
				rows = append(rows, rowFor(t, c.Session.Threads.UnreadCount(t.ID)))
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No threads.")
				return nil
			}
			now := time.Now()
			for _, row := range rows {
				fmt.Fprintln(out, formatThread(row, now))
			}
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "include threads you have left")
	return cmd
}
