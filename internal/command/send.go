package command

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/client"
	"github.com/johndosdos/carechat/internal/composer"
	"github.com/johndosdos/carechat/internal/model"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <thread-id> [message]",
		Short: "Send a message and/or a file to a thread",
		Long:  "Send a message to an existing thread, or start a new conversation with --to.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			runCtx, stop := signalContext(cmd)
			defer stop()

			threadID := args[0]
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			filePath, _ := cmd.Flags().GetString("file")
			to, _ := cmd.Flags().GetStringSlice("to")
			clientID, _ := cmd.Flags().GetString("client")
			threadType, _ := cmd.Flags().GetString("type")

			c, err := client.Dial(runCtx, ctx.Config, client.Options{})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer c.Close()

			if _, ok := c.Session.Threads.Thread(threadID); ok {
				err = c.Session.Open(runCtx, threadID)
			} else if len(to) > 0 {
				participants := append([]string{c.Session.ViewerID()}, to...)
				_, err = c.Session.StartConversation(runCtx, model.PendingThread{
					ID:             threadID,
					ParticipantIDs: participants,
					ClientID:       clientID,
					Type:           model.ThreadType(threadType),
				})
			} else {
				err = fmt.Errorf("unknown thread %s; pass --to to start a new conversation", threadID)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if filePath != "" {
				f, err := readFile(filePath)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if err := c.Composer.Attach(runCtx, f); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			c.Composer.SetText(text)

			msg, err := c.Composer.Submit(runCtx, threadID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
				waitForEcho(runCtx, c, msg.ID, wait)
			}

			out := cmd.OutOrStdout()
			if ctx.JSONMode {
				return writeJSON(out, msg)
			}
			fmt.Fprintf(out, "Sent %s to %s\n", msg.ID, threadID)
			return nil
		},
	}

	cmd.Flags().String("file", "", "attach a file (image, PDF or Word document)")
	cmd.Flags().StringSlice("to", nil, "participants of a new conversation")
	cmd.Flags().String("client", "", "client id a new conversation is scoped to")
	cmd.Flags().Duration("wait", 5*time.Second, "how long to wait for the server to confirm the send")
	cmd.Flags().String("type", string(model.ThreadDirect), "type of a new conversation (direct, group, broadcast, general)")
	return cmd
}

func readFile(path string) (composer.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return composer.File{}, err
	}
	name := filepath.Base(path)
	return composer.File{
		Name:        name,
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Data:        data,
	}, nil
}

// waitForEcho processes stream events until the server echoes messageID or
// timeout passes, so the process does not exit before the send is confirmed.
func waitForEcho(ctx context.Context, c *client.Client, messageID string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() { _ = c.Session.Run(ctx) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range c.Session.Active.Messages() {
				if m.ID == messageID && !m.Pending {
					return
				}
			}
		}
	}
}
