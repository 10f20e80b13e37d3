package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/broker/worker"
	"github.com/johndosdos/carechat/internal/client"
	"github.com/johndosdos/carechat/internal/model"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [thread-id]",
		Short: "Stream messages in real-time",
		Long:  "Stream incoming messages. With a thread id the thread is opened, so new messages in it are marked read.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			runCtx, stop := signalContext(cmd)
			defer stop()

			relay, _ := cmd.Flags().GetBool("relay")
			if relay && ctx.Config.NATSURL == "" {
				return writeCommandError(cmd, fmt.Errorf("--relay needs CARECHAT_NATS_URL"))
			}

			out := cmd.OutOrStdout()
			printMsg := worker.Printer(out, time.Now)
			onMessage := func(msg model.Message) {
				if ctx.JSONMode {
					_ = writeJSON(out, msg)
					return
				}
				printMsg(msg)
			}

			c, err := client.Dial(runCtx, ctx.Config, client.Options{Relay: relay, OnMessage: onMessage})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer c.Close()

			if len(args) == 1 {
				if err := c.Session.Open(runCtx, args[0]); err != nil {
					return writeCommandError(cmd, err)
				}
				if !ctx.JSONMode {
					for _, msg := range c.Session.Active.Messages() {
						printMsg(msg)
					}
				}
				if every, _ := cmd.Flags().GetDuration("catch-up"); every > 0 {
					go catchUpReads(runCtx, c, every)
				}
			}

			if err := c.Run(runCtx); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("relay", false, "republish received messages to NATS JetStream")
	cmd.Flags().Duration("catch-up", 30*time.Second, "mark messages that arrived in the open thread read at this interval (0 disables)")
	return cmd
}

// catchUpReads marks the open thread read every interval until ctx ends.
func catchUpReads(ctx context.Context, c *client.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Session.CatchUpReads(ctx); err != nil {
				slog.WarnContext(ctx, "read catch-up failed", "error", err)
			}
		}
	}
}
