package command

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/broker"
	"github.com/johndosdos/carechat/internal/broker/worker"
	"github.com/johndosdos/carechat/internal/model"
)

// NewTailCmd creates the tail command.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail [thread-id]",
		Short: "Print messages relayed to NATS JetStream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.Config.NATSURL == "" {
				return writeCommandError(cmd, fmt.Errorf("CARECHAT_NATS_URL is not set"))
			}
			runCtx, stop := signalContext(cmd)
			defer stop()

			nc, err := nats.Connect(ctx.Config.NATSURL, nats.Timeout(5*time.Second))
			if err != nil {
				return writeCommandError(cmd, fmt.Errorf("failed to connect to nats: %w", err))
			}
			defer nc.Drain()

			js, err := jetstream.New(nc)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			stream, err := broker.EnsureStream(runCtx, js)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			subject := broker.SubjectAllThreads
			if len(args) == 1 {
				subject = broker.SubjectForThread(args[0])
			}

			out := cmd.OutOrStdout()
			handle := worker.Printer(out, time.Now)
			if ctx.JSONMode {
				handle = func(msg model.Message) { _ = writeJSON(out, msg) }
			}
			if err := broker.Subscriber(runCtx, stream, subject, handle); err != nil {
				return writeCommandError(cmd, err)
			}

			<-runCtx.Done()
			return nil
		},
	}
	return cmd
}
