// Command loadtest opens several sessions against a carechat backend and has
// each of them send messages into one thread at a fixed rate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/johndosdos/carechat/internal/client"
	"github.com/johndosdos/carechat/internal/config"
	"github.com/johndosdos/carechat/internal/logger"
	"github.com/johndosdos/carechat/internal/messaging"
	"github.com/johndosdos/carechat/internal/model"
)

type stats struct {
	sent     atomic.Int64
	failed   atomic.Int64
	received atomic.Int64
}

func main() {
	cmd := newLoadtestCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLoadtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "loadtest <thread-id>",
		Short:        "Send messages from concurrent sessions at a fixed rate",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, _ := cmd.Flags().GetInt("sessions")
			perSecond, _ := cmd.Flags().GetFloat64("rate")
			duration, _ := cmd.Flags().GetDuration("duration")
			envFile, _ := cmd.Flags().GetString("env-file")

			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			var st stats
			var wg sync.WaitGroup
			start := time.Now()
			for i := range sessions {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := runSession(ctx, cfg, args[0], i, perSecond, &st); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "session %d: %v\n", i, err)
					}
				}()
			}
			wg.Wait()

			elapsed := time.Since(start)
			sent := st.sent.Load()
			fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d sent=%s failed=%s received=%s elapsed=%s throughput=%.1f msg/s\n",
				sessions,
				humanize.Comma(sent),
				humanize.Comma(st.failed.Load()),
				humanize.Comma(st.received.Load()),
				elapsed.Round(time.Millisecond),
				float64(sent)/elapsed.Seconds(),
			)
			return nil
		},
	}

	cmd.Flags().Int("sessions", 10, "number of concurrent sessions")
	cmd.Flags().Float64("rate", 1, "messages per second per session")
	cmd.Flags().Duration("duration", 30*time.Second, "how long to send for")
	cmd.Flags().String("env-file", "", "load settings from this .env file")
	return cmd
}

func runSession(ctx context.Context, cfg config.Config, threadID string, n int, perSecond float64, st *stats) error {
	c, err := client.Dial(ctx, cfg, client.Options{
		OnMessage: func(_ model.Message) { st.received.Add(1) },
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Session.Open(ctx, threadID); err != nil {
		return err
	}
	go func() { _ = c.Run(ctx) }()

	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	for seq := 1; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		_, err := c.Session.Send(ctx, messaging.SendRequest{
			ThreadID: threadID,
			Text:     fmt.Sprintf("loadtest session %d message %d", n, seq),
		})
		if err != nil {
			st.failed.Add(1)
			continue
		}
		st.sent.Add(1)
	}
}
