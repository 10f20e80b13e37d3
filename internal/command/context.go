package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/config"
	"github.com/johndosdos/carechat/internal/logger"
)

// CommandContext is the resolved state shared by subcommands.
type CommandContext struct {
	Config   config.Config
	JSONMode bool
}

// GetContext loads configuration and sets up logging from the global flags.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	level, _ := cmd.Flags().GetString("log-level")
	jsonMode, _ := cmd.Flags().GetBool("json")

	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if level == "" {
		level = cfg.LogLevel
	}
	logger.InitWriter(cmd.ErrOrStderr(), level)

	return &CommandContext{Config: cfg, JSONMode: jsonMode}, nil
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
