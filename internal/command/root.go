package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "carechat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "carechat - care team messaging from the terminal",
		Long:          "carechat connects to the care-coordination message stream to list threads, watch activity and send messages.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("env-file", "", "load settings from this .env file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewThreadsCmd(),
		NewWatchCmd(),
		NewSendCmd(),
		NewTailCmd(),
	)

	return cmd
}
