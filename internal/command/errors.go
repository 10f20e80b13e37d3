package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johndosdos/carechat/internal/api"
	"github.com/johndosdos/carechat/internal/messaging"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == 401:
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the session token was rejected. Check CARECHAT_SESSION_TOKEN.")
	case errors.Is(err, messaging.ErrSendRefused):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: pass message text or --file, and check the thread id.")
	}

	return err
}
