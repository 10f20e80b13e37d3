// Package main is the carechat command line client.
package main

import (
	"os"

	"github.com/johndosdos/carechat/internal/command"
)

func main() {
	cmd := command.NewRootCmd(command.Version)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
