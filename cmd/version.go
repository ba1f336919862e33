// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version, intended to be set at build time:
//
//	go build -ldflags "-X github.com/wyatt727/BSTI/cmd.Version=1.4.2"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the n2p version",
		Args:  cobra.NoArgs,
		// Version needs no configuration; skip the root command's setup so it
		// works in a directory with a broken or missing config file.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "n2p version %s\n", Version)
		},
	}
}
