package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/thesyncim/deskstream/internal/shim"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deskstream %s (%s) %s/%s\n", version, commit, runtime.GOOS, runtime.GOARCH)
			if err := shim.Load(); err != nil {
				fmt.Fprintf(out, "shim: unavailable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "shim: %s\n", shim.Version())
			return nil
		},
	}
}
