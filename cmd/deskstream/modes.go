package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thesyncim/deskstream/internal/app"
	"github.com/thesyncim/deskstream/pkg/capture"
)

func newModesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modes",
		Short: "Print the native mode of the configured capture backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModes(cmd, opts)
		},
	}
	cmd.Flags().String("backend", "", "capture backend (synthetic, screen)")
	bindFlag(opts.v, "capture.backend", cmd.Flags().Lookup("backend"))
	return cmd
}

func runModes(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.Capture.Backend == "screen" {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DISPLAY\tORIGIN\tSIZE")
		for _, d := range capture.Displays() {
			fmt.Fprintf(tw, "%d\t%d,%d\t%dx%d\n", d.Index, d.Bounds.Min.X, d.Bounds.Min.Y, d.Bounds.Dx(), d.Bounds.Dy())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	b, err := app.NewBackend(cfg.Capture)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Init(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s native mode: %s\n", cfg.Capture.Backend, b.NativeMode())
	return nil
}
