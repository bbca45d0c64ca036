package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thesyncim/deskstream/internal/config"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "deskstream",
		Short:         "Low-latency desktop capture and encoding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: config.yaml in ., $HOME/.deskstream, /etc/deskstream)")
	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	bindFlag(opts.v, "log.level", cmd.PersistentFlags().Lookup("log-level"))
	bindFlag(opts.v, "log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newModesCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// load reads the config file and returns the validated configuration.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.ReadFile(o.v, o.configPath); err != nil {
		return nil, err
	}
	return config.FromViper(o.v)
}
