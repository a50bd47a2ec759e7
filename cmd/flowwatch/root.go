package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config   string
	logLevel string
	port     int
	debug    bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "flowwatch",
		Short:         "Workflow snapshot monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level")
	rootCmd.PersistentFlags().IntVar(&flags.port, "port", 0, "Override HTTP server port")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug mode")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSnapshotCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
