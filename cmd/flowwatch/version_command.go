package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowwatch/flowwatch/pkg/version"
)

func newVersionCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print build information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return writeJSON(cmd, version.Info())
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "flowwatch %s\n", version.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
