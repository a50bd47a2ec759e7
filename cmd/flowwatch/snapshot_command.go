package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/source"
	"github.com/flowwatch/flowwatch/pkg/source/memory"
)

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	var (
		userID     string
		demo       bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one aggregation cycle for a user and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			// Logs go to stderr so --json output stays parseable.
			log := logger.New(&logger.Config{
				Level:  logger.WarnLevel,
				Format: "text",
				Writer: cmd.ErrOrStderr(),
			})

			var (
				src     source.Source
				release = func() {}
			)
			if demo {
				mem := memory.New()
				mem.Seed(userID, time.Now())
				src = mem
			} else {
				src, release, err = openSource(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
			}
			defer release()

			snap := collectSnapshot(cmd, cfg, src, log, userID)
			if jsonOutput {
				return writeJSON(cmd, snap)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap, shouldColorize(cmd.OutOrStdout())))
			return err
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User whose workflows to aggregate")
	cmd.Flags().BoolVar(&demo, "demo", false, "Use built-in sample data instead of the configured source")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectSnapshot(cmd *cobra.Command, cfg *config.Config, src source.Source, log logger.Logger, userID string) *snapshot.WorkflowSnapshot {
	agg := snapshot.NewAggregator(src,
		snapshot.WithLimits(cfg.Monitor.Limits()),
		snapshot.WithLogger(log),
	)
	store := snapshot.NewStore(userID)
	token := store.NextToken()
	snap := agg.Aggregate(cmd.Context(), userID, store.Current())
	snap.Token = token
	store.Apply(snap)
	return store.Current()
}
