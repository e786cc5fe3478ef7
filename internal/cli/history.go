package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/spf13/cobra"
)

func (o *rootOptions) openHistory() (*history.Store, error) {
	if err := o.load("warn", false); err != nil {
		return nil, err
	}
	if !o.cfg.History.Enabled {
		return nil, errors.New("history is disabled (history.enabled=false)")
	}
	return history.Open(history.Config{Path: o.cfg.History.Path, Logger: o.log.Component("history")})
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		q      history.Query
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent invocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			records, err := store.Recent(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, records)
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.CreatedAt.Local().Format(time.DateTime),
					rec.ToolID,
					rec.Actor,
					outcome(rec.Success),
					rec.Kind,
					strconv.FormatInt(rec.DurationMs, 10) + "ms",
				})
			}
			renderTable(out, []string{"TIME", "TOOL", "ACTOR", "RESULT", "KIND", "DURATION"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.ToolID, "tool", "", "only this tool id")
	cmd.Flags().StringVar(&q.Actor, "actor", "", "only this actor")
	cmd.Flags().StringVar(&q.Kind, "kind", "", "only this error kind")
	cmd.Flags().BoolVar(&q.FailuresOnly, "failures", false, "only failed invocations")
	cmd.Flags().DurationVar(&since, "since", 0, "only invocations newer than this")
	cmd.Flags().IntVar(&q.Limit, "limit", history.DefaultLimit, "maximum records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	cmd.AddCommand(newHistoryStatsCmd(opts), newHistoryPruneCmd(opts))
	return cmd
}

func newHistoryStatsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate invocation counts per tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, stats)
			}
			rows := make([][]string, 0, len(stats))
			for _, s := range stats {
				rows = append(rows, []string{
					s.ToolID,
					strconv.FormatInt(s.Invocations, 10),
					strconv.FormatInt(s.Failures, 10),
					strconv.FormatFloat(s.AvgDurationMs, 'f', 1, 64),
				})
			}
			renderTable(out, []string{"TOOL", "CALLS", "FAILURES", "AVG MS"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}

func newHistoryPruneCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			retention := opts.cfg.History.Retention()
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}
			n, err := store.Prune(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override history.retention_days")
	return cmd
}
