package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"overdub/internal/history"
	"overdub/internal/pipeline"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON    bool
		limit     int
		states    []string
		clear     bool
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or prune persisted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			if store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Run history is disabled (history.enabled = false)")
				return nil
			}
			defer store.Close()

			if clear {
				var cutoff time.Time
				if olderThan > 0 {
					cutoff = time.Now().Add(-olderThan)
				}
				removed, err := store.Clear(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history entries\n", removed)
				return nil
			}

			opts := history.ListOptions{Limit: limit}
			for _, state := range states {
				opts.States = append(opts.States, pipeline.State(strings.ToLower(strings.TrimSpace(state))))
			}
			entries, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show (0 for all)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only show runs in these states")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete history entries")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "With --clear, only delete entries older than this")
	return cmd
}

func renderHistory(entries []history.Entry, now time.Time) string {
	headers := []string{"ID", "Name", "Mode", "Target", "State", "Elapsed", "Size", "Created"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size := "-"
		if e.SizeBytes > 0 {
			size = humanize.Bytes(uint64(e.SizeBytes))
		}
		elapsed := "-"
		if d := e.Elapsed(); d > 0 {
			elapsed = d.Round(time.Second).String()
		}
		state := string(e.State)
		if e.ErrorKind != "" {
			state = fmt.Sprintf("%s (%s)", state, e.ErrorKind)
		}
		rows = append(rows, []string{
			shortID(e.ID),
			valueOrDash(e.Name),
			string(e.Mode),
			valueOrDash(e.Target),
			state,
			elapsed,
			size,
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
