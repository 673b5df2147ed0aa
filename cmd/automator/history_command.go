package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/commensal-automator/internal/history"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent observing sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return errors.New("session journal disabled (history.path is empty)")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}

			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				ended, duration := "open", ""
				if !s.Open() {
					ended = s.EndedAt.Local().Format(historyTimeLayout)
					duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []string{
					shortID(s.ID),
					string(s.Instance),
					s.Source,
					s.StartedAt.Local().Format(historyTimeLayout),
					ended,
					duration,
					s.Reason,
				})
			}
			cols := columns("ID", "Instance", "Source", "Started", "Ended", "Duration", "Reason")
			cols[5].Numeric = true
			fmt.Fprintln(out, listing{Columns: cols, Rows: rows, Noun: "session"}.render())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
