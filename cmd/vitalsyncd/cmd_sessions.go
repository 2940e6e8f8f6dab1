package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vitalsync/pkg/eventlog"
)

// newSessionsCmd creates the "vitalsyncd sessions" subcommand. It
// reads the journal directly, so it works with or without a running
// daemon.
func newSessionsCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := eventlog.NewReader(dbPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer func() { _ = reader.Close() }()

			rows, err := reader.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
				return nil
			}
			for _, s := range rows {
				state := "active"
				duration := "-"
				quality := "-"
				if !s.Active {
					state = "stopped"
					if s.StopTimestamp.Valid {
						d := time.Duration((s.StopTimestamp.Float64 - s.StartTimestamp) * float64(time.Second))
						duration = d.Round(time.Second).String()
					}
					if s.Quality.Valid {
						quality = fmt.Sprintf("%.2f", s.Quality.Float64)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-8s start=%s duration=%-8s quality=%s devices=%s\n",
					s.SessionID, state,
					time.Unix(int64(s.StartTimestamp), 0).Format(time.RFC3339),
					duration, quality, s.Devices)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", eventlog.DefaultDBPath(), "path to the journal database")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list (0 for all)")

	return cmd
}
