package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vitalsync/pkg/eventlog"
)

// newLogsCmd creates the "vitalsyncd logs" subcommand for querying the
// event journal.
func newLogsCmd() *cobra.Command {
	var (
		dbPath    string
		deviceID  string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the event journal",
		Long:  "Prints journal events newest first, optionally filtered by device or\nevent type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := eventlog.NewReader(dbPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer func() { _ = reader.Close() }()

			events, err := reader.Query(cmd.Context(), eventlog.QueryOpts{
				DeviceID:  deviceID,
				EventType: eventType,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching events")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-20s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type)
				if e.DeviceID != "" {
					line += "  device=" + e.DeviceID
				}
				if e.SessionID != "" {
					line += "  session=" + e.SessionID
				}
				if e.Payload != "" {
					line += "  " + e.Payload
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", eventlog.DefaultDBPath(), "path to the journal database")
	cmd.Flags().StringVar(&deviceID, "device", "", "filter by device ID")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to print (0 for all)")

	return cmd
}
