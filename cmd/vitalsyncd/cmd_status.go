package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const statusTimeout = 5 * time.Second

// newStatusCmd creates the "vitalsyncd status" subcommand. It queries
// a running daemon's /status endpoint.
func newStatusCmd() *cobra.Command {
	var addr string
	var raw bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state",
		Long:  "Queries the running daemon and displays the reference clock, connected\ndevices, active sessions and queue counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: statusTimeout}
			resp, err := client.Get("http://" + addr + "/status")
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			return renderStatus(cmd.OutOrStdout(), body)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8765", "daemon address")
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON snapshot")

	return cmd
}

// statusDoc mirrors the daemon's /status payload, loosely typed so the
// CLI stays compatible with older daemons.
type statusDoc struct {
	Clock struct {
		Synchronized bool    `json:"Synchronized"`
		Offset       int64   `json:"Offset"` // nanoseconds
		PrecisionMs  float64 `json:"PrecisionMs"`
	} `json:"clock"`
	Devices []struct {
		DeviceID string  `json:"DeviceID"`
		State    string  `json:"State"`
		Quality  float64 `json:"Quality"`
		OffsetMs float64 `json:"OffsetMs"`
	} `json:"devices"`
	Sessions []struct {
		SessionID string  `json:"SessionID"`
		Active    bool    `json:"Active"`
		Quality   float64 `json:"Quality"`
	} `json:"sessions"`
}

func renderStatus(w io.Writer, body []byte) error {
	var doc statusDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	styled := isatty.IsTerminal(os.Stdout.Fd())
	good := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	bad := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	paint := func(ok bool, s string) string {
		if !styled {
			return s
		}
		if ok {
			return good.Render(s)
		}
		return bad.Render(s)
	}

	fmt.Fprintf(w, "clock: %s  offset=%.2fms  precision=%.2fms\n",
		paint(doc.Clock.Synchronized, syncWord(doc.Clock.Synchronized)),
		float64(doc.Clock.Offset)/1e6, doc.Clock.PrecisionMs)

	fmt.Fprintf(w, "devices (%d):\n", len(doc.Devices))
	for _, d := range doc.Devices {
		fmt.Fprintf(w, "  %-20s %-14s quality=%.2f offset=%.1fms\n",
			d.DeviceID, paint(d.State == "synchronized", d.State), d.Quality, d.OffsetMs)
	}

	fmt.Fprintf(w, "sessions (%d):\n", len(doc.Sessions))
	for _, s := range doc.Sessions {
		state := "stopped"
		if s.Active {
			state = "active"
		}
		fmt.Fprintf(w, "  %-30s %-8s quality=%.2f\n", s.SessionID, paint(s.Active, state), s.Quality)
	}
	return nil
}

func syncWord(ok bool) string {
	if ok {
		return "synchronized"
	}
	return "unsynchronized"
}
