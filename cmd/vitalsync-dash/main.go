// Package main implements the vitalsync-dash interactive dashboard.
// It polls a running vitalsyncd daemon and renders the reference
// clock, connected devices and active sessions.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "localhost:8765", "vitalsyncd address")
	flag.Parse()

	p := tea.NewProgram(newModel(*addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
