package main

import (
	"os"
	"strings"
	"testing"
)

// TestREADMEDocumentsCLI keeps the README in step with the commands
// and config keys the binaries actually expose.
func TestREADMEDocumentsCLI(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	required := []string{
		"vitalsyncd serve",
		"vitalsyncd status",
		"vitalsyncd sessions",
		"vitalsyncd logs",
		"vitalsync-dash",
	}
	for _, cmd := range required {
		if !strings.Contains(readmeText, cmd) {
			t.Errorf("README.md missing command %q", cmd)
		}
	}

	configKeys := []string{
		"tolerance_ms",
		"quality_threshold",
		"max_retries",
		"sync_interval_s",
		"adaptive_hybrid",
	}
	for _, key := range configKeys {
		if !strings.Contains(readmeText, key) {
			t.Errorf("README.md missing config key %q", key)
		}
	}
}
