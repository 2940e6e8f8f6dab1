package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func sampleSnapshot() *Snapshot {
	var snap Snapshot
	snap.Clock.Synchronized = true
	snap.Clock.Offset = 1_500_000 // 1.5ms
	snap.Clock.PrecisionMs = 0.8
	snap.Devices = []DeviceRow{
		{DeviceID: "phone-2", DeviceType: "android", State: "synchronized", Quality: 0.9, OffsetMs: 5},
		{DeviceID: "phone-1", DeviceType: "android", State: "syncing", Quality: 0, OffsetMs: 0},
	}
	snap.Sessions = []SessionRow{
		{SessionID: "sess-1", Active: true, Quality: 0.85, Devices: []string{"phone-1", "phone-2"}},
	}
	return &snap
}

func TestViewBeforeFirstFetchShowsSpinner(t *testing.T) {
	t.Parallel()

	m := newModel("localhost:8765")
	if !strings.Contains(m.View(), "connecting") {
		t.Errorf("expected connecting view, got:\n%s", m.View())
	}
}

func TestViewDaemonOffline(t *testing.T) {
	t.Parallel()

	m := newModel("localhost:8765")
	updated, _ := m.Update(snapshotMsg(nil))
	view := updated.View()
	if !strings.Contains(view, "daemon offline") {
		t.Errorf("expected offline view, got:\n%s", view)
	}
}

func TestViewRendersSnapshot(t *testing.T) {
	t.Parallel()

	m := newModel("localhost:8765")
	updated, _ := m.Update(snapshotMsg(sampleSnapshot()))
	view := updated.View()

	for _, want := range []string{"clock synchronized", "offset=1.50ms", "phone-1", "phone-2", "sess-1", "active"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got:\n%s", want, view)
		}
	}
}

func TestDeviceRowsSortedByID(t *testing.T) {
	t.Parallel()

	rows := deviceRows(sampleSnapshot().Devices)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "phone-1" || rows[1][0] != "phone-2" {
		t.Errorf("expected rows sorted by device ID, got %v", rows)
	}
}

func TestQuitKey(t *testing.T) {
	t.Parallel()

	m := newModel("localhost:8765")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("expected quit message")
	}
}

func TestParseSnapshot(t *testing.T) {
	t.Parallel()

	snap, err := parseSnapshot([]byte(`{"clock":{"Synchronized":true,"Offset":2000000,"PrecisionMs":1.0},"devices":[],"sessions":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !snap.Clock.Synchronized || snap.Clock.Offset != 2000000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if _, err := parseSnapshot([]byte("nope")); err == nil {
		t.Fatal("expected parse error")
	}
}
