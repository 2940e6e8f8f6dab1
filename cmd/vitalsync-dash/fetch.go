package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// fetchTimeout is how long to wait for a daemon round-trip.
const fetchTimeout = 5 * time.Second

// Snapshot is the dashboard's view of the daemon's /status payload.
type Snapshot struct {
	Clock struct {
		Synchronized bool    `json:"Synchronized"`
		Offset       int64   `json:"Offset"` // nanoseconds
		PrecisionMs  float64 `json:"PrecisionMs"`
	} `json:"clock"`
	TimeSync struct {
		TotalRequests int64   `json:"TotalRequests"`
		ActiveClients int     `json:"ActiveClients"`
		AvgResponseMs float64 `json:"AvgResponseMs"`
	} `json:"time_sync"`
	Devices  []DeviceRow  `json:"devices"`
	Sessions []SessionRow `json:"sessions"`
	Offline  struct {
		Queued  int64 `json:"Queued"`
		Dropped int64 `json:"Dropped"`
	} `json:"offline"`
}

// DeviceRow is one device in the snapshot.
type DeviceRow struct {
	DeviceID   string  `json:"DeviceID"`
	DeviceType string  `json:"DeviceType"`
	State      string  `json:"State"`
	Quality    float64 `json:"Quality"`
	OffsetMs   float64 `json:"OffsetMs"`
	FrameCount int64   `json:"FrameCount"`
}

// SessionRow is one session in the snapshot.
type SessionRow struct {
	SessionID string   `json:"SessionID"`
	Active    bool     `json:"Active"`
	Quality   float64  `json:"Quality"`
	Devices   []string `json:"Devices"`
}

// fetchSnapshot queries the daemon's /status endpoint. A nil snapshot
// with an error means the daemon is offline.
func fetchSnapshot(ctx context.Context, addr string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseSnapshot(body)
}

// parseSnapshot decodes a /status payload.
func parseSnapshot(body []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}
