// Package config loads the vitalsync daemon configuration from a TOML
// file plus an optional YAML device-profile file, and can watch the
// TOML file for live edits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level daemon configuration. Durations are plain
// numbers in the file (seconds or milliseconds as the field name says)
// so the file stays editable without unit syntax.
type Config struct {
	Listen   string         `toml:"listen"` // device websocket bind address
	Journal  JournalConfig  `toml:"journal"`
	Clock    ClockConfig    `toml:"clock"`
	TimeSync TimeSyncConfig `toml:"time_sync"`
	Sessions SessionConfig  `toml:"sessions"`
	Offline  OfflineConfig  `toml:"offline"`
	Frames   FramesConfig   `toml:"frames"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Path    string `toml:"path"`
	Disable bool   `toml:"disable"`
}

// ClockConfig controls the NTP reference tracker.
type ClockConfig struct {
	Servers       []string `toml:"servers"`
	SyncIntervalS int      `toml:"sync_interval_s"`
	QueryTimeoutS int      `toml:"query_timeout_s"`
}

// TimeSyncConfig controls the TCP time server devices query.
type TimeSyncConfig struct {
	Port    int `toml:"port"`
	Workers int `toml:"workers"`
}

// SessionConfig controls the session coordinator.
type SessionConfig struct {
	SyncIntervalS    int     `toml:"sync_interval_s"`
	ToleranceMs      float64 `toml:"tolerance_ms"`
	QualityThreshold float64 `toml:"quality_threshold"`
}

// OfflineConfig controls offline queueing and recovery.
type OfflineConfig struct {
	MaxRetries  int `toml:"max_retries"`
	CutoffS     int `toml:"cutoff_s"`
	PruneEveryS int `toml:"prune_every_s"`
}

// FramesConfig controls the frame synchronizer.
type FramesConfig struct {
	Strategy           string  `toml:"strategy"`
	NominalThresholdMs float64 `toml:"nominal_threshold_ms"`
	AdaptRate          float64 `toml:"adapt_rate"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Listen: ":8765",
		Clock: ClockConfig{
			SyncIntervalS: 300,
			QueryTimeoutS: 5,
		},
		TimeSync: TimeSyncConfig{
			Port:    8889,
			Workers: 10,
		},
		Sessions: SessionConfig{
			SyncIntervalS:    5,
			ToleranceMs:      50,
			QualityThreshold: 0.7,
		},
		Offline: OfflineConfig{
			MaxRetries:  3,
			CutoffS:     300,
			PruneEveryS: 30,
		},
		Frames: FramesConfig{
			Strategy:           "adaptive_hybrid",
			NominalThresholdMs: 1000.0 / 60.0,
			AdaptRate:          0.1,
		},
	}
}

// Load reads a TOML config file, layering it over the defaults. A
// missing file returns the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.vitalsync/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".vitalsync", "config.toml")
}

// SyncInterval returns the clock sync interval as a duration.
func (c ClockConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalS) * time.Second
}

// QueryTimeout returns the NTP query timeout as a duration.
func (c ClockConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutS) * time.Second
}

// SyncInterval returns the device monitor interval as a duration.
func (c SessionConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalS) * time.Second
}

// Cutoff returns the offline prune cutoff as a duration.
func (c OfflineConfig) Cutoff() time.Duration {
	return time.Duration(c.CutoffS) * time.Second
}

// PruneEvery returns the prune loop interval as a duration.
func (c OfflineConfig) PruneEvery() time.Duration {
	return time.Duration(c.PruneEveryS) * time.Second
}
