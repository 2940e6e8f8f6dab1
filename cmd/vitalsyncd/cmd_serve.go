package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vitalsync/pkg/clockref"
	"vitalsync/pkg/config"
	"vitalsync/pkg/coordinator"
	"vitalsync/pkg/devserver"
	"vitalsync/pkg/eventlog"
	"vitalsync/pkg/framesync"
	"vitalsync/pkg/protocol"
	"vitalsync/pkg/sessionsync"
	"vitalsync/pkg/timeserver"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd creates the "vitalsyncd serve" subcommand.
func newServeCmd() *cobra.Command {
	var (
		configPath   string
		profilesPath string
		listenFlag   string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		Long:  "Starts the reference clock tracker, the device time server, the device\nwebsocket endpoint and the session coordinator, and serves until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(log)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenFlag != "" {
				cfg.Listen = listenFlag
			}
			profiles, err := config.LoadProfiles(profilesPath)
			if err != nil {
				return err
			}

			return runServe(cmd.Context(), cfg, profiles, configPath, log)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to the TOML config file")
	cmd.Flags().StringVar(&profilesPath, "profiles", defaultProfilesPath(), "path to the YAML device profile file")
	cmd.Flags().StringVar(&listenFlag, "listen", "", "override the websocket listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func defaultProfilesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "devices.yaml"
	}
	return filepath.Join(home, ".vitalsync", "devices.yaml")
}

// refClock is a swappable reference clock so a config reload can
// replace the NTP tracker without restarting the daemon.
type refClock struct {
	tracker atomic.Pointer[clockref.Tracker]
}

func (r *refClock) Timestamp() float64   { return r.tracker.Load().Timestamp() }
func (r *refClock) PrecisionMs() float64 { return r.tracker.Load().PrecisionMs() }

// queuingLink sends through the device link and diverts undeliverable
// messages into the offline queues, tagged with the device's profile
// priority.
type queuingLink struct {
	link     *devserver.Server
	queue    *sessionsync.Synchronizer
	profiles config.Profiles
}

func (q *queuingLink) Send(deviceID string, msg protocol.Message) error {
	err := q.link.Send(deviceID, msg)
	var unreachable *protocol.DeviceUnreachableError
	if errors.As(err, &unreachable) {
		q.queue.QueueMessage(deviceID, msg, q.profiles.PriorityFor(deviceID))
	}
	return err
}

// deviceEvents bridges the websocket server to the coordinator and
// the frame synchronizer. It exists because the coordinator and the
// server each need a handle on the other; the bridge is completed
// before the listener starts.
type deviceEvents struct {
	coord  *coordinator.Coordinator
	frames *framesync.Synchronizer
	clock  *refClock
}

func (e *deviceEvents) HandleDeviceConnected(deviceID string, deviceType protocol.DeviceType) {
	e.coord.HandleDeviceConnected(deviceID, deviceType)
}

func (e *deviceEvents) HandleDeviceDisconnected(deviceID string) {
	e.coord.HandleDeviceDisconnected(deviceID)
}

func (e *deviceEvents) HandleDeviceMessage(deviceID string, msg protocol.Message) {
	e.coord.HandleDeviceMessage(deviceID, msg)
	if msg.FrameStat != nil && msg.Timestamp > 0 {
		// Pair every reported frame with a reference-clock frame so
		// the synchronizer can track offset and drift per device.
		e.frames.SubmitFrame(framesync.SyncFrame{
			DeviceID: "reference", Timestamp: e.clock.Timestamp(),
		})
		e.frames.SubmitFrame(framesync.SyncFrame{
			DeviceID:  deviceID,
			Sequence:  msg.FrameStat.FrameCount,
			Timestamp: msg.Timestamp,
		})
		if _, err := e.frames.Synchronize("reference", deviceID); err != nil {
			slog.Debug("framesync: alignment skipped", "device", deviceID, "error", err)
		}
	}
}

func runServe(ctx context.Context, cfg config.Config, profiles config.Profiles, configPath string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event journal.
	var journal *eventlog.Log
	if !cfg.Journal.Disable {
		path := cfg.Journal.Path
		if path == "" {
			path = eventlog.DefaultDBPath()
		}
		var err error
		journal, err = eventlog.Open(path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = journal.Close() }()
		log.Info("journal open", "path", path)
	}

	// Reference clock.
	clock := &refClock{}
	tracker := clockref.New(clockref.Config{
		Servers:      cfg.Clock.Servers,
		SyncInterval: cfg.Clock.SyncInterval(),
		QueryTimeout: cfg.Clock.QueryTimeout(),
	}, log)
	clock.tracker.Store(tracker)
	tracker.Start()
	defer func() { clock.tracker.Load().Stop() }()

	// Device time server.
	tsrv := timeserver.New(timeserver.Config{
		Port:    cfg.TimeSync.Port,
		Workers: cfg.TimeSync.Workers,
	}, clock, log)
	if err := tsrv.Start(); err != nil {
		return fmt.Errorf("time server: %w", err)
	}
	defer tsrv.Stop()
	log.Info("time server listening", "addr", tsrv.Addr())

	// Frame synchronizer.
	frames := framesync.New(framesync.Config{
		Strategy:           framesync.Strategy(cfg.Frames.Strategy),
		NominalThresholdMs: cfg.Frames.NominalThresholdMs,
		AdaptRate:          cfg.Frames.AdaptRate,
	}, log)

	// Websocket device link, session coordinator and offline queues.
	// The bridge is filled in before the listener starts serving.
	events := &deviceEvents{frames: frames, clock: clock}
	devsrv := devserver.New(devserver.Config{}, events, nil, log)

	offline := sessionsync.New(sessionsync.Config{
		MaxRetries:    cfg.Offline.MaxRetries,
		OfflineCutoff: cfg.Offline.Cutoff(),
		PruneInterval: cfg.Offline.PruneEvery(),
	}, devsrv, log)
	offline.Start()
	defer offline.Stop()

	coord := coordinator.New(coordinator.Config{
		SyncInterval:     cfg.Sessions.SyncInterval(),
		ToleranceMs:      cfg.Sessions.ToleranceMs,
		QualityThreshold: cfg.Sessions.QualityThreshold,
	}, clock, &queuingLink{link: devsrv, queue: offline, profiles: profiles}, journal, log)
	events.coord = coord
	coord.Start()
	defer coord.Stop()

	devsrv.SetRecovery(offline)
	for id := range profiles.Devices {
		offline.RegisterDevice(id)
	}
	devsrv.SetStatusFunc(func() any {
		return statusSnapshot(clock, tsrv, coord, offline, frames)
	})

	// Config hot-reload: swapping NTP servers rebuilds the tracker in
	// place; anything else takes effect on restart.
	watcher, err := config.Watch(configPath, func(next config.Config) {
		if equalServers(next.Clock.Servers, cfg.Clock.Servers) {
			return
		}
		log.Info("clock servers changed, restarting tracker", "servers", next.Clock.Servers)
		fresh := clockref.New(clockref.Config{
			Servers:      next.Clock.Servers,
			SyncInterval: next.Clock.SyncInterval(),
			QueryTimeout: next.Clock.QueryTimeout(),
		}, log)
		fresh.Start()
		old := clock.tracker.Swap(fresh)
		old.Stop()
		cfg.Clock.Servers = next.Clock.Servers
	}, log)
	if err != nil {
		log.Warn("config watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           devsrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("device link listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	devsrv.Close()
	return nil
}

func equalServers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// statusSnapshot assembles the /status payload.
func statusSnapshot(clock *refClock, tsrv *timeserver.Server, coord *coordinator.Coordinator, offline *sessionsync.Synchronizer, frames *framesync.Synchronizer) map[string]any {
	return map[string]any{
		"clock":     clock.tracker.Load().Status(),
		"time_sync": tsrv.Stats(),
		"devices":   coord.Devices(),
		"sessions":  coord.Sessions(),
		"offline":   offline.Stats(),
		"frames":    frames.Report(),
	}
}
