// Package health runs the periodic background checks of a crawlspace
// process: heartbeats for telemetry, a session registry sweep and disk
// monitoring of the world directory.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/util"
)

// ReasonSwept is the leave reason recorded for sessions removed by the sweep.
const ReasonSwept = "swept"

const diskCheckInterval = 10 * time.Minute

// ConnectionCounter reports open game connections, logged in or not.
type ConnectionCounter interface {
	Connections() int64
}

// Manager runs periodic health checks.
type Manager struct {
	eventBus *events.EventBus
	sessions *session.Registry
	conns    ConnectionCounter
	worldDir string
	started  time.Time
	logger   zerolog.Logger

	heartbeatInterval time.Duration
	sweepInterval     time.Duration
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, sessions *session.Registry, conns ConnectionCounter) *Manager {
	s := cfg.Snapshot()
	return &Manager{
		eventBus:          eventBus,
		sessions:          sessions,
		conns:             conns,
		worldDir:          s.World.Directory,
		started:           time.Now(),
		logger:            util.ComponentLogger("health"),
		heartbeatInterval: time.Duration(s.Timers.HeartbeatIntervalSec) * time.Second,
		sweepInterval:     time.Duration(s.Timers.SweepIntervalSec) * time.Second,
	}
}

// Start launches every check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"heartbeat", m.heartbeatInterval, m.heartbeat},
		{"session_sweep", m.sweepInterval, m.sweep},
		{"disk_utilization", diskCheckInterval, m.checkDiskUtilization},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// Heartbeat collects the current counts and host usage.
func (m *Manager) Heartbeat() events.HeartbeatPayload {
	hb := events.HeartbeatPayload{
		Online:        m.sessions.Count(),
		Max:           m.sessions.Max(),
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
	}
	if m.conns != nil {
		hb.Connections = m.conns.Connections()
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		hb.CPUPercent = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		hb.MemoryPercent = mem.UsedPercent
	}
	return hb
}

func (m *Manager) heartbeat(ctx context.Context) {
	hb := m.Heartbeat()
	m.logger.Debug().
		Int("online", hb.Online).
		Int64("connections", hb.Connections).
		Float64("cpu", hb.CPUPercent).
		Msg("heartbeat")

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health",
		Payload: hb,
	})
}

// sweep removes registry entries whose connection is gone and reports them
// as left so downstream consumers stay consistent.
func (m *Manager) sweep(ctx context.Context) {
	removed := m.sessions.Sweep()
	if len(removed) == 0 {
		return
	}

	now := time.Now()
	for _, e := range removed {
		m.logger.Warn().
			Str("player", e.Name).
			Str("uuid", e.UUID.String()).
			Uint64("conn_id", e.ConnID).
			Msg("swept orphaned session")

		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventPlayerLeft,
			Source: "health",
			Payload: events.PlayerPayload{
				UUID:     e.UUID.String(),
				Name:     e.Name,
				Remote:   e.Remote,
				ConnID:   e.ConnID,
				Reason:   ReasonSwept,
				JoinedAt: e.JoinedAt,
				At:       now,
			},
		})
	}
}

// checkDiskUtilization warns when the disk holding the world fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := m.worldDir
	if path == "" {
		path = "."
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		m.logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	level := diskAlertLevel(usage.UsedPercent)
	if level == zerolog.NoLevel {
		return
	}
	m.logger.WithLevel(level).
		Str("path", path).
		Msg(fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
			usage.UsedPercent, usage.Free, usage.Total))
}

// diskAlertLevel maps disk usage to a log level; NoLevel means no alert.
func diskAlertLevel(usedPercent float64) zerolog.Level {
	switch {
	case usedPercent >= 95:
		return zerolog.ErrorLevel
	case usedPercent >= 90:
		return zerolog.WarnLevel
	case usedPercent >= 80:
		return zerolog.InfoLevel
	default:
		return zerolog.NoLevel
	}
}
