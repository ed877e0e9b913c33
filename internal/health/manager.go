// Package health implements periodic health check monitoring for the
// node: link liveness, disk utilization, peer stall pressure, and
// stats polling.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/stats"
	"github.com/lanlink-project/lanlink/internal/util"
)

// Manager runs periodic health checks over the session and the host.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  *lan.Session
	tracker  *stats.Tracker
	stalls   *StallMonitor

	mu             sync.Mutex
	lastStatus     string
	lastSendErrors uint64
}

// NewManager creates a new health check manager.
func NewManager(
	cfg *config.Config,
	eventBus *events.EventBus,
	session *lan.Session,
	tracker *stats.Tracker,
	stalls *StallMonitor,
) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
		tracker:  tracker,
		stalls:   stalls,
	}
}

// Start launches all health check goroutines and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	// Launch each health check as a separate goroutine with its own ticker
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"stats_polling", timers.StatsPollingInterval, m.pollStats},
		{"general_health", timers.GeneralHealthInterval, m.checkGeneralHealth},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
		{"stall_pressure", timers.JitterCheckInterval, m.checkStallPressure},
	}

	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			// Run immediately on startup
			log.Debug().Str("check", check.name).Msg("running initial health check")
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

	// Heartbeat (special: publishes MQTT status)
	go m.heartbeatLoop(ctx, time.Duration(timers.HeartbeatInterval)*time.Second)

	log.Info().Int("checks", len(checks)).Msg("health check manager started")

	// Block until context is cancelled
	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// pollStats takes one gauge sample.
func (m *Manager) pollStats(ctx context.Context) {
	m.tracker.Poll()
}

// checkGeneralHealth watches the link status and the send-error rate.
func (m *Manager) checkGeneralHealth(ctx context.Context) {
	view := m.session.View()
	status := view.Status.String()

	m.mu.Lock()
	prevStatus := m.lastStatus
	prevSendErrors := m.lastSendErrors
	m.lastStatus = status
	m.lastSendErrors = view.Counters.SendErrors
	m.mu.Unlock()

	log.Debug().
		Str("status", status).
		Int("peers", len(view.Peers)).
		Uint64("packets_sent", view.Counters.PacketsSent).
		Uint64("packets_received", view.Counters.PacketsReceived).
		Msg("general health")

	if prevStatus != "" && prevStatus != status {
		severity := "info"
		if status != "up" {
			severity = "warning"
		}
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventAlertRaised,
			Source: "health_check",
			Payload: events.AlertPayload{
				Severity: severity,
				Message:  fmt.Sprintf("link status changed from %s to %s", prevStatus, status),
			},
		})
	}

	if grew := view.Counters.SendErrors - prevSendErrors; grew > 0 {
		log.Warn().Uint64("new_errors", grew).Msg("broadcast send errors accumulating")
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventAlertRaised,
			Source: "health_check",
			Payload: events.AlertPayload{
				Severity: "warning",
				Message:  fmt.Sprintf("%d broadcast send errors since the last check", grew),
			},
		})
	}
}

// checkDiskUtilization monitors the journal volume and alerts at
// thresholds.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	app := m.cfg.GetApplicationData()
	path := filepath.Dir(app.Database.Path)
	if path == "" || path == "." {
		path = "/"
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	// Alert thresholds: 80%, 90%, 95%, 100%
	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	default:
		return // No alert needed
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)

	log.Warn().Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventAlertRaised,
		Source:  "health_check",
		Payload: events.AlertPayload{Severity: level, Message: message},
	})

	if app.Webhook.NotifyOnDisk {
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventNotifyWebhook,
			Source: "health_check",
			Payload: events.NotifyWebhookPayload{
				Title:   "Disk Space Alert",
				Message: message,
				Level:   level,
			},
		})
	}
}

// checkStallPressure grades peer link quality from accumulated stall
// reports.
func (m *Manager) checkStallPressure(ctx context.Context) {
	alerts := m.stalls.CheckThresholds()
	if len(alerts) == 0 {
		return
	}

	notify := m.cfg.GetApplicationData().Webhook.NotifyOnStall
	for _, alert := range alerts {
		log.Warn().
			Str("peer", alert.Callsign).
			Str("level", alert.Level).
			Int("stalls", alert.Stalls).
			Msg("stall threshold alert")

		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventAlertRaised,
			Source:  "stall_monitor",
			Payload: events.AlertPayload{Severity: alert.Level, Message: alert.Message},
		})

		if alert.Level == "critical" && notify {
			m.eventBus.Emit(ctx, events.Event{
				Type:   events.EventNotifyWebhook,
				Source: "stall_monitor",
				Payload: events.NotifyWebhookPayload{
					Title:   "Peer Link Alert",
					Message: alert.Message,
					Level:   "error",
				},
			})
		}
	}
}

// heartbeatLoop publishes periodic node status via MQTT.
func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			view := m.session.View()
			tally := m.tracker.Tally()
			m.eventBus.Emit(ctx, events.Event{
				Type:   events.EventNotifyMQTT,
				Source: "heartbeat",
				Payload: map[string]interface{}{
					"type":           "heartbeat",
					"status":         view.Status.String(),
					"callsign":       view.Self.Callsign,
					"peers":          len(view.Peers),
					"clock":          view.Clock,
					"uptime_seconds": int64(tally.UptimeSeconds),
					"frags":          tally.Actors[view.Self.Callsign].Frags,
					"timestamp":      time.Now().Unix(),
				},
			})
		}
	}
}
