// Package scheduler implements background task scheduling for the
// lanlink node: daily journal maintenance and log directory pruning.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	journal  *db.Journal
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, journal *db.Journal) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		journal:  journal,
	}
}

// Start begins running all scheduled tasks.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	// Journal maintenance - runs at configured time daily
	if s.cfg.GetApplicationData().Maintenance.Enabled && s.journal != nil {
		go s.runMaintenanceLoop(ctx)
	}

	// Log directory pruning
	go s.runLogPruneLoop(ctx)

	// Block until context is cancelled
	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runMaintenanceLoop runs journal maintenance at the configured time.
func (s *Scheduler) runMaintenanceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Calculate time until next maintenance run
		nextRun := s.calculateNextMaintenanceTime()
		sleepDuration := time.Until(nextRun)

		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("journal maintenance scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runMaintenance(ctx)
		}
	}
}

// runMaintenance trims the journal to the retention window.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	app := s.cfg.GetApplicationData()
	maint := app.Maintenance

	log.Info().
		Int("retention_days", maint.RetentionDays).
		Msg("running journal maintenance")

	removed, err := s.journal.CleanOldRecords(maint.RetentionDays)
	if err != nil {
		log.Warn().Err(err).Msg("journal record cleanup failed")
	}

	if err := s.journal.CleanOldAlerts(maint.RetentionDays); err != nil {
		log.Warn().Err(err).Msg("alert cleanup failed")
	}

	if maint.VacuumAfter {
		if err := s.journal.Vacuum(); err != nil {
			log.Warn().Err(err).Msg("journal vacuum failed")
		}
	}

	var dbSize int64
	if info, err := os.Stat(app.Database.Path); err == nil {
		dbSize = info.Size()
	}
	logSize := dirSize(app.Logging.Directory)

	log.Info().
		Int64("removed_rows", removed).
		Str("journal_size", formatBytes(dbSize)).
		Str("log_dir_size", formatBytes(logSize)).
		Msg("journal maintenance completed")

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "scheduler",
		Payload: map[string]interface{}{
			"type":          "maintenance",
			"removed_rows":  removed,
			"journal_bytes": dbSize,
			"log_dir_bytes": logSize,
		},
	})
}

// runLogPruneLoop prunes the log directory on the cleanup interval.
func (s *Scheduler) runLogPruneLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.GetApplicationData().Timers.TaskCleanupInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneLogs()
		}
	}
}

// pruneLogs removes the oldest log files beyond the configured backup
// count. Each node start opens a fresh timestamped log file, so the
// directory grows one file per run.
func (s *Scheduler) pruneLogs() {
	logging := s.cfg.GetApplicationData().Logging

	entries, err := os.ReadDir(logging.Directory)
	if err != nil {
		return
	}

	var logs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			logs = append(logs, entry.Name())
		}
	}

	keep := logging.MaxBackups
	if keep < 1 {
		keep = 1
	}
	if len(logs) <= keep {
		return
	}

	// Timestamped names sort oldest first.
	sort.Strings(logs)

	var (
		deletedCount int
		deletedSize  int64
	)
	for _, name := range logs[:len(logs)-keep] {
		path := filepath.Join(logging.Directory, name)
		if info, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err == nil {
				deletedCount++
				deletedSize += info.Size()
				log.Debug().Str("file", name).Msg("deleted old log file")
			}
		}
	}

	if deletedCount > 0 {
		log.Info().
			Int("deleted_files", deletedCount).
			Str("freed_space", formatBytes(deletedSize)).
			Msg("log prune completed")
	}
}

// calculateNextMaintenanceTime returns the next time maintenance should run.
func (s *Scheduler) calculateNextMaintenanceTime() time.Time {
	cleanupTime := s.cfg.GetApplicationData().Maintenance.CleanupTime
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if next.Before(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}

// dirSize sums the top-level file sizes in dir. A missing directory
// counts as empty.
func dirSize(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
