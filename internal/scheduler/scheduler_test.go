package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
)

func newTestScheduler(t *testing.T) (*Scheduler, *config.Config, *db.Journal) {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	journal, err := db.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	return NewScheduler(cfg, bus, journal), cfg, journal
}

func TestCalculateNextMaintenanceTime(t *testing.T) {
	sched, cfg, _ := newTestScheduler(t)

	app := cfg.GetApplicationData()
	app.Maintenance.CleanupTime = "03:30"
	cfg.SetApplicationData(app)

	next := sched.calculateNextMaintenanceTime()
	require.Equal(t, 3, next.Hour())
	require.Equal(t, 30, next.Minute())
	require.True(t, next.After(time.Now()))
	require.True(t, time.Until(next) <= 24*time.Hour)
}

func TestCalculateNextMaintenanceTimeBadFormat(t *testing.T) {
	sched, cfg, _ := newTestScheduler(t)

	app := cfg.GetApplicationData()
	app.Maintenance.CleanupTime = "not-a-time"
	cfg.SetApplicationData(app)

	// Falls back to the 4:00 AM default.
	next := sched.calculateNextMaintenanceTime()
	require.Equal(t, 4, next.Hour())
	require.Equal(t, 0, next.Minute())
	require.True(t, next.After(time.Now()))
}

func TestRunMaintenanceTrimsJournal(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	journal, err := db.NewJournal(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	// Backdated rows go in through a second handle on the same file.
	raw, err := db.NewDatabase(dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(
		`INSERT INTO feed (kind, actor, target, team, created_at) VALUES ('frag', 'Vex', 'Crash', 0, datetime('now', '-40 days'))`)
	require.NoError(t, err)
	_, err = raw.Exec(
		`INSERT INTO feed (kind, actor, target, team, created_at) VALUES ('frag', 'Crash', 'Vex', 1, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	sched := NewScheduler(cfg, bus, journal)
	sched.runMaintenance(context.Background())

	recent, err := journal.RecentFeed(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "Crash", recent[0].Actor)
}

func TestPruneLogsKeepsNewest(t *testing.T) {
	sched, cfg, _ := newTestScheduler(t)

	logDir := t.TempDir()
	app := cfg.GetApplicationData()
	app.Logging.Directory = logDir
	app.Logging.MaxBackups = 2
	cfg.SetApplicationData(app)

	names := []string{
		"lanlink_2026-08-20_10-00-00.log",
		"lanlink_2026-08-21_10-00-00.log",
		"lanlink_2026-08-22_10-00-00.log",
		"lanlink_2026-08-23_10-00-00.log",
	}
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(logDir, name), []byte("log line\n"), 0644))
	}
	// Non-log files are left alone.
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "notes.txt"), []byte("keep"), 0644))

	sched.pruneLogs()

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)

	var kept []string
	for _, entry := range entries {
		kept = append(kept, entry.Name())
	}
	require.ElementsMatch(t, []string{
		"lanlink_2026-08-22_10-00-00.log",
		"lanlink_2026-08-23_10-00-00.log",
		"notes.txt",
	}, kept)
}

func TestPruneLogsUnderLimit(t *testing.T) {
	sched, cfg, _ := newTestScheduler(t)

	logDir := t.TempDir()
	app := cfg.GetApplicationData()
	app.Logging.Directory = logDir
	app.Logging.MaxBackups = 5
	cfg.SetApplicationData(app)

	require.NoError(t, os.WriteFile(filepath.Join(logDir, "lanlink_2026-08-23_10-00-00.log"), []byte("x"), 0644))

	sched.pruneLogs()

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", formatBytes(512))
	require.Equal(t, "1.00 KB", formatBytes(1024))
	require.Equal(t, "2.50 MB", formatBytes(2621440))
	require.Equal(t, "1.00 GB", formatBytes(1073741824))
}
