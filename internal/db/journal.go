package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/events"
)

// Journal persists the match history of the node: which peers were
// seen on the segment, the combat feed, and the share ledger. It
// also stores the alert records raised by the health checks.
type Journal struct {
	db *Database
}

// Sighting is one contiguous appearance of a peer on the segment.
// LeftAt is nil while the peer is still in the table.
type Sighting struct {
	ID       int        `json:"id"`
	Addr     string     `json:"addr"`
	Callsign string     `json:"callsign"`
	Team     int        `json:"team"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// FeedEntry is one persisted combat feed line.
type FeedEntry struct {
	ID        int       `json:"id"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Team      int       `json:"team"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareEntry is one cash/score grant received from a peer, including
// the catch-up bonuses handed to fresh joiners.
type ShareEntry struct {
	ID        int       `json:"id"`
	Peer      string    `json:"peer"`
	Cash      int       `json:"cash"`
	Score     int       `json:"score"`
	CatchUp   bool      `json:"catch_up"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareTotal aggregates the ledger per peer.
type ShareTotal struct {
	Peer   string `json:"peer"`
	Cash   int    `json:"cash"`
	Score  int    `json:"score"`
	Grants int    `json:"grants"`
}

// Alert represents an alert record.
type Alert struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJournal opens (creating if needed) the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}

	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	return j, nil
}

// migrate creates the database schema.
func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			addr TEXT NOT NULL,
			callsign TEXT NOT NULL DEFAULT '',
			team INTEGER NOT NULL DEFAULT 0,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			left_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS feed (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			team INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS shares (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer TEXT NOT NULL,
			cash INTEGER NOT NULL DEFAULT 0,
			score INTEGER NOT NULL DEFAULT 0,
			catch_up INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			acknowledged INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_sightings_addr ON sightings(addr);
		CREATE INDEX IF NOT EXISTS idx_sightings_left_at ON sightings(left_at);
		CREATE INDEX IF NOT EXISTS idx_feed_created_at ON feed(created_at);
		CREATE INDEX IF NOT EXISTS idx_shares_peer ON shares(peer);
		CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(type);
		CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts(acknowledged);
	`

	_, err := j.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("journal schema migrated")
	return nil
}

// Attach subscribes the journal to the events it records. Any open
// sightings left over from a previous run are closed first so the
// current session starts from a clean roster.
func (j *Journal) Attach(bus *events.EventBus) {
	if _, err := j.db.Exec(
		"UPDATE sightings SET left_at = CURRENT_TIMESTAMP WHERE left_at IS NULL"); err != nil {
		log.Warn().Err(err).Msg("failed to close stale sightings")
	}

	bus.Subscribe(events.EventPeerJoined, "journal", j.onPeerJoined)
	bus.Subscribe(events.EventPeerLost, "journal", j.onPeerLost)
	bus.Subscribe(events.EventFeed, "journal", j.onFeed)
	bus.Subscribe(events.EventShareReceived, "journal", j.onShare)
	bus.Subscribe(events.EventCatchUpSent, "journal", j.onShare)
	bus.Subscribe(events.EventAlertRaised, "journal", j.onAlert)
}

func (j *Journal) onPeerJoined(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PeerPayload)
	if !ok {
		return nil
	}
	_, err := j.db.Exec(
		"INSERT INTO sightings (addr, callsign, team) VALUES (?, ?, ?)",
		p.Addr, p.Callsign, int(p.Team))
	return err
}

func (j *Journal) onPeerLost(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PeerPayload)
	if !ok {
		return nil
	}
	_, err := j.db.Exec(
		"UPDATE sightings SET left_at = CURRENT_TIMESTAMP WHERE addr = ? AND left_at IS NULL",
		p.Addr)
	return err
}

func (j *Journal) onFeed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.FeedPayload)
	if !ok {
		return nil
	}
	_, err := j.db.Exec(
		"INSERT INTO feed (kind, actor, target, team) VALUES (?, ?, ?, ?)",
		p.Kind.String(), p.Actor, p.Target, int(p.Team))
	return err
}

func (j *Journal) onShare(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SharePayload)
	if !ok {
		return nil
	}
	catchUp := 0
	if p.CatchUp {
		catchUp = 1
	}
	_, err := j.db.Exec(
		"INSERT INTO shares (peer, cash, score, catch_up) VALUES (?, ?, ?, ?)",
		p.Peer, p.Cash, p.Score, catchUp)
	return err
}

func (j *Journal) onAlert(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.AlertPayload)
	if !ok {
		return nil
	}
	return j.CreateAlert(event.Source, p.Severity, p.Message)
}

// RecentFeed returns the newest feed entries, newest first.
func (j *Journal) RecentFeed(limit int) ([]FeedEntry, error) {
	rows, err := j.db.Query(
		"SELECT id, kind, actor, target, team, created_at FROM feed ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FeedEntry
	for rows.Next() {
		var e FeedEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Actor, &e.Target, &e.Team, &e.CreatedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// RecentSightings returns the newest sightings, newest first.
func (j *Journal) RecentSightings(limit int) ([]Sighting, error) {
	rows, err := j.db.Query(
		"SELECT id, addr, callsign, team, joined_at, left_at FROM sightings ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSightings(rows)
}

// ActiveSightings returns the peers currently on the segment
// according to the journal (sightings without a departure time).
func (j *Journal) ActiveSightings() ([]Sighting, error) {
	rows, err := j.db.Query(
		"SELECT id, addr, callsign, team, joined_at, left_at FROM sightings WHERE left_at IS NULL ORDER BY joined_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSightings(rows)
}

func scanSightings(rows *sql.Rows) ([]Sighting, error) {
	var sightings []Sighting
	for rows.Next() {
		var s Sighting
		var leftAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.Addr, &s.Callsign, &s.Team, &s.JoinedAt, &leftAt); err != nil {
			continue
		}
		if leftAt.Valid {
			t := leftAt.Time
			s.LeftAt = &t
		}
		sightings = append(sightings, s)
	}
	return sightings, nil
}

// RecentShares returns the newest share grants, newest first.
func (j *Journal) RecentShares(limit int) ([]ShareEntry, error) {
	rows, err := j.db.Query(
		"SELECT id, peer, cash, score, catch_up, created_at FROM shares ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ShareEntry
	for rows.Next() {
		var e ShareEntry
		var catchUp int
		if err := rows.Scan(&e.ID, &e.Peer, &e.Cash, &e.Score, &catchUp, &e.CreatedAt); err != nil {
			continue
		}
		e.CatchUp = catchUp != 0
		entries = append(entries, e)
	}

	return entries, nil
}

// ShareTotals aggregates the share ledger per peer, biggest cash
// total first.
func (j *Journal) ShareTotals() ([]ShareTotal, error) {
	rows, err := j.db.Query(`
		SELECT peer, SUM(cash), SUM(score), COUNT(*)
		FROM shares
		GROUP BY peer
		ORDER BY SUM(cash) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []ShareTotal
	for rows.Next() {
		var t ShareTotal
		if err := rows.Scan(&t.Peer, &t.Cash, &t.Score, &t.Grants); err != nil {
			continue
		}
		totals = append(totals, t)
	}

	return totals, nil
}

// CreateAlert creates a new alert record.
func (j *Journal) CreateAlert(alertType, level, message string) error {
	_, err := j.db.Exec(
		"INSERT INTO alerts (type, level, message) VALUES (?, ?, ?)",
		alertType, level, message)
	return err
}

// GetUnacknowledgedAlerts returns all unacknowledged alerts.
func (j *Journal) GetUnacknowledgedAlerts() ([]Alert, error) {
	rows, err := j.db.Query(
		"SELECT id, type, level, message, created_at FROM alerts WHERE acknowledged = 0 ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Type, &a.Level, &a.Message, &a.CreatedAt); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}

	return alerts, nil
}

// AcknowledgeAlert marks an alert as acknowledged.
func (j *Journal) AcknowledgeAlert(alertID int) error {
	_, err := j.db.Exec("UPDATE alerts SET acknowledged = 1 WHERE id = ?", alertID)
	return err
}

// CleanOldRecords removes feed, share, and closed sighting rows older
// than the specified days. It returns the number of rows removed.
func (j *Journal) CleanOldRecords(days int) (int64, error) {
	cutoff := fmt.Sprintf("-%d days", days)
	var removed int64

	err := j.db.Transaction(func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM feed WHERE created_at < datetime('now', ?)",
			"DELETE FROM shares WHERE created_at < datetime('now', ?)",
			"DELETE FROM sightings WHERE left_at IS NOT NULL AND left_at < datetime('now', ?)",
		} {
			res, err := tx.Exec(stmt, cutoff)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// CleanOldAlerts removes acknowledged alerts older than the specified days.
func (j *Journal) CleanOldAlerts(days int) error {
	_, err := j.db.Exec(
		"DELETE FROM alerts WHERE acknowledged = 1 AND created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days))
	return err
}

// Vacuum compacts the database file.
func (j *Journal) Vacuum() error {
	_, err := j.db.Exec("VACUUM")
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
