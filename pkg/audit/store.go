// Package audit persists and asynchronously emits the compliance trail:
// access events for elevated paths and usage events for served responses.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// Store is the durable audit backend: two append-only sqlite tables with
// timestamp and caller/subsystem indexes for the compliance reporter.
type Store struct {
	db      *sql.DB
	cfg     models.AuditConfig
	logger  *slog.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	closing sync.Once
}

const createAuditTables = `
CREATE TABLE IF NOT EXISTS access_log (
	id          TEXT PRIMARY KEY,
	caller      TEXT NOT NULL,
	endpoint    TEXT NOT NULL,
	source_addr TEXT NOT NULL,
	authorized  INTEGER NOT NULL,
	metadata    TEXT,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_created ON access_log(created_at);
CREATE INDEX IF NOT EXISTS idx_access_caller ON access_log(caller);
CREATE TABLE IF NOT EXISTS usage_log (
	id           TEXT PRIMARY KEY,
	caller       TEXT NOT NULL,
	vin_suffix   TEXT NOT NULL,
	subsystem    TEXT NOT NULL,
	submitter    TEXT,
	organization TEXT,
	cache_served INTEGER NOT NULL,
	enhanced     INTEGER NOT NULL,
	metadata     TEXT,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at);
CREATE INDEX IF NOT EXISTS idx_usage_caller_subsystem ON usage_log(caller, subsystem);
`

// NewStore opens the audit database, creates the schema and starts the
// retention loop.
func NewStore(cfg models.AuditConfig, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if _, err := db.Exec(createAuditTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}
	return s, nil
}

// WriteAccess appends an access event.
func (s *Store) WriteAccess(ctx context.Context, ev models.AccessEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO access_log (id, caller, endpoint, source_addr, authorized, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, callerOrAnonymous(ev.Caller), ev.Endpoint, ev.SourceAddr,
		boolToInt(ev.Authorized), meta, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write access event: %w", err)
	}
	return nil
}

// WriteUsage appends a usage event. Only the vehicle identifier suffix is
// accepted; callers are responsible for truncation before emission.
func (s *Store) WriteUsage(ctx context.Context, ev models.UsageEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, caller, vin_suffix, subsystem, submitter, organization, cache_served, enhanced, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, callerOrAnonymous(ev.Caller), ev.VINSuffix, ev.Subsystem,
		ev.Submitter, ev.Organization, boolToInt(ev.CacheServed),
		boolToInt(ev.Enhanced), meta, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write usage event: %w", err)
	}
	return nil
}

// QueryAccess returns access events matching the given options, newest first.
func (s *Store) QueryAccess(ctx context.Context, opts models.AccessQueryOpts) ([]models.AccessEvent, error) {
	q := `SELECT id, caller, endpoint, source_addr, authorized, metadata, created_at
		FROM access_log WHERE 1=1`
	var args []any

	if opts.Caller != "" {
		q += " AND caller = ?"
		args = append(args, opts.Caller)
	}
	if opts.Endpoint != "" {
		q += " AND endpoint = ?"
		args = append(args, opts.Endpoint)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		q += " AND created_at < ?"
		args = append(args, opts.Until)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limitOrDefault(opts.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query access log: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var ev models.AccessEvent
		var authorized int
		var meta sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Caller, &ev.Endpoint, &ev.SourceAddr,
			&authorized, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access row: %w", err)
		}
		ev.Authorized = authorized != 0
		ev.Metadata = unmarshalMetadata(meta)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// QueryUsage returns usage events matching the given options, newest first.
func (s *Store) QueryUsage(ctx context.Context, opts models.UsageQueryOpts) ([]models.UsageEvent, error) {
	q := `SELECT id, caller, vin_suffix, subsystem, submitter, organization, cache_served, enhanced, metadata, created_at
		FROM usage_log WHERE 1=1`
	var args []any

	if opts.Caller != "" {
		q += " AND caller = ?"
		args = append(args, opts.Caller)
	}
	if opts.Subsystem != "" {
		q += " AND subsystem = ?"
		args = append(args, opts.Subsystem)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		q += " AND created_at < ?"
		args = append(args, opts.Until)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limitOrDefault(opts.Limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage log: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var ev models.UsageEvent
		var cacheServed, enhanced int
		var submitter, organization, meta sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Caller, &ev.VINSuffix, &ev.Subsystem,
			&submitter, &organization, &cacheServed, &enhanced, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		ev.Submitter = submitter.String
		ev.Organization = organization.String
		ev.CacheServed = cacheServed != 0
		ev.Enhanced = enhanced != 0
		ev.Metadata = unmarshalMetadata(meta)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AccessCounts returns total and authorized access attempts in [since, until).
func (s *Store) AccessCounts(ctx context.Context, since, until time.Time) (total, authorized int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(authorized), 0) FROM access_log
		 WHERE created_at >= ? AND created_at < ?`,
		since, until,
	).Scan(&total, &authorized)
	if err != nil {
		return 0, 0, fmt.Errorf("access counts: %w", err)
	}
	return total, authorized, nil
}

// UsageBySubsystem groups usage events per subsystem in [since, until).
func (s *Store) UsageBySubsystem(ctx context.Context, since, until time.Time) ([]models.SubsystemUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subsystem, COUNT(*), COALESCE(SUM(enhanced), 0) FROM usage_log
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY subsystem ORDER BY subsystem`,
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("usage by subsystem: %w", err)
	}
	defer rows.Close()

	var breakdown []models.SubsystemUsage
	for rows.Next() {
		var u models.SubsystemUsage
		if err := rows.Scan(&u.Subsystem, &u.Count, &u.EnhancedCount); err != nil {
			return nil, fmt.Errorf("scan subsystem usage: %w", err)
		}
		breakdown = append(breakdown, u)
	}
	return breakdown, rows.Err()
}

// AccessByDay groups access attempts per calendar day in [since, until).
func (s *Store) AccessByDay(ctx context.Context, since, until time.Time) ([]models.DayAccess, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date(created_at), COUNT(*), COALESCE(SUM(authorized), 0) FROM access_log
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY date(created_at) ORDER BY date(created_at)`,
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("access by day: %w", err)
	}
	defer rows.Close()

	var days []models.DayAccess
	for rows.Next() {
		var d models.DayAccess
		var day sql.NullString
		if err := rows.Scan(&day, &d.Count, &d.Authorized); err != nil {
			return nil, fmt.Errorf("scan day access: %w", err)
		}
		d.Day = day.String
		days = append(days, d)
	}
	return days, rows.Err()
}

// Cleanup deletes events older than the configured retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	res, err := s.db.ExecContext(ctx, `DELETE FROM access_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup access: %w", err)
	}
	accessDeleted, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM usage_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return accessDeleted, fmt.Errorf("audit cleanup usage: %w", err)
	}
	usageDeleted, _ := res.RowsAffected()

	return accessDeleted + usageDeleted, nil
}

// Ping reports store reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the retention loop and closes the database. Safe to call
// more than once.
func (s *Store) Close() error {
	var err error
	s.closing.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("audit retention cleanup failed", "error", err)
			}
		}
	}
}

func marshalMetadata(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMetadata(meta sql.NullString) map[string]string {
	if !meta.Valid || meta.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
		return nil
	}
	return m
}

func callerOrAnonymous(caller string) string {
	if caller == "" {
		return models.AnonymousCaller
	}
	return caller
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
