// Package sqlite implements the fingerprint-addressed response cache.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// Cache maps request fingerprints to generated artifacts with an explicit
// expiry. Entries are immutable after insertion; a past-expiry entry is
// treated as absent. Cache failures never fail a request: Get degrades to
// not-found and Put to a no-op, both logged as warnings.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	fingerprint TEXT PRIMARY KEY,
	artifact BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expiry ON response_cache(expires_at);
`

// New opens the cache database and creates the schema.
func New(dbPath string, logger *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger}, nil
}

// Get retrieves a cached artifact. The second return is false when the
// fingerprint is absent, the entry has expired, or the store is unreachable.
func (c *Cache) Get(ctx context.Context, fingerprint string) (models.Artifact, bool) {
	var blob []byte
	var expiresAt time.Time

	err := c.db.QueryRowContext(ctx,
		`SELECT artifact, expires_at FROM response_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&blob, &expiresAt)

	switch {
	case err == sql.ErrNoRows:
		c.misses.Add(1)
		return models.Artifact{}, false
	case err != nil:
		c.logger.Warn("cache get degraded to miss", "fingerprint", fingerprint, "error", err)
		c.misses.Add(1)
		return models.Artifact{}, false
	}

	if time.Now().UTC().After(expiresAt) {
		c.misses.Add(1)
		return models.Artifact{}, false
	}

	var artifact models.Artifact
	if err := json.Unmarshal(blob, &artifact); err != nil {
		c.logger.Warn("cache entry undecodable, treated as miss", "fingerprint", fingerprint, "error", err)
		c.misses.Add(1)
		return models.Artifact{}, false
	}

	c.hits.Add(1)
	return artifact, true
}

// Put stores an artifact under a fingerprint with a TTL from insertion.
// It overwrites unconditionally; concurrent last writer wins, which is
// acceptable because artifacts for the same fingerprint are interchangeable.
// Store failures are logged and swallowed.
func (c *Cache) Put(ctx context.Context, fingerprint string, artifact models.Artifact, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	blob, err := json.Marshal(artifact)
	if err != nil {
		c.logger.Warn("cache put skipped, artifact unencodable", "fingerprint", fingerprint, "error", err)
		return
	}

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_cache (fingerprint, artifact, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		fingerprint, blob, now, now.Add(ttl),
	)
	if err != nil {
		c.logger.Warn("cache put degraded to no-op", "fingerprint", fingerprint, "error", err)
	}
}

// Stats returns cache performance counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`).Scan(&count); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only past-expiry
// entries are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	query := `DELETE FROM response_cache`
	var args []any
	if expiredOnly {
		query += ` WHERE expires_at < ?`
		args = append(args, time.Now().UTC())
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Ping reports store reachability for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
