// Package cache keeps a local SQLite index of messages the engine has
// already processed, so a daemon restart does not re-run the pipeline over
// the whole mailbox. It also persists snooze deadlines between runs.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
)

const IndexDB = "message_index.db"

type Cache struct {
	basePath      string
	maxAge        time.Duration
	purgeInterval time.Duration
	db            *sql.DB
	mu            sync.Mutex

	hits   int64
	misses int64
}

func New(basePath string, maxAge, purgeInterval time.Duration) (*Cache, error) {
	basePath = filepath.Clean(strings.TrimSpace(basePath))
	if basePath == "" {
		return nil, fmt.Errorf("cache base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache path %s: %w", basePath, err)
	}

	dbPath := filepath.Join(basePath, IndexDB)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open message index DB: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization, proceed without it.
		logger.Warn("failed to set PRAGMA journal_mode = WAL", "error", err)
	}

	// processed_at is nullable: a snoozed message gets a row for its
	// deadline before any rule pass completed on it.
	schema := `
	CREATE TABLE IF NOT EXISTS seen_messages (
		external_id TEXT PRIMARY KEY,
		processed_at TIMESTAMP,
		snoozed_until TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_seen_processed_at ON seen_messages(processed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create message index schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("message index DB ping failed: %w", err)
	}

	return &Cache{
		basePath:      basePath,
		maxAge:        maxAge,
		purgeInterval: purgeInterval,
		db:            db,
	}, nil
}

func (c *Cache) Close() error {
	if c.db != nil {
		logger.Debug("closing message index database")
		return c.db.Close()
	}
	return nil
}

// MarkProcessed records that the given message went through a full rule
// pass at the given time.
func (c *Cache) MarkProcessed(ctx context.Context, externalID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO seen_messages (external_id, processed_at) VALUES (?, ?)
		ON CONFLICT (external_id) DO UPDATE SET processed_at = excluded.processed_at`,
		externalID, at.UTC())
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("mark", "failure").Inc()
		return fmt.Errorf("failed to mark message %s as processed: %w", externalID, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("mark", "success").Inc()
	return nil
}

// IsProcessed reports whether the message has already gone through a rule
// pass. Lookups count as cache hits and misses.
func (c *Cache) IsProcessed(ctx context.Context, externalID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_messages WHERE external_id = ? AND processed_at IS NOT NULL`,
		externalID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query message index: %w", err)
	}

	if count > 0 {
		atomic.AddInt64(&c.hits, 1)
		metrics.CacheOperationsTotal.WithLabelValues("lookup", "hit").Inc()
		return true, nil
	}
	atomic.AddInt64(&c.misses, 1)
	metrics.CacheOperationsTotal.WithLabelValues("lookup", "miss").Inc()
	return false, nil
}

// FilterUnprocessed returns the subset of externalIDs with no index entry,
// preserving order. Used by the fetch loop to skip already-handled mail.
func (c *Cache) FilterUnprocessed(ctx context.Context, externalIDs []string) ([]string, error) {
	var unprocessed []string
	for _, id := range externalIDs {
		seen, err := c.IsProcessed(ctx, id)
		if err != nil {
			return nil, err
		}
		if !seen {
			unprocessed = append(unprocessed, id)
		}
	}
	return unprocessed, nil
}

// SetSnooze persists a snooze deadline so it survives daemon restarts.
func (c *Cache) SetSnooze(ctx context.Context, externalID string, until time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A snooze alone does not count as a completed pass: processed_at
	// stays NULL so the message re-enters evaluation after the deadline.
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO seen_messages (external_id, snoozed_until) VALUES (?, ?)
		ON CONFLICT (external_id) DO UPDATE SET snoozed_until = excluded.snoozed_until`,
		externalID, until.UTC())
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("snooze", "failure").Inc()
		return fmt.Errorf("failed to snooze message %s: %w", externalID, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("snooze", "success").Inc()
	return nil
}

// SnoozedUntil returns the stored snooze deadline for the message, or nil
// when the message is not snoozed. Expired deadlines are treated as not
// snoozed and cleared lazily.
func (c *Cache) SnoozedUntil(ctx context.Context, externalID string) (*time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var until sql.NullTime
	err := c.db.QueryRowContext(ctx,
		`SELECT snoozed_until FROM seen_messages WHERE external_id = ?`, externalID).Scan(&until)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query snooze state: %w", err)
	}
	if !until.Valid {
		return nil, nil
	}
	if !until.Time.After(time.Now()) {
		if _, err := c.db.ExecContext(ctx,
			`UPDATE seen_messages SET snoozed_until = NULL WHERE external_id = ?`, externalID); err != nil {
			logger.Warn("failed to clear expired snooze", "external_id", externalID, "error", err)
		}
		return nil, nil
	}
	t := until.Time
	return &t, nil
}

// Forget drops the index entry for a message, typically after it was
// deleted from the mail store.
func (c *Cache) Forget(ctx context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM seen_messages WHERE external_id = ?`, externalID); err != nil {
		return fmt.Errorf("failed to remove index entry for %s: %w", externalID, err)
	}
	return nil
}

// StartPurgeLoop periodically removes entries older than the configured
// retention, keeping the index from growing without bound.
func (c *Cache) StartPurgeLoop(ctx context.Context) {
	go func() {
		c.runPurgeCycle(ctx)

		ticker := time.NewTicker(c.purgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runPurgeCycle(ctx)
			}
		}
	}()
}

func (c *Cache) runPurgeCycle(ctx context.Context) {
	removed, err := c.PurgeOlderThan(ctx, c.maxAge)
	if err != nil {
		logger.Warn("message index purge failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("purged stale message index entries", "removed", removed)
	}
}

// PurgeOlderThan removes entries whose last rule pass is older than maxAge.
// Entries with an active snooze are kept regardless of age, the deadline
// still matters.
func (c *Cache) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := time.Now().Add(-maxAge).UTC()
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM seen_messages
		WHERE processed_at < ?
		  AND (snoozed_until IS NULL OR snoozed_until < ?)`,
		threshold, time.Now().UTC())
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("purge", "failure").Inc()
		return 0, fmt.Errorf("failed to purge message index: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("purge", "success").Inc()

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}

// Stats holds index counters for the admin API.
type Stats struct {
	Entries int64   `json:"entries"`
	Snoozed int64   `json:"snoozed"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *Cache) GetStats(ctx context.Context) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries, snoozed int64
	row := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(snoozed_until)
		FROM seen_messages`)
	if err := row.Scan(&entries, &snoozed); err != nil {
		return nil, fmt.Errorf("failed to query index statistics: %w", err)
	}

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return &Stats{
		Entries: entries,
		Snoozed: snoozed,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}, nil
}
