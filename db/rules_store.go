package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/pkg/metrics"
	"github.com/kochj23/mailsummary/rules"
)

// RulesStore implements rules.Store on top of Postgres. Rules are stored as
// JSONB definitions ordered by position; the cumulative statistics live in a
// single-row snapshot table.
type RulesStore struct {
	db           *Database
	queryTimeout time.Duration
}

var _ rules.Store = (*RulesStore)(nil)

func NewRulesStore(db *Database, queryTimeout time.Duration) *RulesStore {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &RulesStore{db: db, queryTimeout: queryTimeout}
}

func (s *RulesStore) LoadRules(ctx context.Context) ([]*rules.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.Pool.Query(ctx,
		"SELECT definition FROM rules ORDER BY position")
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("load_rules", "failure").Inc()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var loaded []*rules.Rule
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			metrics.DBQueriesTotal.WithLabelValues("load_rules", "failure").Inc()
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		var r rules.Rule
		if err := json.Unmarshal(definition, &r); err != nil {
			metrics.DBQueriesTotal.WithLabelValues("load_rules", "failure").Inc()
			return nil, fmt.Errorf("%w: rule definition: %v", consts.ErrSerializationFailed, err)
		}
		loaded = append(loaded, &r)
	}
	if err := rows.Err(); err != nil {
		metrics.DBQueriesTotal.WithLabelValues("load_rules", "failure").Inc()
		return nil, fmt.Errorf("failed to iterate rule rows: %w", err)
	}

	metrics.DBQueriesTotal.WithLabelValues("load_rules", "success").Inc()
	metrics.DBQueryDuration.WithLabelValues("load_rules").Observe(time.Since(start).Seconds())
	return loaded, nil
}

// SaveRules replaces the stored collection with the given one. The whole
// replacement runs in a single transaction so a crash can never leave a
// partial rule set behind.
func (s *RulesStore) SaveRules(ctx context.Context, ruleList []*rules.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	err := s.saveRulesTx(ctx, ruleList)
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("save_rules", "failure").Inc()
		return err
	}
	metrics.DBQueriesTotal.WithLabelValues("save_rules", "success").Inc()
	metrics.DBQueryDuration.WithLabelValues("save_rules").Observe(time.Since(start).Seconds())
	return nil
}

func (s *RulesStore) saveRulesTx(ctx context.Context, ruleList []*rules.Rule) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM rules"); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}

	for i, r := range ruleList {
		definition, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("%w: rule %s: %v", consts.ErrSerializationFailed, r.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rules (id, position, definition, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ID, i, definition, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

func (s *RulesStore) LoadStats(ctx context.Context) (*rules.RunStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	var snapshot []byte
	err := s.db.Pool.QueryRow(ctx,
		"SELECT snapshot FROM engine_stats WHERE id = 1").Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No stats recorded yet, the engine starts from zero.
			metrics.DBQueriesTotal.WithLabelValues("load_stats", "success").Inc()
			return nil, nil
		}
		metrics.DBQueriesTotal.WithLabelValues("load_stats", "failure").Inc()
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	var stats rules.RunStats
	if err := json.Unmarshal(snapshot, &stats); err != nil {
		metrics.DBQueriesTotal.WithLabelValues("load_stats", "failure").Inc()
		return nil, fmt.Errorf("%w: stats snapshot: %v", consts.ErrSerializationFailed, err)
	}

	metrics.DBQueriesTotal.WithLabelValues("load_stats", "success").Inc()
	metrics.DBQueryDuration.WithLabelValues("load_stats").Observe(time.Since(start).Seconds())
	return &stats, nil
}

func (s *RulesStore) SaveStats(ctx context.Context, stats *rules.RunStats) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	snapshot, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("%w: stats snapshot: %v", consts.ErrSerializationFailed, err)
	}

	start := time.Now()
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO engine_stats (id, snapshot, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`,
		snapshot)
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("save_stats", "failure").Inc()
		return fmt.Errorf("failed to save stats: %w", err)
	}

	metrics.DBQueriesTotal.WithLabelValues("save_stats", "success").Inc()
	metrics.DBQueryDuration.WithLabelValues("save_stats").Observe(time.Since(start).Seconds())
	return nil
}
