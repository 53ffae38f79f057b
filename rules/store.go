package rules

import "context"

// Store is the injected persistence port for the rule collection and the
// cumulative run statistics. The engine core stays storage-agnostic: the db
// package provides a Postgres-backed implementation, and tests run with a
// nil store or an in-memory one.
//
// Persistence failures never make the engine unusable. A load failure falls
// back to an empty rule set; a save failure is logged and otherwise ignored.
type Store interface {
	LoadRules(ctx context.Context) ([]*Rule, error)
	SaveRules(ctx context.Context, rules []*Rule) error
	LoadStats(ctx context.Context) (*RunStats, error)
	SaveStats(ctx context.Context, stats *RunStats) error
}
