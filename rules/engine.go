package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
)

// Engine owns the ordered rule list and the cumulative run statistics, and
// runs the match/execute pipeline over message batches.
//
// Rules form a strict pipeline: rule N's in-memory mutations are visible to
// rule N+1's condition evaluation against the same record. Records within a
// single rule are independent and may be processed by a fixed-size worker
// pool partitioned by record index.
//
// CRUD operations and Run are serialized by the engine's mutex; callers may
// share one Engine across goroutines.
type Engine struct {
	mu       sync.Mutex
	rules    []*Rule
	stats    RunStats
	store    Store
	notifier Notifier
	workers  int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore injects the persistence port. A nil store keeps the engine
// fully in-memory.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithNotifier injects the notification backend used by notify actions.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithWorkers sets the per-rule record worker pool size. Values below 2
// keep record processing sequential.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithClock overrides the engine's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an engine instance. State is per-instance; hosts
// construct one engine and hand references to callers, so tests can run
// several isolated engines side by side.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadFromStore populates rules and statistics from the injected store.
// A load failure is downgraded to a warning and an empty rule set: a broken
// store must not prevent the engine from starting.
func (e *Engine) LoadFromStore(ctx context.Context) {
	if e.store == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	loaded, err := e.store.LoadRules(ctx)
	if err != nil {
		logger.Warn("Failed to load rules, starting with an empty rule set", "error", err)
		loaded = nil
	}
	e.rules = loaded
	e.sortRulesLocked()

	if stats, err := e.store.LoadStats(ctx); err != nil {
		logger.Warn("Failed to load run statistics, starting fresh", "error", err)
	} else if stats != nil {
		e.stats = *stats
	}
	e.refreshCountsLocked()
}

// Run evaluates every enabled rule, in priority order, against the batch.
// Records are mutated in place at their original positions; everything that
// must cross into the mail store is returned as an Effect. Run never fails:
// action errors are accumulated into the per-rule results.
func (e *Engine) Run(ctx context.Context, batch []*Message) *RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	runStart := time.Now()
	report := &RunReport{}

	enabled := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return report
	}

	for _, rule := range enabled {
		start := time.Now()
		outcomes := e.processRule(ctx, rule, batch)

		res := ExecutionResult{RuleID: rule.ID, RuleName: rule.Name}
		for _, out := range outcomes {
			if !out.matched {
				continue
			}
			res.Matched = true
			res.MatchCount++
			res.ActionsExecuted += out.actionsExecuted
			res.Errors = append(res.Errors, out.errors...)
			report.Effects = append(report.Effects, out.effects...)
		}
		if res.Matched {
			rule.ExecCount++
		}
		res.Duration = time.Since(start)

		e.stats.record(res)
		report.Results = append(report.Results, res)

		metrics.RuleMatchesTotal.Add(float64(res.MatchCount))
		if len(res.Errors) > 0 {
			metrics.RuleExecutionsTotal.WithLabelValues("failure").Inc()
		} else {
			metrics.RuleExecutionsTotal.WithLabelValues("success").Inc()
		}
	}

	lastRun := e.now()
	e.stats.LastRunAt = &lastRun
	e.refreshCountsLocked()
	e.persistLocked(ctx)

	metrics.EngineRunsTotal.Inc()
	metrics.EngineRunDuration.Observe(time.Since(runStart).Seconds())

	return report
}

// recordOutcome is the per-record result of one rule pass, kept in a
// per-index slot so worker results merge back in batch order.
type recordOutcome struct {
	matched         bool
	actionsExecuted int
	errors          []string
	effects         []Effect
}

func (e *Engine) processRule(ctx context.Context, rule *Rule, batch []*Message) []recordOutcome {
	outcomes := make([]recordOutcome, len(batch))

	workers := e.workers
	if workers > len(batch) {
		workers = len(batch)
	}
	if workers <= 1 {
		for i := range batch {
			outcomes[i] = e.processRecord(ctx, rule, batch[i])
		}
		return outcomes
	}

	// Partition by record index: no two workers ever touch the same
	// record slot.
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = e.processRecord(ctx, rule, batch[i])
			}
		}()
	}
	for i := range batch {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return outcomes
}

// processRecord applies one rule to one record. An action error is recorded
// and the remaining actions still run; a stop action ends this record's
// action list but affects nothing else.
func (e *Engine) processRecord(ctx context.Context, rule *Rule, msg *Message) recordOutcome {
	var out recordOutcome
	if !rule.Matches(msg, e.now()) {
		return out
	}
	out.matched = true

	for _, act := range rule.Actions {
		stop, effect, err := act.apply(ctx, msg, e.notifier)
		if err != nil {
			out.errors = append(out.errors, fmt.Sprintf("action %s: %v", act.Kind, err))
			metrics.ActionErrorsTotal.WithLabelValues(string(act.Kind)).Inc()
			continue
		}
		out.actionsExecuted++
		if effect != nil {
			effect.RuleID = rule.ID
			out.effects = append(out.effects, *effect)
		}
		if stop {
			break
		}
	}
	return out
}

// TestRule is the dry-run variant used for rule authoring: it runs only the
// matcher across the given records and reports how many would match. It
// never executes actions, never mutates records and never touches the run
// statistics.
func (e *Engine) TestRule(rule *Rule, batch []*Message) (matchCount, totalCount int) {
	now := e.now()
	for _, msg := range batch {
		if rule.Matches(msg, now) {
			matchCount++
		}
	}
	return matchCount, len(batch)
}

// AddRule inserts a rule into the collection, assigning an id and
// timestamps when missing, and re-sorts by priority.
func (e *Engine) AddRule(ctx context.Context, rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := e.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Mode == "" {
		rule.Mode = MatchAll
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("rule %s already exists", rule.ID)
		}
	}
	e.rules = append(e.rules, rule)
	e.sortRulesLocked()
	e.refreshCountsLocked()
	e.persistLocked(ctx)
	return nil
}

// UpdateRule replaces an existing rule's definition. Creation timestamp and
// execution counter are preserved; CRUD never touches execution history.
func (e *Engine) UpdateRule(ctx context.Context, rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.rules {
		if existing.ID != rule.ID {
			continue
		}
		rule.CreatedAt = existing.CreatedAt
		rule.ExecCount = existing.ExecCount
		rule.UpdatedAt = e.now()
		e.rules[i] = rule
		e.sortRulesLocked()
		e.refreshCountsLocked()
		e.persistLocked(ctx)
		return nil
	}
	return consts.ErrRuleNotFound
}

// DeleteRule removes a rule by id.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.rules {
		if existing.ID != id {
			continue
		}
		e.rules = append(e.rules[:i], e.rules[i+1:]...)
		e.refreshCountsLocked()
		e.persistLocked(ctx)
		return nil
	}
	return consts.ErrRuleNotFound
}

// ToggleRule flips a rule's enabled flag and returns the new state.
func (e *Engine) ToggleRule(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.ID != id {
			continue
		}
		existing.Enabled = !existing.Enabled
		existing.UpdatedAt = e.now()
		e.refreshCountsLocked()
		e.persistLocked(ctx)
		return existing.Enabled, nil
	}
	return false, consts.ErrRuleNotFound
}

// Reorder rewrites the rule order to match ids, reassigning each rule's
// priority to 100 - index so no two rules keep equal priority after an
// explicit reorder. Every current rule id must appear exactly once.
func (e *Engine) Reorder(ctx context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(ids) != len(e.rules) {
		return fmt.Errorf("reorder requires all %d rule ids, got %d", len(e.rules), len(ids))
	}
	byID := make(map[string]*Rule, len(e.rules))
	for _, r := range e.rules {
		byID[r.ID] = r
	}

	reordered := make([]*Rule, 0, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			return fmt.Errorf("reorder: %w: %s", consts.ErrRuleNotFound, id)
		}
		delete(byID, id)
		r.Priority = 100 - i
		r.UpdatedAt = e.now()
		reordered = append(reordered, r)
	}
	e.rules = reordered
	e.sortRulesLocked()
	e.refreshCountsLocked()
	e.persistLocked(ctx)
	return nil
}

// GetRule returns a copy of the rule with the given id.
func (e *Engine) GetRule(id string) (*Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, consts.ErrRuleNotFound
}

// Rules returns a copy of the rule collection in execution order.
func (e *Engine) Rules() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Clone()
	}
	return out
}

// Stats returns a snapshot of the cumulative run statistics.
func (e *Engine) Stats() RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// sortRulesLocked re-sorts by priority descending. The sort is stable, so
// rules with equal priority keep their insertion order; value ties are only
// ever broken by an explicit Reorder.
func (e *Engine) sortRulesLocked() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
}

func (e *Engine) refreshCountsLocked() {
	e.stats.TotalRules = len(e.rules)
	enabled := 0
	for _, r := range e.rules {
		if r.Enabled {
			enabled++
		}
	}
	e.stats.EnabledRules = enabled
}

// persistLocked saves rules and statistics best-effort. Losing the ability
// to save is less harmful than failing mid-automation, so errors are logged
// and swallowed.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveRules(ctx, e.rules); err != nil {
		logger.Warn("Failed to save rules", "error", err)
	}
	stats := e.stats
	if err := e.store.SaveStats(ctx, &stats); err != nil {
		logger.Warn("Failed to save run statistics", "error", err)
	}
}
