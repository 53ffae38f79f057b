package rules

import "time"

// ExecutionResult is the per-rule, per-run report. Its error list is the
// only user-facing failure surface of the engine: action errors are
// collected here and never propagated out of a run.
type ExecutionResult struct {
	RuleID          string        `json:"rule_id"`
	RuleName        string        `json:"rule_name"`
	Matched         bool          `json:"matched"`
	MatchCount      int           `json:"match_count"`
	ActionsExecuted int           `json:"actions_executed"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// RunReport is the outcome of one Engine.Run invocation: the ordered
// per-rule results plus every side-effect request emitted during the run.
// The batch itself is mutated in place.
type RunReport struct {
	Results []ExecutionResult `json:"results"`
	Effects []Effect          `json:"effects,omitempty"`
}

// Errored reports whether any rule in the run recorded action errors.
func (r *RunReport) Errored() bool {
	for _, res := range r.Results {
		if len(res.Errors) > 0 {
			return true
		}
	}
	return false
}

// RunStats holds the engine-wide cumulative counters. AverageDuration is a
// plain arithmetic mean over every per-rule execution ever recorded, not a
// windowed average; DurationTotal and DurationCount are the accumulators it
// is derived from and are persisted so the mean survives restarts.
type RunStats struct {
	TotalRules           int           `json:"total_rules"`
	EnabledRules         int           `json:"enabled_rules"`
	TotalExecutions      int64         `json:"total_executions"`
	SuccessfulExecutions int64         `json:"successful_executions"`
	FailedExecutions     int64         `json:"failed_executions"`
	LastRunAt            *time.Time    `json:"last_run_at,omitempty"`
	AverageDuration      time.Duration `json:"average_duration"`
	DurationTotal        time.Duration `json:"duration_total"`
	DurationCount        int64         `json:"duration_count"`
}

// record folds one per-rule execution result into the cumulative counters.
// A rule run counts as failed only when its error list is non-empty.
func (s *RunStats) record(res ExecutionResult) {
	s.TotalExecutions++
	if len(res.Errors) > 0 {
		s.FailedExecutions++
	} else {
		s.SuccessfulExecutions++
	}
	s.DurationTotal += res.Duration
	s.DurationCount++
	s.AverageDuration = s.DurationTotal / time.Duration(s.DurationCount)
}
