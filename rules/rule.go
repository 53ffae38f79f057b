package rules

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchMode combines a rule's conditions: "all" is a conjunction, "any" a
// disjunction.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Rule is a named, user-authored automation unit: an ordered condition list
// combined under Mode, and an ordered action list applied to matching
// records. Higher Priority runs first; ties keep insertion order.
type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Priority   int         `json:"priority"`
	Mode       MatchMode   `json:"mode"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ExecCount  int64       `json:"exec_count"` // runs in which at least one record matched
}

// NewRule returns an enabled rule with a fresh id and ALL match mode.
func NewRule(name string) *Rule {
	now := time.Now()
	return &Rule{
		ID:        uuid.NewString(),
		Name:      name,
		Enabled:   true,
		Mode:      MatchAll,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Matches reports whether the rule matches the message record.
//
// A disabled rule never matches. A rule with no conditions never matches
// either; this is an explicit guard so that an accidentally emptied rule
// cannot become a match-everything rule through the empty-conjunction law.
// Conditions are mutually independent pure checks; evaluation short-circuits
// but no condition sees another's result.
func (r *Rule) Matches(m *Message, now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if len(r.Conditions) == 0 {
		return false
	}

	if r.Mode == MatchAny {
		for _, c := range r.Conditions {
			if c.Eval(m, now) {
				return true
			}
		}
		return false
	}

	for _, c := range r.Conditions {
		if !c.Eval(m, now) {
			return false
		}
	}
	return true
}

// Validate reports whether the rule is well formed for persistence.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s has no name", r.ID)
	}
	if r.Mode != MatchAll && r.Mode != MatchAny {
		return fmt.Errorf("rule %q has invalid match mode %q", r.Name, r.Mode)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %q condition %d: %w", r.Name, i, err)
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("rule %q action %d: %w", r.Name, i, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	dup := *r
	dup.Conditions = append([]Condition(nil), r.Conditions...)
	dup.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		dup.Actions[i] = a
		if a.Until != nil {
			until := *a.Until
			dup.Actions[i].Until = &until
		}
	}
	return &dup
}
