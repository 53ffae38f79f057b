package rules

import (
	"testing"
)

func TestMatchesEmptyConditionListNeverMatches(t *testing.T) {
	msg := sampleMessage()
	for _, mode := range []MatchMode{MatchAll, MatchAny} {
		r := &Rule{ID: "r1", Name: "empty", Enabled: true, Mode: mode}
		if r.Matches(msg, evalNow) {
			t.Errorf("mode %s: rule with no conditions matched", mode)
		}
	}
}

func TestMatchesDisabledRuleNeverMatches(t *testing.T) {
	r := &Rule{
		ID:      "r1",
		Name:    "disabled",
		Enabled: false,
		Mode:    MatchAll,
		Conditions: []Condition{
			{Kind: CondIsUnread},
		},
	}
	if r.Matches(sampleMessage(), evalNow) {
		t.Error("disabled rule matched")
	}
}

func TestMatchesAllMode(t *testing.T) {
	tests := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{
			name: "all true",
			conds: []Condition{
				{Kind: CondCategoryIs, Text: "bills"},
				{Kind: CondOlderThanDays, Days: 7},
			},
			want: true,
		},
		{
			name: "one false fails the conjunction",
			conds: []Condition{
				{Kind: CondCategoryIs, Text: "bills"},
				{Kind: CondSenderDomain, Text: "other.example"},
			},
			want: false,
		},
		{
			name: "first false short-circuits",
			conds: []Condition{
				{Kind: CondCategoryIs, Text: "work"},
				{Kind: CondIsUnread},
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Rule{ID: "r", Name: tt.name, Enabled: true, Mode: MatchAll, Conditions: tt.conds}
			if got := r.Matches(sampleMessage(), evalNow); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesAnyMode(t *testing.T) {
	// Record is unread with priority 7; a read record with priority 9
	// must still satisfy ANY through the second condition alone.
	msg := sampleMessage()
	msg.Read = true
	msg.Priority = 9

	r := &Rule{
		ID:      "r",
		Name:    "any",
		Enabled: true,
		Mode:    MatchAny,
		Conditions: []Condition{
			{Kind: CondIsUnread},
			{Kind: CondPriorityAbove, Threshold: 8},
		},
	}
	if !r.Matches(msg, evalNow) {
		t.Error("ANY rule did not match although one condition is true")
	}

	msg.Priority = 5
	if r.Matches(msg, evalNow) {
		t.Error("ANY rule matched although no condition is true")
	}
}

func TestRuleValidate(t *testing.T) {
	r := NewRule("valid")
	r.Conditions = []Condition{{Kind: CondIsUnread}}
	r.Actions = []Action{{Kind: ActionMarkRead}}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	r.Mode = "sometimes"
	if err := r.Validate(); err == nil {
		t.Error("expected error for invalid match mode")
	}

	r.Mode = MatchAll
	r.Actions = []Action{{Kind: ActionSetPriority, Priority: 42}}
	if err := r.Validate(); err == nil {
		t.Error("expected error for out-of-range priority payload")
	}
}

func TestRuleClone(t *testing.T) {
	r := NewRule("original")
	r.Conditions = []Condition{{Kind: CondSubjectContains, Text: "x"}}
	r.Actions = []Action{{Kind: ActionAddTag, Tag: "t"}}

	dup := r.Clone()
	dup.Conditions[0].Text = "y"
	dup.Actions[0].Tag = "u"

	if r.Conditions[0].Text != "x" || r.Actions[0].Tag != "t" {
		t.Error("Clone shares condition/action storage with the original")
	}
}
