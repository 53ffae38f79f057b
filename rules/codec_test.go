package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullCoverageRules returns a rule set exercising every condition and
// action variant once.
func fullCoverageRules() []*Rule {
	until := evalNow.Add(72 * time.Hour)

	everyCondition := ruleWith("every condition", 90, MatchAny,
		[]Condition{
			{Kind: CondSenderContains, Text: "acme"},
			{Kind: CondSenderEquals, Text: "billing@acme.example.com"},
			{Kind: CondSenderDomain, Text: "acme.example.com"},
			{Kind: CondSubjectContains, Text: "invoice"},
			{Kind: CondBodyContains, Text: "attached"},
			{Kind: CondCategoryIs, Text: "bills"},
			{Kind: CondPriorityAbove, Threshold: 5},
			{Kind: CondPriorityBelow, Threshold: 9},
			{Kind: CondOlderThanDays, Days: 7},
			{Kind: CondNewerThanDays, Days: 30},
			{Kind: CondHasAttachment},
			{Kind: CondIsUnread},
			{Kind: CondIsRead},
			{Kind: CondHasActionItems},
			{Kind: CondSenderVIP},
		},
		[]Action{{Kind: ActionMarkRead}},
	)
	everyCondition.ID = "r-conditions"

	everyAction := ruleWith("every action", 50, MatchAll,
		[]Condition{{Kind: CondIsUnread}},
		[]Action{
			{Kind: ActionSetCategory, Category: CategoryBills},
			{Kind: ActionSetPriority, Priority: 8},
			{Kind: ActionDelete},
			{Kind: ActionArchive},
			{Kind: ActionMarkRead},
			{Kind: ActionMarkUnread},
			{Kind: ActionMove, Mailbox: "Receipts"},
			{Kind: ActionSnooze, Until: &until},
			{Kind: ActionAddTag, Tag: "automated"},
			{Kind: ActionNotify, Message: "rule fired"},
			{Kind: ActionStop},
		},
	)
	everyAction.ID = "r-actions"

	return []*Rule{everyCondition, everyAction}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := testEngine()
	for _, r := range fullCoverageRules() {
		mustAdd(t, src, r)
	}

	data, err := src.ExportJSON()
	require.NoError(t, err)

	dst := testEngine()
	require.NoError(t, dst.ImportJSON(context.Background(), data))

	srcJSON, err := json.Marshal(src.Rules())
	require.NoError(t, err)
	dstJSON, err := json.Marshal(dst.Rules())
	require.NoError(t, err)
	assert.JSONEq(t, string(srcJSON), string(dstJSON),
		"every condition and action variant must survive the round trip")
}

func TestImportLeavesRulesUntouchedOnFailure(t *testing.T) {
	e := testEngine()
	keeper := ruleWith("keeper", 50, MatchAll,
		[]Condition{{Kind: CondIsUnread}},
		[]Action{{Kind: ActionMarkRead}},
	)
	mustAdd(t, e, keeper)

	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"version": 1, "rules": [`},
		{"unsupported version", `{"version": 99, "rules": []}`},
		{"unknown condition kind", `{"version": 1, "rules": [
			{"id": "x", "name": "bad", "enabled": true, "mode": "all",
			 "conditions": [{"kind": "teleport"}], "actions": []}]}`},
		{"unknown action kind", `{"version": 1, "rules": [
			{"id": "x", "name": "bad", "enabled": true, "mode": "all",
			 "conditions": [{"kind": "is_unread"}],
			 "actions": [{"kind": "explode"}]}]}`},
		{"duplicate ids", `{"version": 1, "rules": [
			{"id": "x", "name": "a", "enabled": true, "mode": "all",
			 "conditions": [{"kind": "is_unread"}], "actions": []},
			{"id": "x", "name": "b", "enabled": true, "mode": "all",
			 "conditions": [{"kind": "is_read"}], "actions": []}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ImportJSON(context.Background(), []byte(tt.data))
			require.Error(t, err)

			got := e.Rules()
			require.Len(t, got, 1, "failed import must not touch the rule set")
			assert.Equal(t, "keeper", got[0].Name)
		})
	}
}

func TestImportReplacesRuleSet(t *testing.T) {
	e := testEngine()
	mustAdd(t, e, ruleWith("old", 10, MatchAll,
		[]Condition{{Kind: CondIsUnread}}, nil))

	data := `{"version": 1, "rules": [
		{"id": "n1", "name": "new-high", "enabled": true, "mode": "any", "priority": 20,
		 "conditions": [{"kind": "is_unread"}], "actions": [{"kind": "archive"}]},
		{"id": "n2", "name": "new-low", "enabled": false, "mode": "all", "priority": 5,
		 "conditions": [{"kind": "sender_domain", "text": "example.com"}], "actions": []}]}`

	require.NoError(t, e.ImportJSON(context.Background(), []byte(data)))

	got := e.Rules()
	require.Len(t, got, 2)
	assert.Equal(t, "new-high", got[0].Name, "imported rules are re-sorted by priority")
	assert.Equal(t, 2, e.Stats().TotalRules)
	assert.Equal(t, 1, e.Stats().EnabledRules)
}
