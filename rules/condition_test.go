package rules

import (
	"reflect"
	"testing"
	"time"
)

var evalNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func sampleMessage() *Message {
	return &Message{
		ID:         "m1",
		ExternalID: "uid-100",
		SenderName: "ACME Billing",
		SenderAddr: "billing@acme.example.com",
		Subject:    "Your June Invoice",
		Body:       "Please find attached the invoice for June.",
		ReceivedAt: evalNow.Add(-8 * 24 * time.Hour),
		Read:       false,
		Category:   CategoryBills,
		Priority:   7,
	}
}

func TestConditionEval(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		mod  func(*Message)
		want bool
	}{
		{
			name: "sender contains matches display name case-insensitively",
			cond: Condition{Kind: CondSenderContains, Text: "acme"},
			want: true,
		},
		{
			name: "sender contains matches address",
			cond: Condition{Kind: CondSenderContains, Text: "BILLING@"},
			want: true,
		},
		{
			name: "sender contains no match",
			cond: Condition{Kind: CondSenderContains, Text: "paypal"},
			want: false,
		},
		{
			name: "sender equals is exact and case-insensitive",
			cond: Condition{Kind: CondSenderEquals, Text: "Billing@ACME.example.com"},
			want: true,
		},
		{
			name: "sender equals rejects substring",
			cond: Condition{Kind: CondSenderEquals, Text: "billing"},
			want: false,
		},
		{
			name: "domain matches case-insensitively",
			cond: Condition{Kind: CondSenderDomain, Text: "ACME.example.com"},
			want: true,
		},
		{
			name: "domain requires the @ boundary",
			cond: Condition{Kind: CondSenderDomain, Text: "example.com"},
			mod:  func(m *Message) { m.SenderAddr = "user@notexample.com" },
			want: false,
		},
		{
			name: "domain matches mixed-case address",
			cond: Condition{Kind: CondSenderDomain, Text: "example.com"},
			mod:  func(m *Message) { m.SenderAddr = "user@EXAMPLE.com" },
			want: true,
		},
		{
			name: "subject contains",
			cond: Condition{Kind: CondSubjectContains, Text: "invoice"},
			want: true,
		},
		{
			name: "body contains",
			cond: Condition{Kind: CondBodyContains, Text: "ATTACHED"},
			want: true,
		},
		{
			name: "category is",
			cond: Condition{Kind: CondCategoryIs, Text: "bills"},
			want: true,
		},
		{
			name: "category is fails on unset category",
			cond: Condition{Kind: CondCategoryIs, Text: "bills"},
			mod:  func(m *Message) { m.Category = "" },
			want: false,
		},
		{
			name: "priority above",
			cond: Condition{Kind: CondPriorityAbove, Threshold: 6},
			want: true,
		},
		{
			name: "priority above fails when equal",
			cond: Condition{Kind: CondPriorityAbove, Threshold: 7},
			want: false,
		},
		{
			name: "absent priority fails priority above",
			cond: Condition{Kind: CondPriorityAbove, Threshold: 0},
			mod:  func(m *Message) { m.Priority = 0 },
			want: false,
		},
		{
			name: "absent priority fails priority below",
			cond: Condition{Kind: CondPriorityBelow, Threshold: 10},
			mod:  func(m *Message) { m.Priority = 0 },
			want: false,
		},
		{
			name: "priority below",
			cond: Condition{Kind: CondPriorityBelow, Threshold: 8},
			want: true,
		},
		{
			name: "older than 7 days matches 8 day old message",
			cond: Condition{Kind: CondOlderThanDays, Days: 7},
			want: true,
		},
		{
			name: "older than 0 days excludes a message received today",
			cond: Condition{Kind: CondOlderThanDays, Days: 0},
			mod:  func(m *Message) { m.ReceivedAt = evalNow.Add(-2 * time.Hour) },
			want: false,
		},
		{
			name: "older than 0 days includes yesterday even when under 24h ago",
			cond: Condition{Kind: CondOlderThanDays, Days: 0},
			mod: func(m *Message) {
				// 13 hours before noon is 23:00 the previous calendar day.
				m.ReceivedAt = evalNow.Add(-13 * time.Hour)
			},
			want: true,
		},
		{
			name: "newer than 10 days",
			cond: Condition{Kind: CondNewerThanDays, Days: 10},
			want: true,
		},
		{
			name: "newer than 8 days fails for an 8 day old message",
			cond: Condition{Kind: CondNewerThanDays, Days: 8},
			want: false,
		},
		{
			name: "has attachment is always false",
			cond: Condition{Kind: CondHasAttachment},
			want: false,
		},
		{
			name: "sender vip is always false",
			cond: Condition{Kind: CondSenderVIP},
			want: false,
		},
		{
			name: "is unread",
			cond: Condition{Kind: CondIsUnread},
			want: true,
		},
		{
			name: "is read",
			cond: Condition{Kind: CondIsRead},
			mod:  func(m *Message) { m.Read = true },
			want: true,
		},
		{
			name: "has action items",
			cond: Condition{Kind: CondHasActionItems},
			mod:  func(m *Message) { m.ActionItems = []string{"pay invoice"} },
			want: true,
		},
		{
			name: "has action items fails on empty list",
			cond: Condition{Kind: CondHasActionItems},
			want: false,
		},
		{
			name: "unknown kind evaluates false",
			cond: Condition{Kind: "bogus"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sampleMessage()
			if tt.mod != nil {
				tt.mod(msg)
			}
			if got := tt.cond.Eval(msg, evalNow); got != tt.want {
				t.Errorf("Eval(%+v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestConditionEvalAgeAcrossDSTTransition(t *testing.T) {
	// Spring forward: March 9 2025 is the last EST day, March 10 runs on
	// EDT, so only 23 real hours separate 09:00 on the two days. The span
	// still covers one full calendar day.
	est := time.FixedZone("EST", -5*3600)
	edt := time.FixedZone("EDT", -4*3600)
	received := time.Date(2025, 3, 9, 9, 0, 0, 0, est)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, edt)

	msg := sampleMessage()
	msg.ReceivedAt = received

	if got := (Condition{Kind: CondOlderThanDays, Days: 0}).Eval(msg, now); !got {
		t.Errorf("older_than_days(0) = false for a message received the previous calendar day")
	}
	if got := (Condition{Kind: CondNewerThanDays, Days: 2}).Eval(msg, now); !got {
		t.Errorf("newer_than_days(2) = false for a one calendar day old message")
	}
	if got := (Condition{Kind: CondOlderThanDays, Days: 1}).Eval(msg, now); got {
		t.Errorf("older_than_days(1) = true for a one calendar day old message")
	}
}

func TestConditionEvalIsPure(t *testing.T) {
	msg := sampleMessage()
	before := *msg
	conds := []Condition{
		{Kind: CondSenderContains, Text: "acme"},
		{Kind: CondOlderThanDays, Days: 1},
		{Kind: CondPriorityAbove, Threshold: 3},
		{Kind: CondHasAttachment},
	}
	for _, c := range conds {
		c.Eval(msg, evalNow)
	}
	if !reflect.DeepEqual(*msg, before) {
		t.Errorf("Eval mutated the record: %+v != %+v", *msg, before)
	}
}

func TestConditionValidate(t *testing.T) {
	if err := (Condition{Kind: CondSubjectContains}).Validate(); err == nil {
		t.Error("expected error for text condition without operand")
	}
	if err := (Condition{Kind: "nope"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := (Condition{Kind: CondIsUnread}).Validate(); err != nil {
		t.Errorf("unexpected error for operand-free condition: %v", err)
	}
}
