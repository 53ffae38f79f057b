package rules

import (
	"fmt"
	"strings"
	"time"
)

// ConditionKind discriminates the condition variants. The string values are
// the stable JSON discriminators of the persistence format.
type ConditionKind string

const (
	CondSenderContains ConditionKind = "sender_contains"
	CondSenderEquals   ConditionKind = "sender_equals"
	CondSenderDomain   ConditionKind = "sender_domain"
	CondSubjectContains ConditionKind = "subject_contains"
	CondBodyContains   ConditionKind = "body_contains"
	CondCategoryIs     ConditionKind = "category_is"
	CondPriorityAbove  ConditionKind = "priority_above"
	CondPriorityBelow  ConditionKind = "priority_below"
	CondOlderThanDays  ConditionKind = "older_than_days"
	CondNewerThanDays  ConditionKind = "newer_than_days"
	CondHasAttachment  ConditionKind = "has_attachment"
	CondIsUnread       ConditionKind = "is_unread"
	CondIsRead         ConditionKind = "is_read"
	CondHasActionItems ConditionKind = "has_action_items"
	CondSenderVIP      ConditionKind = "sender_vip"
)

// Condition is a single predicate over a message record. Each variant owns
// its operands: Text for the text/category/domain checks, Threshold for the
// priority comparisons, Days for the age comparisons.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Text      string        `json:"text,omitempty"`
	Threshold int           `json:"threshold,omitempty"`
	Days      int           `json:"days,omitempty"`
}

// Eval evaluates the condition against a message record. It is total and
// side-effect free: a malformed or unknown condition evaluates to false
// rather than erroring.
//
// All text matching is case-insensitive. Age checks use calendar-day
// granularity in now's location, so older_than_days with Days=0 excludes
// messages received earlier today.
//
// has_attachment and sender_vip always evaluate to false: no attachment
// index or VIP registry is available at this layer yet. Rules may rely on
// these never firing until a richer data source is wired in.
func (c Condition) Eval(m *Message, now time.Time) bool {
	switch c.Kind {
	case CondSenderContains:
		return containsFold(m.SenderName, c.Text) || containsFold(m.SenderAddr, c.Text)
	case CondSenderEquals:
		return strings.EqualFold(m.SenderAddr, c.Text) || strings.EqualFold(m.SenderName, c.Text)
	case CondSenderDomain:
		addr := strings.ToLower(m.SenderAddr)
		return strings.HasSuffix(addr, "@"+strings.ToLower(c.Text))
	case CondSubjectContains:
		return containsFold(m.Subject, c.Text)
	case CondBodyContains:
		return containsFold(m.Body, c.Text)
	case CondCategoryIs:
		return m.Category != "" && strings.EqualFold(string(m.Category), c.Text)
	case CondPriorityAbove:
		return m.Priority > 0 && m.Priority > c.Threshold
	case CondPriorityBelow:
		return m.Priority > 0 && m.Priority < c.Threshold
	case CondOlderThanDays:
		return calendarDays(m.ReceivedAt, now) > c.Days
	case CondNewerThanDays:
		return calendarDays(m.ReceivedAt, now) < c.Days
	case CondHasAttachment:
		return false // no attachment data reaches this layer
	case CondIsUnread:
		return !m.Read
	case CondIsRead:
		return m.Read
	case CondHasActionItems:
		return len(m.ActionItems) > 0
	case CondSenderVIP:
		return false // no VIP registry wired in
	}
	return false
}

// Validate reports whether the condition is well formed for persistence.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondSenderContains, CondSenderEquals, CondSenderDomain,
		CondSubjectContains, CondBodyContains, CondCategoryIs:
		if c.Text == "" {
			return fmt.Errorf("condition %q requires a text operand", c.Kind)
		}
	case CondPriorityAbove, CondPriorityBelow,
		CondOlderThanDays, CondNewerThanDays,
		CondHasAttachment, CondIsUnread, CondIsRead,
		CondHasActionItems, CondSenderVIP:
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// calendarDays returns the whole-day difference between two instants in
// now's location, ignoring the time of day. The dates are re-anchored in UTC
// before subtracting so a DST transition inside the span cannot shave the
// difference below a whole day.
func calendarDays(received, now time.Time) int {
	ry, rm, rd := received.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	start := time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}
