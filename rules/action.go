package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/kochj23/mailsummary/logger"
)

// ActionKind discriminates the action variants. The string values are the
// stable JSON discriminators of the persistence format.
type ActionKind string

const (
	ActionSetCategory ActionKind = "set_category"
	ActionSetPriority ActionKind = "set_priority"
	ActionDelete      ActionKind = "delete"
	ActionArchive     ActionKind = "archive"
	ActionMarkRead    ActionKind = "mark_read"
	ActionMarkUnread  ActionKind = "mark_unread"
	ActionMove        ActionKind = "move"
	ActionSnooze      ActionKind = "snooze"
	ActionAddTag      ActionKind = "add_tag"
	ActionNotify      ActionKind = "notify"
	ActionStop        ActionKind = "stop"
)

// Action is a single effect applied when a rule matches. Each variant owns
// its typed payload field.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Category Category   `json:"category,omitempty"`
	Priority int        `json:"priority,omitempty"`
	Mailbox  string     `json:"mailbox,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Tag      string     `json:"tag,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// EffectKind names the side-effect requests the engine emits for the
// mail-store mutator.
type EffectKind string

const (
	EffectDelete     EffectKind = "delete"
	EffectArchive    EffectKind = "archive"
	EffectMove       EffectKind = "move"
	EffectAddTag     EffectKind = "add_tag"
	EffectMarkRead   EffectKind = "mark_read"
	EffectMarkUnread EffectKind = "mark_unread"
)

// Effect is an intent, not a guarantee: the engine emits it and moves on.
// Execution, idempotency and retries belong to the dispatching collaborator.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	ExternalID string     `json:"external_id"` // mail-store reference of the target message
	Mailbox    string     `json:"mailbox,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	RuleID     string     `json:"rule_id,omitempty"`
}

// Notifier delivers fire-and-forget user notifications. Implementations
// must not block indefinitely; failures are swallowed by the engine.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Validate reports whether the action is well formed for persistence.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionSetCategory:
		if a.Category == "" {
			return fmt.Errorf("set_category requires a category")
		}
	case ActionSetPriority:
		if a.Priority < 1 || a.Priority > 10 {
			return fmt.Errorf("set_priority requires a priority between 1 and 10, got %d", a.Priority)
		}
	case ActionMove:
		if a.Mailbox == "" {
			return fmt.Errorf("move requires a mailbox")
		}
	case ActionSnooze:
		if a.Until == nil {
			return fmt.Errorf("snooze requires an until timestamp")
		}
	case ActionAddTag:
		if a.Tag == "" {
			return fmt.Errorf("add_tag requires a tag")
		}
	case ActionNotify:
		if a.Message == "" {
			return fmt.Errorf("notify requires a message")
		}
	case ActionDelete, ActionArchive, ActionMarkRead, ActionMarkUnread, ActionStop:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// apply executes a single action against msg. It mutates only the in-memory
// fields the engine is authoritative for (category, priority, read flag,
// snooze state) and returns an Effect for everything that must cross into
// the mail store. stop is raised by the stop action and ends the action list
// for this record only.
//
// notify is the one action executed inline: it is fire-and-forget, and a
// delivery failure is swallowed rather than recorded as a rule error.
func (a Action) apply(ctx context.Context, msg *Message, notifier Notifier) (stop bool, effect *Effect, err error) {
	switch a.Kind {
	case ActionSetCategory:
		msg.Category = a.Category

	case ActionSetPriority:
		msg.Priority = clampPriority(a.Priority)

	case ActionDelete:
		return false, &Effect{Kind: EffectDelete, ExternalID: msg.ExternalID}, nil

	case ActionArchive:
		return false, &Effect{Kind: EffectArchive, ExternalID: msg.ExternalID}, nil

	case ActionMarkRead:
		msg.Read = true
		return false, &Effect{Kind: EffectMarkRead, ExternalID: msg.ExternalID}, nil

	case ActionMarkUnread:
		msg.Read = false
		return false, &Effect{Kind: EffectMarkUnread, ExternalID: msg.ExternalID}, nil

	case ActionMove:
		if a.Mailbox == "" {
			return false, nil, fmt.Errorf("move action has no target mailbox")
		}
		return false, &Effect{Kind: EffectMove, ExternalID: msg.ExternalID, Mailbox: a.Mailbox}, nil

	case ActionSnooze:
		if a.Until == nil {
			return false, nil, fmt.Errorf("snooze action has no until timestamp")
		}
		until := *a.Until
		msg.Snoozed = true
		msg.SnoozeUntil = &until

	case ActionAddTag:
		if a.Tag == "" {
			return false, nil, fmt.Errorf("add_tag action has no tag")
		}
		return false, &Effect{Kind: EffectAddTag, ExternalID: msg.ExternalID, Tag: a.Tag}, nil

	case ActionNotify:
		if notifier != nil {
			if nerr := notifier.Notify(ctx, "Mail rule matched", a.Message); nerr != nil {
				logger.Debug("Notification delivery failed", "error", nerr)
			}
		}

	case ActionStop:
		return true, nil, nil

	default:
		return false, nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return false, nil, nil
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
