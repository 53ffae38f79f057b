// Package rules implements the declarative inbox automation engine: a
// prioritized list of user-defined rules, each combining predicate
// conditions with mutating or side-effecting actions, evaluated against
// batches of message records.
//
// The engine owns only in-memory state. Everything that crosses into the
// mail store (delete, archive, move, tagging, read-state sync) is emitted
// as an Effect for an external dispatcher; see the mailstore package.
package rules

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a message. The zero value means uncategorized.
type Category string

const (
	CategoryPersonal  Category = "personal"
	CategoryWork      Category = "work"
	CategoryBills     Category = "bills"
	CategoryMarketing Category = "marketing"
	CategorySocial    Category = "social"
	CategoryUpdates   Category = "updates"
	CategoryOther     Category = "other"
)

// Message is one email record as seen by the rule engine. The batch passed
// to Engine.Run is owned by the caller; the engine mutates records in place
// during a run and never retains them afterwards.
type Message struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id"` // reference id for re-fetching from the mail store
	SenderName  string     `json:"sender_name"`
	SenderAddr  string     `json:"sender_addr"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Read        bool       `json:"read"`
	Category    Category   `json:"category,omitempty"`
	Priority    int        `json:"priority,omitempty"` // 1-10, 0 = unset
	Snoozed     bool       `json:"snoozed,omitempty"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	ActionItems []string   `json:"action_items,omitempty"`
	SenderScore *float64   `json:"sender_score,omitempty"`
}

// NewMessage returns a Message with a fresh unique id.
func NewMessage(externalID string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		ExternalID: externalID,
	}
}
