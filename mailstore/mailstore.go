// Package mailstore connects the rule engine to the actual mailbox. A
// Source produces the records for a rule pass, and a Mutator applies the
// side effects the pass emitted. The IMAP implementation backs both; tests
// and the admin CLI use in-memory stand-ins.
package mailstore

import (
	"context"

	"github.com/kochj23/mailsummary/rules"
)

// Source fetches the candidate messages for a rule pass.
type Source interface {
	Fetch(ctx context.Context) ([]*rules.Message, error)
}

// Mutator applies a single side effect against the mail store. All methods
// address messages by the stable external id the Source reported.
type Mutator interface {
	Delete(ctx context.Context, externalID string) error
	Archive(ctx context.Context, externalID string) error
	Move(ctx context.Context, externalID, mailbox string) error
	AddTag(ctx context.Context, externalID, tag string) error
	MarkRead(ctx context.Context, externalID string) error
	MarkUnread(ctx context.Context, externalID string) error
}

// RawProvider exposes the raw RFC 822 bytes of a fetched message, used to
// snapshot a message before a destructive effect runs.
type RawProvider interface {
	Raw(externalID string) ([]byte, bool)
}
