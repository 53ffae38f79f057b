package mailstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochj23/mailsummary/pkg/retry"
	"github.com/kochj23/mailsummary/rules"
)

// fakeMutator records calls and fails selected external ids.
type fakeMutator struct {
	calls    []string
	failIDs  map[string]int // external id -> times to fail before succeeding
	attempts map[string]int
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{
		failIDs:  make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (m *fakeMutator) op(name, externalID string) error {
	m.attempts[externalID]++
	if remaining := m.failIDs[externalID]; remaining > 0 {
		m.failIDs[externalID] = remaining - 1
		return errors.New("transient failure")
	}
	m.calls = append(m.calls, name+":"+externalID)
	return nil
}

func (m *fakeMutator) Delete(_ context.Context, id string) error  { return m.op("delete", id) }
func (m *fakeMutator) Archive(_ context.Context, id string) error { return m.op("archive", id) }
func (m *fakeMutator) Move(_ context.Context, id, mailbox string) error {
	return m.op("move="+mailbox, id)
}
func (m *fakeMutator) AddTag(_ context.Context, id, tag string) error {
	return m.op("tag="+tag, id)
}
func (m *fakeMutator) MarkRead(_ context.Context, id string) error   { return m.op("read", id) }
func (m *fakeMutator) MarkUnread(_ context.Context, id string) error { return m.op("unread", id) }

type fakeArchiver struct {
	archived [][]byte
	err      error
}

func (a *fakeArchiver) Archive(_ context.Context, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.archived = append(a.archived, data)
	return "hash", nil
}

type fakeRaws map[string][]byte

func (r fakeRaws) Raw(id string) ([]byte, bool) {
	raw, ok := r[id]
	return raw, ok
}

func fastBackoff() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		MaxRetries:      3,
	}
}

func TestDispatchAppliesEffectsInOrder(t *testing.T) {
	m := newFakeMutator()
	d := NewDispatcher(m, WithBackoff(fastBackoff()))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: rules.EffectMarkRead, ExternalID: "a"},
		{Kind: rules.EffectMove, ExternalID: "b", Mailbox: "Receipts"},
		{Kind: rules.EffectAddTag, ExternalID: "c", Tag: "automated"},
		{Kind: rules.EffectDelete, ExternalID: "d"},
	})

	assert.Empty(t, failed)
	assert.Equal(t, []string{"read:a", "move=Receipts:b", "tag=automated:c", "delete:d"}, m.calls)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	m := newFakeMutator()
	m.failIDs["a"] = 2
	d := NewDispatcher(m, WithBackoff(fastBackoff()))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: rules.EffectMarkRead, ExternalID: "a"},
	})

	assert.Empty(t, failed)
	assert.Equal(t, 3, m.attempts["a"])
}

func TestDispatchIsolatesFailures(t *testing.T) {
	m := newFakeMutator()
	m.failIDs["bad"] = 100 // never recovers within the retry budget
	d := NewDispatcher(m, WithBackoff(fastBackoff()))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: rules.EffectMarkRead, ExternalID: "ok-1"},
		{Kind: rules.EffectMarkRead, ExternalID: "bad"},
		{Kind: rules.EffectMarkRead, ExternalID: "ok-2"},
	})

	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error(), "bad")
	assert.Equal(t, "bad", failed[0].Effect.ExternalID,
		"a failure identifies the effect that caused it")
	assert.Equal(t, []string{"read:ok-1", "read:ok-2"}, m.calls,
		"effects after the failing one still run")
}

func TestDispatchSnapshotsBeforeDestructiveEffects(t *testing.T) {
	m := newFakeMutator()
	a := &fakeArchiver{}
	raws := fakeRaws{"doomed": []byte("raw message"), "moved": []byte("other")}
	d := NewDispatcher(m, WithBackoff(fastBackoff()), WithArchiver(a, raws))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: rules.EffectDelete, ExternalID: "doomed"},
		{Kind: rules.EffectMove, ExternalID: "moved", Mailbox: "Later"},
	})

	assert.Empty(t, failed)
	require.Len(t, a.archived, 1, "only destructive effects are snapshotted")
	assert.Equal(t, []byte("raw message"), a.archived[0])
}

func TestDispatchArchiverFailureBlocksDelete(t *testing.T) {
	m := newFakeMutator()
	a := &fakeArchiver{err: errors.New("bucket unavailable")}
	raws := fakeRaws{"doomed": []byte("raw message")}
	d := NewDispatcher(m, WithBackoff(fastBackoff()), WithArchiver(a, raws))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: rules.EffectDelete, ExternalID: "doomed"},
	})

	require.Len(t, failed, 1)
	assert.Empty(t, m.calls, "the delete must not run without a snapshot")
}

func TestDispatchUnknownEffectFailsWithoutRetry(t *testing.T) {
	m := newFakeMutator()
	d := NewDispatcher(m, WithBackoff(fastBackoff()))

	failed := d.Dispatch(context.Background(), []rules.Effect{
		{Kind: "teleport", ExternalID: "a"},
	})

	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error(), "unknown effect kind")
}
