package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store used to test persistence hand-off.
type memStore struct {
	rules     []*Rule
	stats     *RunStats
	loadErr   error
	saveErr   error
	saveCalls int
}

func (s *memStore) LoadRules(context.Context) ([]*Rule, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.rules, nil
}

func (s *memStore) SaveRules(_ context.Context, rules []*Rule) error {
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rules = rules
	return nil
}

func (s *memStore) LoadStats(context.Context) (*RunStats, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.stats, nil
}

func (s *memStore) SaveStats(_ context.Context, stats *RunStats) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.stats = stats
	return nil
}

func TestLoadFromStore(t *testing.T) {
	seeded := ruleWith("seeded", 40, MatchAll,
		[]Condition{{Kind: CondIsUnread}},
		[]Action{{Kind: ActionMarkRead}},
	)
	store := &memStore{
		rules: []*Rule{seeded},
		stats: &RunStats{TotalExecutions: 7, SuccessfulExecutions: 7, DurationCount: 7},
	}

	e := testEngine(WithStore(store))
	e.LoadFromStore(context.Background())

	got := e.Rules()
	require.Len(t, got, 1)
	assert.Equal(t, "seeded", got[0].Name)
	assert.Equal(t, int64(7), e.Stats().TotalExecutions)
	assert.Equal(t, 1, e.Stats().TotalRules, "counts are refreshed after load")
}

func TestLoadFromStoreFailureFallsBackToEmptySet(t *testing.T) {
	store := &memStore{loadErr: errors.New("connection refused")}
	e := testEngine(WithStore(store))
	e.LoadFromStore(context.Background())

	assert.Empty(t, e.Rules(), "load failure must yield an empty rule set, not a crash")

	// The engine stays usable: CRUD still works against the broken store.
	err := e.AddRule(context.Background(), ruleWith("r", 1, MatchAll,
		[]Condition{{Kind: CondIsUnread}}, nil))
	require.NoError(t, err)
}

func TestSaveFailureIsBestEffort(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	e := testEngine(WithStore(store))

	err := e.AddRule(context.Background(), ruleWith("r", 1, MatchAll,
		[]Condition{{Kind: CondIsUnread}}, []Action{{Kind: ActionMarkRead}}))
	require.NoError(t, err, "a save failure must not surface from CRUD")
	assert.Equal(t, 1, store.saveCalls)

	report := e.Run(context.Background(), []*Message{sampleMessage()})
	assert.Len(t, report.Results, 1, "a save failure must not surface from Run")
}

func TestCRUDPersistsThroughStore(t *testing.T) {
	store := &memStore{}
	e := testEngine(WithStore(store))

	r := ruleWith("persisted", 10, MatchAll,
		[]Condition{{Kind: CondIsUnread}}, nil)
	require.NoError(t, e.AddRule(context.Background(), r))
	require.Len(t, store.rules, 1)

	require.NoError(t, e.DeleteRule(context.Background(), r.ID))
	assert.Empty(t, store.rules)
}
