package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kochj23/mailsummary/consts"
)

// exportFileVersion is bumped when the on-disk rule format changes shape.
const exportFileVersion = 1

type exportFile struct {
	Version int     `json:"version"`
	Rules   []*Rule `json:"rules"`
}

// ExportJSON serializes the full rule collection, including the
// discriminator-plus-payload encoding of every condition and action
// variant, so that ImportJSON can round-trip it losslessly.
func (e *Engine) ExportJSON() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.MarshalIndent(exportFile{
		Version: exportFileVersion,
		Rules:   e.rules,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}
	return data, nil
}

// ImportJSON replaces the rule collection with the rules in data. The
// import is all-or-nothing: a decode or validation failure returns an error
// and leaves the in-memory rule set untouched.
func (e *Engine) ImportJSON(ctx context.Context, data []byte) error {
	var file exportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("malformed rule export: %w", err)
	}
	if file.Version != exportFileVersion {
		return fmt.Errorf("unsupported rule export version %d", file.Version)
	}
	seen := make(map[string]bool, len(file.Rules))
	for _, r := range file.Rules {
		if r == nil {
			return fmt.Errorf("rule export contains a null rule")
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = file.Rules
	e.sortRulesLocked()
	e.refreshCountsLocked()
	e.persistLocked(ctx)
	return nil
}
