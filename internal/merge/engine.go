// Package merge is the upsert engine: it normalizes an incoming statement
// batch, deduplicates it on the composite business key, and persists it
// either by wholesale replacement (open-period snapshots) or by
// insert-or-overwrite (closed-period archives).
package merge

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/store"
)

// Mode selects how a batch lands in its destination table.
type Mode int

const (
	// ModeUpsert inserts rows and overwrites all non-key columns on
	// primary-key conflict. Closed-period tables only grow.
	ModeUpsert Mode = iota
	// ModeOverwrite truncates the destination first, then appends the batch
	// unconditionally. Open-period snapshots are always re-derived in full.
	ModeOverwrite
)

// Result reports what a Load call did.
type Result struct {
	Table   string
	Mode    Mode
	Rows    int // rows persisted after batch-level dedup
	Deduped int // rows dropped within the batch (same key, earlier occurrence)
}

// Engine binds the normalization and dedup policy to a storage adapter.
type Engine struct {
	store *store.Store
}

// New creates an engine over the given store. The store's lifecycle belongs
// to the caller.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Load persists a batch into table. The batch is deduplicated on the
// composite key keeping the last occurrence, null-like markers are normalized
// away, and missing dates get the sentinel. A row lacking key material is a
// precondition violation: the whole table load aborts (sibling tables are
// unaffected, the caller continues with them).
//
// After a successful call the table holds exactly one row per key present in
// the deduplicated batch, plus (in upsert mode only) pre-existing rows whose
// keys the batch did not touch.
func (e *Engine) Load(ctx context.Context, table string, batch []domain.Transaction, mode Mode) (*Result, error) {
	normalized, deduped, err := Normalize(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize batch for %s: %w", table, err)
	}

	switch mode {
	case ModeOverwrite:
		if err := e.store.ReplaceAll(ctx, table, normalized); err != nil {
			return nil, fmt.Errorf("failed to replace %s: %w", table, err)
		}
	case ModeUpsert:
		if err := e.store.Upsert(ctx, table, normalized); err != nil {
			return nil, fmt.Errorf("failed to upsert into %s: %w", table, err)
		}
	default:
		return nil, fmt.Errorf("unknown merge mode %d", mode)
	}

	return &Result{Table: table, Mode: mode, Rows: len(normalized), Deduped: deduped}, nil
}

// Normalize applies the merge contract to a batch without persisting it:
// null-marker cleanup, sentinel dates, key validation, and last-wins dedup on
// the composite key. Exposed separately so the workflow can report dedup
// counts in dry runs.
func Normalize(batch []domain.Transaction) ([]domain.Transaction, int, error) {
	cleaned := make([]domain.Transaction, 0, len(batch))
	for i := range batch {
		t := batch[i]

		t.Concept = domain.NormalizeNull(t.Concept)
		t.SourceFile = domain.NormalizeNull(t.SourceFile)
		if t.Date.IsZero() {
			t.Date = domain.SentinelDate
			t.Period = t.Date.Format(domain.PeriodLayout)
		}
		if t.Period == "" {
			t.Period = t.Date.Format(domain.PeriodLayout)
		}
		if t.UniqueConcept == "" {
			uc, err := domain.UniqueConcept(t.Concept)
			if err != nil {
				return nil, 0, fmt.Errorf("row %d: %w", i, err)
			}
			t.UniqueConcept = uc
		}

		if t.Account == "" {
			return nil, 0, fmt.Errorf("row %d: account: %w", i, store.ErrMissingKeyColumn)
		}
		if t.UniqueConcept == "" {
			return nil, 0, fmt.Errorf("row %d: unique concept: %w", i, store.ErrMissingKeyColumn)
		}

		cleaned = append(cleaned, t)
	}

	// Last occurrence wins within a batch: a re-downloaded file lists the
	// freshest version of a row after its earlier duplicates.
	lastByKey := make(map[string]int, len(cleaned))
	for i := range cleaned {
		lastByKey[cleaned[i].Key()] = i
	}

	result := make([]domain.Transaction, 0, len(lastByKey))
	for i := range cleaned {
		if lastByKey[cleaned[i].Key()] == i {
			result = append(result, cleaned[i])
		}
	}

	return result, len(cleaned) - len(result), nil
}
