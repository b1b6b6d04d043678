// Package memstore keeps inventory state in process memory. It backs the
// unit tests and local runs without Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/shopspring/decimal"
)

var _ ledger.Store = (*Movements)(nil)

// Movements is an in-memory movement log.
type Movements struct {
	mu    sync.RWMutex
	log   []domain.StockMovement
	index map[string]struct{}
}

// NewMovements creates an empty movement log.
func NewMovements() *Movements {
	return &Movements{index: make(map[string]struct{})}
}

// Insert appends m unless its (source ref, kind) pair was already seen.
func (s *Movements) Insert(_ context.Context, m domain.StockMovement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.DedupeKey()
	if _, ok := s.index[key]; ok {
		return false, nil
	}
	s.index[key] = struct{}{}
	s.log = append(s.log, m)
	return true, nil
}

// Sum folds the deltas of every matching movement.
func (s *Movements) Sum(_ context.Context, filter domain.MovementFilter) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, m := range s.log {
		if matches(m, filter) {
			total = total.Add(m.Delta)
		}
	}
	return total, nil
}

// SumByKind folds matching deltas per kind under one read lock.
func (s *Movements) SumByKind(_ context.Context, filter domain.MovementFilter) (map[domain.MovementKind]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[domain.MovementKind]decimal.Decimal)
	for _, m := range s.log {
		if matches(m, filter) {
			totals[m.Kind] = totals[m.Kind].Add(m.Delta)
		}
	}
	return totals, nil
}

// List returns matching movements ordered by occurrence, then ID.
func (s *Movements) List(_ context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	out := make([]domain.StockMovement, 0)
	for _, m := range s.log {
		if matches(m, filter) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

// Len returns the number of stored movements.
func (s *Movements) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

func matches(m domain.StockMovement, f domain.MovementFilter) bool {
	if f.ItemID != "" && m.ItemID != f.ItemID {
		return false
	}
	if f.LocationID != "" && m.LocationID != f.LocationID {
		return false
	}
	if f.DeviceID != "" && (m.DeviceID == nil || *m.DeviceID != f.DeviceID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, m.Kind) {
		return false
	}
	if f.Window != nil && !f.Window.Contains(m.OccurredAt) {
		return false
	}
	if f.AsOf != nil && m.RecordedAt.After(*f.AsOf) {
		return false
	}
	return true
}

func containsKind(kinds []domain.MovementKind, k domain.MovementKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
