package aggregation

import (
	"iter"
	"slices"
	"sync"

	"temperature-bench/internal/models"
)

// Table maps period keys to running aggregates.
// A Table has no locking and must be owned by one goroutine at a
// time; use SyncTable when several goroutines fold into one table.
type Table struct {
	entries map[models.PeriodKey]*models.Aggregate
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{entries: make(map[models.PeriodKey]*models.Aggregate)}
}

// Fold adds one temperature to the aggregate of key
func (t *Table) Fold(key models.PeriodKey, temp float64) {
	if agg, ok := t.entries[key]; ok {
		agg.Add(temp)
		return
	}
	t.entries[key] = models.NewAggregate(temp)
}

// Merge folds every aggregate of other into t
func (t *Table) Merge(other *Table) {
	for key, agg := range other.entries {
		t.mergeOne(key, *agg)
	}
}

func (t *Table) mergeOne(key models.PeriodKey, agg models.Aggregate) {
	if cur, ok := t.entries[key]; ok {
		cur.Merge(agg)
		return
	}
	cp := agg
	t.entries[key] = &cp
}

// Len returns the number of keys
func (t *Table) Len() int {
	return len(t.entries)
}

// Keys returns the keys in ascending order
func (t *Table) Keys() []models.PeriodKey {
	keys := make([]models.PeriodKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats yields the table's period statistics in ascending key order.
// Keys are snapshotted when iteration starts.
func (t *Table) Stats() iter.Seq[models.PeriodStat] {
	return func(yield func(models.PeriodStat) bool) {
		for _, key := range t.Keys() {
			if !yield(t.entries[key].Stat(key)) {
				return
			}
		}
	}
}

// Snapshot returns the period statistics as a slice in ascending key order
func (t *Table) Snapshot() []models.PeriodStat {
	return slices.Collect(t.Stats())
}

// SyncTable is a Table guarded by a mutex, safe for concurrent use
type SyncTable struct {
	mu    sync.Mutex
	table *Table
}

// NewSyncTable creates an empty concurrency-safe table
func NewSyncTable() *SyncTable {
	return &SyncTable{table: NewTable()}
}

// Merge folds every aggregate of other into s.
// other must not be modified concurrently.
func (s *SyncTable) Merge(other *Table) {
	s.mu.Lock()
	s.table.Merge(other)
	s.mu.Unlock()
}

// Len returns the number of keys
func (s *SyncTable) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Len()
}

// Snapshot returns the period statistics in ascending key order
func (s *SyncTable) Snapshot() []models.PeriodStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Snapshot()
}
