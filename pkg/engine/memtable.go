package engine

import (
	"fmt"
	"sort"
	"sync"

	"reldb/pkg/primitives"
)

// MemTableStore is an in-memory TableStore. It hands out monotonically
// increasing record references per table and scans rows in reference
// order, which keeps results deterministic. Safe for concurrent use.
type MemTableStore struct {
	mu     sync.RWMutex
	tables map[string]map[primitives.RecordRef]Row
	nextID map[string]primitives.RecordRef
}

func NewMemTableStore() *MemTableStore {
	return &MemTableStore{
		tables: make(map[string]map[primitives.RecordRef]Row),
		nextID: make(map[string]primitives.RecordRef),
	}
}

// Put stores a row and returns its reference.
func (m *MemTableStore) Put(table string, row Row) primitives.RecordRef {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tables[table] == nil {
		m.tables[table] = make(map[primitives.RecordRef]Row)
	}
	m.nextID[table]++
	ref := m.nextID[table]
	m.tables[table][ref] = row
	return ref
}

// Delete removes a row, reporting whether it existed.
func (m *MemTableStore) Delete(table string, ref primitives.RecordRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		return false
	}
	if _, ok := rows[ref]; !ok {
		return false
	}
	delete(rows, ref)
	return true
}

func (m *MemTableStore) GetRow(table string, ref primitives.RecordRef) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.tables[table][ref]
	if !ok {
		return nil, fmt.Errorf("no row %d in table %q", ref, table)
	}

	// Hand out a copy so callers (and caches above us) never alias the
	// stored map.
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, nil
}

func (m *MemTableStore) Scan(table string, fn func(ref primitives.RecordRef, row Row) (bool, error)) error {
	m.mu.RLock()
	rows := m.tables[table]
	refs := make([]primitives.RecordRef, 0, len(rows))
	for ref := range rows {
		refs = append(refs, ref)
	}
	m.mu.RUnlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	for _, ref := range refs {
		m.mu.RLock()
		row, ok := rows[ref]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		cont, err := fn(ref, row)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
