package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Writer. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Row
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]Row)}
}

// Query returns copies of the matching rows ordered by id.
func (s *MemoryStore) Query(ctx context.Context, table string, pred Predicate) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []Row
	for _, row := range s.tables[table] {
		ok, err := Match(row, pred)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, copyRow(row))
		}
	}
	sortRows(rows)
	return rows, nil
}

// Get returns the row with id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, table, id string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	return copyRow(row), nil
}

// Insert stores a new row, assigning an id when the row has none.
func (s *MemoryStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, stored, err := prepareInsert(table, row)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]Row)
		s.tables[table] = t
	}
	if _, exists := t[id]; exists {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrDuplicateID)
	}
	t[id] = stored
	return copyRow(stored), nil
}

// Update merges fields into an existing row.
func (s *MemoryStore) Update(ctx context.Context, table, id string, fields Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	for k, v := range fields {
		if k == IDColumn {
			continue
		}
		row[k] = v
	}
	return copyRow(row), nil
}

// Delete removes a row. It reports whether the row existed; deleting a
// missing row is not an error.
func (s *MemoryStore) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table][id]; !ok {
		return false, nil
	}
	delete(s.tables[table], id)
	return true, nil
}
