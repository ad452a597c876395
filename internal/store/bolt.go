package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a Writer backed by a bbolt file. Each table is a bucket and
// each row is stored as JSON under its id. Numeric columns read back as
// float64; Match compares numbers by value, so queries are unaffected.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Query returns matching rows ordered by id. A table that was never written
// has no rows.
func (s *BoltStore) Query(ctx context.Context, table string, pred Predicate) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		// bbolt iterates keys in byte order, so rows come out sorted by id.
		return b.ForEach(func(k, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("unmarshal %s/%s: %w", table, string(k), err)
			}
			ok, err := Match(row, pred)
			if err != nil {
				return err
			}
			if ok {
				rows = append(rows, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns the row with id, or ErrNotFound.
func (s *BoltStore) Get(ctx context.Context, table, id string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var row Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Insert stores a new row, assigning an id when the row has none.
func (s *BoltStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, stored, err := prepareInsert(table, row)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", table, err)
		}
		if b.Get([]byte(id)) != nil {
			return fmt.Errorf("%s/%s: %w", table, id, ErrDuplicateID)
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Update merges fields into an existing row.
func (s *BoltStore) Update(ctx context.Context, table, id string, fields Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var row Row
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("unmarshal %s/%s: %w", table, id, err)
		}
		for k, v := range fields {
			if k == IDColumn {
				continue
			}
			row[k] = v
		}
		out, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Delete removes a row and reports whether it existed.
func (s *BoltStore) Delete(ctx context.Context, table, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		if b.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(id))
	})
	return existed, err
}
