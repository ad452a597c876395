package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writers(t *testing.T) map[string]Writer {
	t.Helper()
	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "processd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Writer{
		"memory": NewMemoryStore(),
		"bolt":   bs,
	}
}

func TestWriter_InsertGetQuery(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			row, err := w.Insert(ctx, "customers", Row{"name": "Ada", "email": "ada@example.com", "score": 10})
			require.NoError(t, err)
			id, ok := row[IDColumn].(string)
			require.True(t, ok)
			assert.NotEmpty(t, id)

			_, err = w.Insert(ctx, "customers", Row{"id": "C2", "name": "Grace", "email": "grace@example.com", "score": 30})
			require.NoError(t, err)

			got, err := w.Get(ctx, "customers", "C2")
			require.NoError(t, err)
			assert.Equal(t, "Grace", got["name"])

			rows, err := w.Query(ctx, "customers", Predicate{Where: map[string]any{"email": "ada@example.com"}})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, id, rows[0][IDColumn])

			rows, err = w.Query(ctx, "customers", Predicate{Where: map[string]any{"score": 30}})
			require.NoError(t, err)
			require.Len(t, rows, 1, "numbers compare by value across encodings")

			rows, err = w.Query(ctx, "customers", Predicate{Filter: "row.score > 20"})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "C2", rows[0][IDColumn])

			rows, err = w.Query(ctx, "customers", Predicate{})
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			rows, err = w.Query(ctx, "never_written", Predicate{})
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestWriter_DuplicateID(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := w.Insert(ctx, "requests", Row{"id": "R1"})
			require.NoError(t, err)
			_, err = w.Insert(ctx, "requests", Row{"id": "R1"})
			assert.ErrorIs(t, err, ErrDuplicateID)
		})
	}
}

func TestWriter_UpdateAndDelete(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := w.Insert(ctx, "requests", Row{"id": "R1", "status": "new"})
			require.NoError(t, err)

			updated, err := w.Update(ctx, "requests", "R1", Row{"status": "cancelled", "id": "other"})
			require.NoError(t, err)
			assert.Equal(t, "cancelled", updated["status"])
			assert.Equal(t, "R1", updated[IDColumn], "id is immutable")

			_, err = w.Update(ctx, "requests", "missing", Row{"status": "x"})
			assert.ErrorIs(t, err, ErrNotFound)

			existed, err := w.Delete(ctx, "requests", "R1")
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = w.Delete(ctx, "requests", "R1")
			require.NoError(t, err)
			assert.False(t, existed, "second delete is a no-op")

			_, err = w.Get(ctx, "requests", "R1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestWriter_CancelledContext(t *testing.T) {
	for name, w := range writers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := w.Query(ctx, "customers", Predicate{})
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestInsert_EmptyTable(t *testing.T) {
	_, err := NewMemoryStore().Insert(context.Background(), "", Row{})
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestMatch_BadFilter(t *testing.T) {
	_, err := Match(Row{"a": 1}, Predicate{Filter: "row.a >"})
	assert.Error(t, err)
}
