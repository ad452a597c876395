// Package store provides the row store that business tools write to and
// that store assertions read from.
//
// Rows are schemaless maps keyed by an "id" column. Two implementations are
// provided: MemoryStore for tests and single-process use, and BoltStore for
// a durable single-file store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/fyrsmithlabs/processd/internal/template"
)

// IDColumn is the primary key column of every table.
const IDColumn = "id"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrInvalidTable is returned for an empty table name.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrDuplicateID is returned when inserting a row whose id already exists.
	ErrDuplicateID = errors.New("duplicate row id")
)

// Row is one record.
type Row = map[string]any

// Predicate selects rows. Where matches columns by loose equality; Filter is
// an optional boolean expression evaluated with the row bound to "row".
type Predicate struct {
	Where  map[string]any
	Filter string
}

// Store answers read queries. Store assertions depend only on this.
type Store interface {
	Query(ctx context.Context, table string, pred Predicate) ([]Row, error)
}

// Writer is a Store that tools can mutate.
type Writer interface {
	Store
	Get(ctx context.Context, table, id string) (Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table, id string, fields Row) (Row, error)
	Delete(ctx context.Context, table, id string) (bool, error)
}

// Match reports whether row satisfies pred.
func Match(row Row, pred Predicate) (bool, error) {
	for col, want := range pred.Where {
		got, ok := row[col]
		if !ok || !template.Equal(got, want) {
			return false, nil
		}
	}
	if pred.Filter == "" {
		return true, nil
	}

	program, err := compileFilter(pred.Filter)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, map[string]any{"row": row})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", pred.Filter, err)
	}
	b, _ := out.(bool)
	return b, nil
}

var filters sync.Map // string -> *vm.Program

func compileFilter(source string) (*vm.Program, error) {
	if p, ok := filters.Load(source); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.Env(map[string]any{"row": Row{}}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	filters.Store(source, program)
	return program, nil
}

// prepareInsert copies row and assigns an id when none is given.
func prepareInsert(table string, row Row) (string, Row, error) {
	if table == "" {
		return "", nil, ErrInvalidTable
	}
	out := make(Row, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	id := template.Stringify(out[IDColumn])
	if id == "" {
		id = uuid.NewString()
	}
	out[IDColumn] = id
	return id, out, nil
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return template.Stringify(rows[i][IDColumn]) < template.Stringify(rows[j][IDColumn])
	})
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
