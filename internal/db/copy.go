package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyRows streams items into table with the COPY protocol, encoding each
// one with encode as it is sent. An encode error aborts the copy.
func CopyRows[T any](ctx context.Context, pool Pool, table string, columns []string, items []T, encode func(*T) ([]any, error)) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	src := &encodingSource[T]{items: items, encode: encode, idx: -1}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if src.err != nil {
		return 0, eris.Wrapf(src.err, "db: encode row %d for %s", src.idx, table)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}

// encodingSource adapts a slice to pgx.CopyFromSource without building an
// intermediate [][]any.
type encodingSource[T any] struct {
	items  []T
	encode func(*T) ([]any, error)
	idx    int
	row    []any
	err    error
}

func (s *encodingSource[T]) Next() bool {
	if s.err != nil || s.idx+1 >= len(s.items) {
		return false
	}
	s.idx++
	s.row, s.err = s.encode(&s.items[s.idx])
	return s.err == nil
}

func (s *encodingSource[T]) Values() ([]any, error) { return s.row, s.err }

func (s *encodingSource[T]) Err() error { return s.err }
