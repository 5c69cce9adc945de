package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements the slice of pgx.Rows the repos touch: Next/Scan/Err/Close.
type rowsStub struct {
	idx  int
	scan []func(dest ...any) error
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool                                   { return r.idx < len(r.scan) }
func (r *rowsStub) Scan(dest ...any) error {
	fn := r.scan[r.idx]
	r.idx++
	return fn(dest...)
}
func (r *rowsStub) Values() ([]any, error) { return nil, nil }
func (r *rowsStub) RawValues() [][]byte    { return nil }
func (r *rowsStub) Conn() *pgx.Conn        { return nil }

// poolStub implements postgres.PgxPool for tests without a live database.
// Defined in a shared helper so multiple *_test.go files can reuse it.
type poolStub struct {
	execErr  error
	execSQL  []string
	execArgs [][]any
	row      rowStub
	rows     *rowsStub
	queryErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}
