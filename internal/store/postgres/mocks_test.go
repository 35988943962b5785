package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/thundertext/thundertext/internal/audit"
)

// mockAcquirer implements Acquirer for testing
type mockAcquirer struct {
	mock.Mock
}

func (m *mockAcquirer) Acquire(ctx context.Context) (Conn, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Conn), args.Error(1)
}

// mockConn implements Conn for testing
type mockConn struct {
	mock.Mock
}

func (m *mockConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	called := m.Called(ctx, sql, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).(pgx.Rows), called.Error(1)
}

func (m *mockConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *mockConn) Release() {
	m.Called()
}

func (m *mockConn) Destroy(ctx context.Context) {
	m.Called(ctx)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// fakeRows is an in-memory pgx.Rows
type fakeRows struct {
	fields []pgconn.FieldDescription
	values [][]any
	tag    pgconn.CommandTag
	err    error

	idx    int
	closed bool
}

func newFakeRows(tag string, columns []string, values ...[]any) *fakeRows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &fakeRows{fields: fields, values: values, tag: pgconn.NewCommandTag(tag)}
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.err != nil || r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	return errors.New("fakeRows: only RowScanner destinations are supported")
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.idx-1], nil
}

// fakePool is a bounded Acquirer that tracks borrowed connections
type fakePool struct {
	slots    chan struct{}
	query    func(ctx context.Context, sql string, args []any) (pgx.Rows, error)
	exec     func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error)
	acquired atomic.Int32
	acquires atomic.Int32
	peak     atomic.Int32

	mu        sync.Mutex
	destroyed int
	execLog   []string
}

func newFakePool(size int) *fakePool {
	p := &fakePool{slots: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	p.query = func(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
		return newFakeRows("SELECT 1", []string{"test"}, []any{int32(1)}), nil
	}
	p.exec = func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return p
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.acquires.Add(1)
	n := p.acquired.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return &fakeConn{pool: p}, nil
}

type fakeConn struct {
	pool *fakePool
	done atomic.Bool
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.query(ctx, sql, args)
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.pool.mu.Lock()
	c.pool.execLog = append(c.pool.execLog, sql)
	c.pool.mu.Unlock()
	return c.pool.exec(ctx, sql, args)
}

func (c *fakeConn) Release() {
	if c.done.Swap(true) {
		panic("connection released twice")
	}
	c.pool.acquired.Add(-1)
	c.pool.slots <- struct{}{}
}

func (c *fakeConn) Destroy(ctx context.Context) {
	if c.done.Swap(true) {
		panic("connection released twice")
	}
	c.pool.mu.Lock()
	c.pool.destroyed++
	c.pool.mu.Unlock()
	c.pool.acquired.Add(-1)
	c.pool.slots <- struct{}{}
}
