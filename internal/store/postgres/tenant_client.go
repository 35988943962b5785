package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thundertext/thundertext/internal/audit"
	"github.com/thundertext/thundertext/internal/observability/logger"
	"github.com/thundertext/thundertext/internal/observability/metrics"
	"github.com/thundertext/thundertext/internal/tenant"
)

// ErrClientReleased is returned when a released tenant client is used
var ErrClientReleased = errors.New("tenant client already released")

const resetTimeout = 5 * time.Second

// Gateway hands out tenant-scoped clients over a shared pool.
//
// Tenant identifiers are validated fail-closed and attached to every log
// record and span. Row filtering is left to the database's RLS policies; when
// a tenant setting is configured the gateway exposes the tenant to those
// policies through set_config.
type Gateway struct {
	pool          Acquirer
	logger        *slog.Logger
	auditLogger   audit.Logger
	instruments   *metrics.GatewayInstruments
	tracer        trace.Tracer
	tenantSetting string
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithLogger sets the logger used for statement records
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithAuditLogger sets the audit sink for client lifecycle events
func WithAuditLogger(a audit.Logger) GatewayOption {
	return func(g *Gateway) { g.auditLogger = a }
}

// WithInstruments sets the metric instruments
func WithInstruments(i *metrics.GatewayInstruments) GatewayOption {
	return func(g *Gateway) { g.instruments = i }
}

// WithTracer sets the tracer used for statement spans
func WithTracer(t trace.Tracer) GatewayOption {
	return func(g *Gateway) { g.tracer = t }
}

// WithTenantSetting makes every client publish its tenant in the named
// session setting (e.g. "app.current_tenant") for RLS policies to read.
func WithTenantSetting(name string) GatewayOption {
	return func(g *Gateway) { g.tenantSetting = strings.TrimSpace(name) }
}

// NewGateway creates a gateway over pool
func NewGateway(pool Acquirer, opts ...GatewayOption) *Gateway {
	g := &Gateway{pool: pool}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With(logger.Component("tenant_gateway"))
	if g.auditLogger == nil {
		g.auditLogger = audit.NewSlogLogger()
	}
	if g.instruments == nil {
		g.instruments = metrics.NoopGatewayInstruments()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("github.com/thundertext/thundertext/internal/store/postgres")
	}
	return g
}

// TenantClient is a pooled connection borrowed on behalf of one tenant.
// It must be released exactly once; Release is idempotent.
type TenantClient struct {
	gw         *Gateway
	conn       Conn
	tenantID   string
	leaseID    string
	acquiredAt time.Time
	spanCtx    trace.SpanContext

	mu       sync.Mutex
	released bool
}

// GetTenantClient validates tenantID and borrows a connection for it.
// An empty tenant is refused before the pool is touched.
func (g *Gateway) GetTenantClient(ctx context.Context, tenantID string) (*TenantClient, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		g.reject(ctx, err)
		return nil, err
	}

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		g.logger.ErrorContext(ctx, "tenant_client_acquire_failed", logger.TenantID(tenantID), logger.Error(err))
		return nil, err
	}

	c := &TenantClient{
		gw:         g,
		conn:       conn,
		tenantID:   tenantID,
		leaseID:    newLeaseID(),
		acquiredAt: time.Now(),
		spanCtx:    trace.SpanContextFromContext(ctx),
	}

	if g.tenantSetting != "" {
		if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", g.tenantSetting, tenantID); err != nil {
			// session state is unknown; never hand this connection to another tenant
			conn.Destroy(context.WithoutCancel(ctx))
			g.logger.ErrorContext(ctx, "tenant_setting_failed", logger.TenantID(tenantID), logger.Error(err))
			return nil, err
		}
	}

	g.instruments.ClientAcquired(ctx)
	g.logger.DebugContext(ctx, "tenant_client_acquired", logger.TenantID(tenantID), logger.LeaseID(c.leaseID))
	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantClientAcquired,
		TenantID: tenantID,
		Resource: "postgres",
		Metadata: map[string]any{"lease_id": c.leaseID},
		Level:    slog.LevelDebug,
	})

	return c, nil
}

func (g *Gateway) reject(ctx context.Context, err error) {
	g.instruments.TenantRejected(ctx)
	g.logger.WarnContext(ctx, "tenant_access_denied", logger.Error(err))
	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantAccessDenied,
		Resource: "postgres",
		Metadata: map[string]any{"reason": err.Error()},
	})
}

func newLeaseID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TenantID returns the tenant that owns the client
func (c *TenantClient) TenantID() string { return c.tenantID }

// LeaseID returns the identifier correlating this borrow in logs
func (c *TenantClient) LeaseID() string { return c.leaseID }

// AcquiredAt returns when the connection was borrowed
func (c *TenantClient) AcquiredAt() time.Time { return c.acquiredAt }

// Query runs a statement and buffers its rows
func (c *TenantClient) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	return c.QueryStatement(ctx, Statement{SQL: sql, Args: args})
}

// Exec runs a statement that returns no rows
func (c *TenantClient) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.ExecStatement(ctx, Statement{SQL: sql, Args: args})
}

// QueryStatement runs stmt and buffers its rows.
// Driver errors are returned unchanged.
func (c *TenantClient) QueryStatement(ctx context.Context, stmt Statement) (*Result, error) {
	conn, err := c.active()
	if err != nil {
		return nil, err
	}

	stmt = stmt.describe()
	ctx, span := c.startSpan(ctx, stmt)
	defer span.End()
	start := time.Now()

	rows, err := conn.Query(ctx, stmt.SQL, stmt.Args...)
	var res *Result
	if err == nil {
		res, err = collectResult(rows)
	}

	var affected int64
	if res != nil {
		affected = res.CommandTag.RowsAffected()
	}
	c.observe(ctx, span, stmt, start, affected, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecStatement runs stmt and returns its command tag.
// Driver errors are returned unchanged.
func (c *TenantClient) ExecStatement(ctx context.Context, stmt Statement) (pgconn.CommandTag, error) {
	conn, err := c.active()
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	stmt = stmt.describe()
	ctx, span := c.startSpan(ctx, stmt)
	defer span.End()
	start := time.Now()

	tag, err := conn.Exec(ctx, stmt.SQL, stmt.Args...)
	c.observe(ctx, span, stmt, start, tag.RowsAffected(), err)
	return tag, err
}

// Release returns the connection to the pool. When a tenant setting is in
// use it is cleared first; if clearing fails the connection is closed.
func (c *TenantClient) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()

	// Release records stay on the acquiring caller's trace
	ctx := trace.ContextWithSpanContext(context.Background(), c.spanCtx)
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	g := c.gw
	if g.tenantSetting != "" {
		if _, err := c.conn.Exec(ctx, "SELECT set_config($1, '', false)", g.tenantSetting); err != nil {
			g.logger.WarnContext(ctx, "tenant_setting_reset_failed",
				logger.TenantID(c.tenantID), logger.LeaseID(c.leaseID), logger.Error(err))
			c.conn.Destroy(ctx)
			c.finishRelease(ctx)
			return
		}
	}

	c.conn.Release()
	c.finishRelease(ctx)
}

func (c *TenantClient) finishRelease(ctx context.Context) {
	held := time.Since(c.acquiredAt)
	g := c.gw
	g.instruments.ClientReleased(ctx)
	g.logger.DebugContext(ctx, "tenant_client_released",
		logger.TenantID(c.tenantID), logger.LeaseID(c.leaseID), logger.Duration(held.Milliseconds()))
	g.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantClientReleased,
		TenantID: c.tenantID,
		Resource: "postgres",
		Metadata: map[string]any{"lease_id": c.leaseID, "held_ms": held.Milliseconds()},
		Level:    slog.LevelDebug,
	})
}

func (c *TenantClient) active() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrClientReleased
	}
	return c.conn, nil
}

func (c *TenantClient) startSpan(ctx context.Context, stmt Statement) (context.Context, trace.Span) {
	return c.gw.tracer.Start(ctx, "db."+strings.ToLower(stmt.Operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", stmt.Operation),
			attribute.String("db.sql.table", stmt.Table),
			attribute.String("tenant.id", c.tenantID),
		),
	)
}

// observe emits the per-statement log record, span status and metrics.
// Arguments are never logged.
func (c *TenantClient) observe(ctx context.Context, span trace.Span, stmt Statement, start time.Time, affected int64, err error) {
	elapsed := time.Since(start)
	attrs := []any{
		logger.TenantID(c.tenantID),
		logger.Operation(stmt.Operation),
		logger.Table(stmt.Table),
		logger.LeaseID(c.leaseID),
		logger.Duration(elapsed.Milliseconds()),
	}

	g := c.gw
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.ErrorContext(ctx, "tenant_query_failed", append(attrs, logger.Error(err))...)
		g.instruments.RecordQuery(ctx, stmt.Operation, metrics.OutcomeError, elapsed)
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", affected))
	g.logger.InfoContext(ctx, "tenant_query", append(attrs, logger.RowsAffected(affected))...)
	g.instruments.RecordQuery(ctx, stmt.Operation, metrics.OutcomeSuccess, elapsed)
}

// Result is a fully buffered query result
type Result struct {
	Fields     []pgconn.FieldDescription
	Rows       []map[string]any
	CommandTag pgconn.CommandTag
}

// collectResult drains and closes rows
func collectResult(rows pgx.Rows) (*Result, error) {
	fields := append([]pgconn.FieldDescription(nil), rows.FieldDescriptions()...)

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []map[string]any{}
	}

	return &Result{
		Fields:     fields,
		Rows:       records,
		CommandTag: rows.CommandTag(),
	}, nil
}
