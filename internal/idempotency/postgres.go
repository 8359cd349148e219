package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps processed ids in the processed_orders table. With a TTL,
// rows older than it are deleted by MarkProcessed at most once per TTL.
type Postgres struct {
	db  execQuerier
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	lastPrune time.Time
}

func NewPostgres(db execQuerier, ttl time.Duration) *Postgres {
	return &Postgres{db: db, ttl: ttl, now: time.Now}
}

func (p *Postgres) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	query, args, err := p.hasProcessedQuery(orderID)
	if err != nil {
		return false, fmt.Errorf("failed to build select query: %w", err)
	}
	var one int
	err = p.db.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed order %s: %w", orderID, err)
	}
	return true, nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, orderID string) error {
	query, args, err := p.markQuery(orderID)
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark order %s processed: %w", orderID, err)
	}
	if p.pruneDue() {
		// the mark is durable; a failed prune is retried on a later mark
		_, _ = p.Prune(ctx)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (p *Postgres) Prune(ctx context.Context) (int64, error) {
	if p.ttl <= 0 {
		return 0, nil
	}
	query, args, err := p.pruneQuery()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		p.mu.Lock()
		p.lastPrune = time.Time{}
		p.mu.Unlock()
		return 0, fmt.Errorf("failed to prune processed orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) pruneDue() bool {
	if p.ttl <= 0 {
		return false
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastPrune) < p.ttl {
		return false
	}
	p.lastPrune = now
	return true
}

func (p *Postgres) hasProcessedQuery(orderID string) (string, []any, error) {
	b := sq.Select("1").
		From("processed_orders").
		Where(sq.Eq{"order_id": orderID})
	if p.ttl > 0 {
		b = b.Where(sq.Gt{"processed_at": p.now().Add(-p.ttl)})
	}
	return b.PlaceholderFormat(sq.Dollar).ToSql()
}

func (p *Postgres) markQuery(orderID string) (string, []any, error) {
	return sq.Insert("processed_orders").
		Columns("order_id", "processed_at").
		Values(orderID, p.now().UTC()).
		Suffix("on conflict (order_id) do update set processed_at = excluded.processed_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func (p *Postgres) pruneQuery() (string, []any, error) {
	return sq.Delete("processed_orders").
		Where(sq.LtOrEq{"processed_at": p.now().Add(-p.ttl)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
