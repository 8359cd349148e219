package order

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores orders in the orders and order_items tables.
type PostgresRepository struct {
	db pgDB
}

func NewPostgresRepository(db pgDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, o Order) error {
	orderQuery, orderArgs, err := insertOrderQuery(o)
	if err != nil {
		return fmt.Errorf("failed to build insert order query: %w", err)
	}
	itemsQuery, itemsArgs, err := insertItemsQuery(o)
	if err != nil {
		return fmt.Errorf("failed to build insert items query: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, orderQuery, orderArgs...); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if _, err := tx.Exec(ctx, itemsQuery, itemsArgs...); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	query, args, err := selectOrderQuery(id)
	if err != nil {
		return Order{}, fmt.Errorf("failed to build select order query: %w", err)
	}
	var (
		o      Order
		status string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(&o.OrderID, &o.CustomerID, &status, &o.TotalAmount, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("failed to select order: %w", err)
	}
	o.Status = Status(status)
	o.CreatedAt = o.CreatedAt.UTC()

	query, args, err = selectItemsQuery(id)
	if err != nil {
		return Order{}, fmt.Errorf("failed to build select items query: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Order{}, fmt.Errorf("failed to select order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return Order{}, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("failed to read order items: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query, args, err := sq.Delete("orders").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func insertOrderQuery(o Order) (string, []any, error) {
	return sq.Insert("orders").
		Columns("id", "customer_id", "status", "total_amount", "created_at").
		Values(o.OrderID, o.CustomerID, string(o.Status), o.TotalAmount, o.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func insertItemsQuery(o Order) (string, []any, error) {
	b := sq.Insert("order_items").Columns("order_id", "position", "product_id", "quantity")
	for i, it := range o.Items {
		b = b.Values(o.OrderID, i, it.ProductID, it.Quantity)
	}
	return b.PlaceholderFormat(sq.Dollar).ToSql()
}

func selectOrderQuery(id string) (string, []any, error) {
	return sq.Select("id", "customer_id", "status", "total_amount", "created_at").
		From("orders").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

func selectItemsQuery(id string) (string, []any, error) {
	return sq.Select("product_id", "quantity").
		From("order_items").
		Where(sq.Eq{"order_id": id}).
		OrderBy("position ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
