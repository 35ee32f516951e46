// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package postgres implements the order store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mouts-info/orderservice"
	"github.com/mouts-info/orderservice/order"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint
// violations.
const uniqueViolation = "23505"

// Store persists orders in PostgreSQL. All monetary columns are
// NUMERIC and travel as strings between Go and the database.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewStore connects a [Store] to the database at url.
func NewStore(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	return &Store{
		log:  orderservice.Logger("github.com/mouts-info/orderservice/postgres"),
		pool: pool,
	}, nil
}

// EnsureSchema creates the orders tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres: failed to ensure schema: %w", err)
	}

	s.log.InfoContext(ctx, "orders schema ensured")
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveNew inserts the order and its items in one transaction. The
// unique index on idempotency_key is the last line of defense against
// concurrent duplicates: a violation surfaces as [order.ErrDuplicateKey]
// and nothing is written.
func (s *Store) SaveNew(ctx context.Context, o *order.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(
		ctx,
		`INSERT INTO orders (id, idempotency_key, status, total, failure_reason)
		 VALUES ($1, $2, $3, $4::numeric, $5)
		 RETURNING created_at, updated_at, version`,
		o.ID,
		o.IdempotencyKey,
		string(o.Status),
		o.Total.String(),
		o.FailureReason,
	).Scan(&o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", order.ErrDuplicateKey, o.IdempotencyKey)
		}
		return fmt.Errorf("postgres: failed to insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(
			ctx,
			`INSERT INTO order_items (id, order_id, product_id, quantity, price)
			 VALUES ($1, $2, $3, $4, $5::numeric)`,
			item.ID,
			o.ID,
			item.ProductID,
			item.Quantity,
			item.Price.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert order item: %w", err)
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to commit order: %w", err)
	}

	return nil
}

// FindByIdempotencyKey returns the order carrying the given key,
// items included, or [order.ErrNotFound].
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return s.findOne(
		ctx,
		`SELECT id, idempotency_key, status, total::text, failure_reason, created_at, updated_at, version
		 FROM orders
		 WHERE idempotency_key = $1`,
		key,
	)
}

// Get returns the order with the given id, items included, or
// [order.ErrNotFound].
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return s.findOne(
		ctx,
		`SELECT id, idempotency_key, status, total::text, failure_reason, created_at, updated_at, version
		 FROM orders
		 WHERE id = $1`,
		id,
	)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*order.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to query order: %w", err)
	}

	o.Items, err = s.ListItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// List returns orders ordered newest first. Items are not loaded.
func (s *Store) List(ctx context.Context, limit, offset int) ([]order.Order, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, idempotency_key, status, total::text, failure_reason, created_at, updated_at, version
		 FROM orders
		 ORDER BY created_at DESC, id
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list orders: %w", err)
	}
	return orders, nil
}

// ListItems returns the items of the given order, or
// [order.ErrNotFound] when the order does not exist.
func (s *Store) ListItems(ctx context.Context, orderID uuid.UUID) ([]order.OrderItem, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT i.id, i.product_id, i.quantity, i.price::text
		 FROM order_items i
		 WHERE i.order_id = $1
		 ORDER BY i.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list order items: %w", err)
	}
	defer rows.Close()

	var items []order.OrderItem
	for rows.Next() {
		var (
			item  order.OrderItem
			price string
		)
		err = rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &price)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan order item: %w", err)
		}
		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to parse item price: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list order items: %w", err)
	}

	if len(items) == 0 {
		var exists bool
		err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to check order existence: %w", err)
		}
		if !exists {
			return nil, order.ErrNotFound
		}
	}

	return items, nil
}

// MarkFailed moves the order identified by id to FAILED, recording the
// reason. The update is guarded by the version read beforehand; losing
// the race returns [order.ErrStaleVersion] and changes nothing.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, version int64, reason string) error {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE orders
		 SET status = $1, failure_reason = $2, updated_at = now(), version = version + 1
		 WHERE id = $3 AND version = $4`,
		string(order.StatusFailed),
		reason,
		id,
		version,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark order failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: failed to check order existence: %w", err)
		}
		if !exists {
			return order.ErrNotFound
		}
		return fmt.Errorf("%w: order %s at version %d", order.ErrStaleVersion, id, version)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o      order.Order
		status string
		total  string
	)
	err := row.Scan(
		&o.ID,
		&o.IdempotencyKey,
		&status,
		&total,
		&o.FailureReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order total: %w", err)
	}
	return &o, nil
}
