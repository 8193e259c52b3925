// Package sqlstore persists orders and their audit records in a SQL database.
// SQLite, PostgreSQL and MySQL are supported through database/sql drivers.
//
// Money is stored as decimal text and timestamps as RFC 3339 text so every
// dialect round-trips them exactly.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // register mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

const timeLayout = time.RFC3339Nano

// Persister is the SQL implementation of the store's persistence collaborator.
type Persister struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to dsn using the named dialect (sqlite, postgres or mysql)
// and applies the schema.
func Open(ctx context.Context, dialectName, dsn string) (*Persister, error) {
	d, err := lookupDialect(dialectName)
	if err != nil {
		return nil, err
	}
	if d.name == "sqlite" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	p := &Persister{db: db, dialect: d}
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// New wraps an existing connection pool. The schema is not applied.
func New(db *sql.DB, dialectName string) (*Persister, error) {
	d, err := lookupDialect(dialectName)
	if err != nil {
		return nil, err
	}
	return &Persister{db: db, dialect: d}, nil
}

// Close releases the connection pool.
func (p *Persister) Close() error {
	return p.db.Close()
}

func (p *Persister) migrate(ctx context.Context) error {
	for _, stmt := range p.dialect.schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: apply schema: %w", err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Load returns (nil, nil) when the order does not exist.
func (p *Persister) Load(ctx context.Context, id string) (*orders.Order, error) {
	row := p.db.QueryRowContext(ctx, p.dialect.rebind(`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load order %s: %w", id, err)
	}
	return o, nil
}

// Save inserts a first version or updates the row holding o.Version-1.
func (p *Persister) Save(ctx context.Context, o *orders.Order) error {
	return p.write(ctx, p.db, o)
}

// SaveWithTransition writes the order and appends its audit record in one transaction.
func (p *Persister) SaveWithTransition(ctx context.Context, o *orders.Order, t orders.StatusTransition) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := p.write(ctx, tx, o); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, p.dialect.rebind(`
		INSERT INTO order_transitions (order_id, from_status, to_status, at, actor)
		VALUES (?, ?, ?, ?, ?)`),
		t.OrderID, string(t.From), string(t.To), t.At.UTC().Format(timeLayout), t.Actor,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert transition for %s: %w", t.OrderID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

// ScanAll reads every order.
func (p *Persister) ScanAll(ctx context.Context) ([]*orders.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan order row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: scan orders: %w", err)
	}
	return out, nil
}

// History returns the persisted audit records of one order in commit order.
func (p *Persister) History(ctx context.Context, id string) ([]orders.StatusTransition, error) {
	rows, err := p.db.QueryContext(ctx, p.dialect.rebind(`
		SELECT order_id, from_status, to_status, at, actor
		FROM   order_transitions
		WHERE  order_id = ?
		ORDER  BY id`), id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: history for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []orders.StatusTransition
	for rows.Next() {
		var t orders.StatusTransition
		var from, to, at string
		if err := rows.Scan(&t.OrderID, &from, &to, &at, &t.Actor); err != nil {
			return nil, fmt.Errorf("sqlstore: scan transition: %w", err)
		}
		t.From, t.To = orders.Status(from), orders.Status(to)
		if t.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("sqlstore: parse transition time: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Persister) write(ctx context.Context, ex execer, o *orders.Order) error {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal line items: %w", err)
	}
	var archivedAt sql.NullString
	if o.ArchivedAt != nil {
		archivedAt = sql.NullString{String: o.ArchivedAt.UTC().Format(timeLayout), Valid: true}
	}
	created := o.CreatedAt.UTC().Format(timeLayout)
	updated := o.UpdatedAt.UTC().Format(timeLayout)

	var res sql.Result
	if o.Version <= 1 {
		res, err = ex.ExecContext(ctx, p.dialect.rebind(p.dialect.insertIgnore),
			o.ID, string(o.Status), o.Customer.ID, o.Customer.DisplayName, string(items),
			o.Total.String(), o.PaymentMethod, o.DeliveryAddress, created, updated, o.Version, archivedAt,
		)
	} else {
		res, err = ex.ExecContext(ctx, p.dialect.rebind(`
			UPDATE orders
			SET    status = ?, customer_id = ?, customer_name = ?, line_items = ?, total = ?,
			       payment_method = ?, delivery_address = ?, updated_at = ?, version = ?, archived_at = ?
			WHERE  order_id = ? AND version = ?`),
			string(o.Status), o.Customer.ID, o.Customer.DisplayName, string(items), o.Total.String(),
			o.PaymentMethod, o.DeliveryAddress, updated, o.Version, archivedAt,
			o.ID, o.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: write order %s: %w", o.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: write order %s: %w", o.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s version %d: %w", o.ID, o.Version, orders.ErrConcurrentModification)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*orders.Order, error) {
	var (
		o                    orders.Order
		status, items, total string
		created, updated     string
		archivedAt           sql.NullString
	)
	err := r.Scan(&o.ID, &status, &o.Customer.ID, &o.Customer.DisplayName, &items, &total,
		&o.PaymentMethod, &o.DeliveryAddress, &created, &updated, &o.Version, &archivedAt)
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	if err := json.Unmarshal([]byte(items), &o.LineItems); err != nil {
		return nil, fmt.Errorf("order %s line items: %w", o.ID, err)
	}
	o.Total = orders.ComputeTotal(o.LineItems)
	if o.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("order %s created_at: %w", o.ID, err)
	}
	if o.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("order %s updated_at: %w", o.ID, err)
	}
	if archivedAt.Valid {
		at, err := time.Parse(timeLayout, archivedAt.String)
		if err != nil {
			return nil, fmt.Errorf("order %s archived_at: %w", o.ID, err)
		}
		o.ArchivedAt = &at
	}
	return &o, nil
}
