package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures the few places where the supported databases disagree.
type dialect struct {
	name   string
	driver string
	// insertIgnore is an INSERT that silently skips a duplicate primary key.
	insertIgnore string
	schema       []string
	numbered     bool // $1, $2 placeholders instead of ?
}

const orderColumns = "order_id, status, customer_id, customer_name, line_items, total, payment_method, delivery_address, created_at, updated_at, version, archived_at"

var dialects = map[string]dialect{
	"sqlite": {
		name:         "sqlite",
		driver:       "sqlite",
		insertIgnore: "INSERT INTO orders (" + orderColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (order_id) DO NOTHING",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				order_id         TEXT PRIMARY KEY,
				status           TEXT    NOT NULL,
				customer_id      TEXT    NOT NULL,
				customer_name    TEXT    NOT NULL DEFAULT '',
				line_items       TEXT    NOT NULL,
				total            TEXT    NOT NULL,
				payment_method   TEXT    NOT NULL DEFAULT '',
				delivery_address TEXT    NOT NULL DEFAULT '',
				created_at       TEXT    NOT NULL,
				updated_at       TEXT    NOT NULL,
				version          INTEGER NOT NULL,
				archived_at      TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS order_transitions (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				order_id    TEXT NOT NULL,
				from_status TEXT NOT NULL,
				to_status   TEXT NOT NULL,
				at          TEXT NOT NULL,
				actor       TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_order_transitions_order_id ON order_transitions(order_id, id)`,
		},
	},
	"postgres": {
		name:         "postgres",
		driver:       "pgx",
		numbered:     true,
		insertIgnore: "INSERT INTO orders (" + orderColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (order_id) DO NOTHING",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				order_id         TEXT PRIMARY KEY,
				status           TEXT   NOT NULL,
				customer_id      TEXT   NOT NULL,
				customer_name    TEXT   NOT NULL DEFAULT '',
				line_items       TEXT   NOT NULL,
				total            TEXT   NOT NULL,
				payment_method   TEXT   NOT NULL DEFAULT '',
				delivery_address TEXT   NOT NULL DEFAULT '',
				created_at       TEXT   NOT NULL,
				updated_at       TEXT   NOT NULL,
				version          BIGINT NOT NULL,
				archived_at      TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS order_transitions (
				id          BIGSERIAL PRIMARY KEY,
				order_id    TEXT NOT NULL,
				from_status TEXT NOT NULL,
				to_status   TEXT NOT NULL,
				at          TEXT NOT NULL,
				actor       TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_order_transitions_order_id ON order_transitions(order_id, id)`,
		},
	},
	"mysql": {
		name:         "mysql",
		driver:       "mysql",
		insertIgnore: "INSERT IGNORE INTO orders (" + orderColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				order_id         VARCHAR(64)  NOT NULL PRIMARY KEY,
				status           VARCHAR(16)  NOT NULL,
				customer_id      VARCHAR(64)  NOT NULL,
				customer_name    VARCHAR(255) NOT NULL DEFAULT '',
				line_items       TEXT         NOT NULL,
				total            VARCHAR(64)  NOT NULL,
				payment_method   VARCHAR(64)  NOT NULL DEFAULT '',
				delivery_address VARCHAR(512) NOT NULL DEFAULT '',
				created_at       VARCHAR(40)  NOT NULL,
				updated_at       VARCHAR(40)  NOT NULL,
				version          BIGINT       NOT NULL,
				archived_at      VARCHAR(40)  NULL
			)`,
			`CREATE TABLE IF NOT EXISTS order_transitions (
				id          BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
				order_id    VARCHAR(64) NOT NULL,
				from_status VARCHAR(16) NOT NULL,
				to_status   VARCHAR(16) NOT NULL,
				at          VARCHAR(40) NOT NULL,
				actor       VARCHAR(255) NOT NULL,
				INDEX idx_order_transitions_order_id (order_id, id)
			)`,
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	switch name {
	case "postgresql", "pgx":
		name = "postgres"
	case "sqlite3":
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("sqlstore: unsupported dialect %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for dialects that number their parameters.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
