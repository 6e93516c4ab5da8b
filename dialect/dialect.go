package dialect

import "context"

// SQLite is the only dialect the repositories use. The name matches the
// database/sql driver registered by modernc.org/sqlite.
const SQLite = "sqlite"

// ExecQuerier wraps the Exec and Query methods.
type ExecQuerier interface {
	// Exec executes a statement. v is nil or a *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query runs a query. v must be a *sql.Rows from dialect/sql.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is a database connection.
type Driver interface {
	ExecQuerier
	Tx(ctx context.Context) (Tx, error)
	Close() error
	Dialect() string
}

// Tx is a Driver bound to a transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
