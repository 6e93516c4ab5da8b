// Package dialect defines the database driver abstraction used by the SQL
// comment repository.
//
// A Driver executes statements and opens transactions; a Tx is a Driver
// scoped to one transaction:
//
//	drv, err := sql.Open(dialect.SQLite, "file::memory:?cache=shared")
//	tx, err := drv.Tx(ctx)
//	defer tx.Rollback()
//	err = tx.Exec(ctx, "INSERT INTO comment (article_id, content) VALUES (?, ?)", []any{1, "A"}, nil)
//	err = tx.Commit()
package dialect
