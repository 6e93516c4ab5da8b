// Package sql implements the dialect.Driver interface on top of
// database/sql, with optional query statistics and slow query logging.
//
// # Opening
//
//	drv, err := sql.Open(dialect.SQLite, "file::memory:?cache=shared")
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(50*time.Millisecond), sql.WithSlowQueryLog(logger))
//
// # Scanning
//
// Query results are returned through Rows:
//
//	var rows sql.Rows
//	if err := drv.Query(ctx, "SELECT id, title FROM article", []any{}, &rows); err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for rows.Next() {
//	    ...
//	}
//
// # Errors
//
// IsConstraintError and friends classify driver errors so callers can map
// them to domain errors.
package sql
