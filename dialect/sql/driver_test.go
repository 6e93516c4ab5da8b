package sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/syssam/gqlcache/dialect"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)
	assert.NotNil(t, drv)
	assert.Equal(t, dialect.SQLite, drv.Dialect())
	assert.Same(t, db, drv.DB())
}

// TestDriverQuery tests query operations.
func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)

	t.Run("simple_query", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, title FROM article").
			WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
				AddRow(1, "First article").
				AddRow(2, "Second article"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT id, title FROM article", []any{}, rows)
		require.NoError(t, err)
		var titles []string
		for rows.Next() {
			var (
				id    int64
				title string
			)
			require.NoError(t, rows.Scan(&id, &title))
			titles = append(titles, title)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, []string{"First article", "Second article"}, titles)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery("SELECT content FROM comment WHERE id = \\?").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow("A"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT content FROM comment WHERE id = ?", []any{1}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		expectedErr := errors.New("database error")
		mock.ExpectQuery("SELECT").WillReturnError(expectedErr)

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.ErrorIs(t, err, expectedErr)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_destination", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT 1", []any{}, new(int))
		require.Error(t, err)
		err = drv.Query(context.Background(), "SELECT 1", "not args", &Rows{})
		require.Error(t, err)
	})
}

// TestDriverExec tests execute operations.
func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)

	t.Run("exec_with_result", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO comment").
			WithArgs(1, "P").
			WillReturnResult(sqlmock.NewResult(16, 1))

		var res Result
		err := drv.Exec(context.Background(), "INSERT INTO comment (article_id, content) VALUES (?, ?)", []any{1, "P"}, &res)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.Equal(t, int64(16), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		expectedErr := errors.New("FOREIGN KEY constraint failed")
		mock.ExpectExec("INSERT").WillReturnError(expectedErr)

		err := drv.Exec(context.Background(), "INSERT INTO comment (article_id, content) VALUES (9, 'x')", []any{}, nil)
		require.Error(t, err)
		assert.True(t, IsForeignKeyConstraintError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_destination", func(t *testing.T) {
		err := drv.Exec(context.Background(), "DELETE FROM comment", []any{}, new(int))
		require.Error(t, err)
	})
}

// TestDriverTransaction tests transaction operations.
func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO comment").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO comment (article_id, content) VALUES (1, 'A')", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM comment").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "DELETE FROM comment WHERE id = 1", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_error", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("busy"))
		_, err := drv.Tx(context.Background())
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScanOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectQuery("SELECT title FROM article").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("First article"))
	var title string
	require.NoError(t, ScanOne(context.Background(), drv, "SELECT title FROM article WHERE id = ?", []any{1}, &title))
	assert.Equal(t, "First article", title)

	mock.ExpectQuery("SELECT title FROM article").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"title"}))
	err = ScanOne(context.Background(), drv, "SELECT title FROM article WHERE id = ?", []any{9}, &title)
	assert.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db),
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("DELETE FROM comment").WillReturnError(errors.New("boom"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO comment").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.Error(t, drv.Exec(context.Background(), "DELETE FROM comment", []any{}, nil))

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "INSERT INTO comment DEFAULT VALUES", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.Stats()
	assert.Equal(t, int64(1), s.Queries)
	assert.Equal(t, int64(2), s.Execs)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(3), s.Slow)
	assert.Len(t, slow, 3)
	assert.Positive(t, s.Elapsed)
}

func TestStatsDriverThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.SQLite, db), WithSlowThreshold(time.Hour))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())

	s := drv.Stats()
	assert.Equal(t, int64(1), s.Queries)
	assert.Zero(t, s.Slow)

	v := s.LogValue()
	require.Equal(t, slog.KindGroup, v.Kind())
	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, int64(1), attrs["queries"].Int64())
	assert.Equal(t, int64(0), attrs["slow"].Int64())
}

type captureHandler struct {
	slog.Handler
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func TestWithSlowQueryLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	h := &captureHandler{}
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db), WithSlowThreshold(-1), WithSlowQueryLog(slog.New(h)))

	mock.ExpectExec("DELETE FROM comment").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, drv.Exec(context.Background(), "DELETE FROM comment WHERE id = ?", []any{3}, nil))

	require.Len(t, h.records, 1)
	assert.Equal(t, slog.LevelWarn, h.records[0].Level)
	assert.Equal(t, "slow query detected", h.records[0].Message)
}

// =============================================================================
// Error Classification Tests
// =============================================================================

type codedError int

func (e codedError) Error() string { return fmt.Sprintf("sqlite error %d", int(e)) }
func (e codedError) Code() int     { return int(e) }

func TestConstraintErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		foreignKey bool
		unique     bool
		check      bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("disk I/O error")},
		{name: "fk code", err: fmt.Errorf("exec: %w", codedError(787)), foreignKey: true},
		{name: "fk message", err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), foreignKey: true},
		{name: "unique code", err: codedError(2067), unique: true},
		{name: "unique message", err: errors.New("UNIQUE constraint failed: comment.id"), unique: true},
		{name: "check message", err: errors.New("CHECK constraint failed: content"), check: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.foreignKey, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err))
			assert.Equal(t, tt.foreignKey || tt.unique || tt.check, IsConstraintError(tt.err))
		})
	}
}
