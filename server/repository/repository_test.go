package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/dialect"
	"github.com/syssam/gqlcache/dialect/sql"
)

// backends returns a constructor per Repository implementation. Every call
// yields a fresh, seeded repository.
func backends() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory": func(*testing.T) Repository { return NewMemory() },
		"sqlite": func(t *testing.T) Repository {
			repo, err := OpenSQLite(context.Background(), "")
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func commentIDs(cs []Comment) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

// =============================================================================
// Behavior Tests (all backends)
// =============================================================================

func TestSeed(t *testing.T) {
	t.Parallel()

	articles, comments := Seed()
	require.Len(t, articles, 3)
	require.Len(t, comments, 15)
	assert.Equal(t, Comment{ID: "1", ArticleID: "1", Content: "A"}, comments[0])
	assert.Equal(t, Comment{ID: "15", ArticleID: "3", Content: "O"}, comments[14])
	assert.Equal(t, "2", comments[5].ArticleID)
}

func TestRepository(t *testing.T) {
	t.Parallel()

	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("articles", func(t *testing.T) {
				repo := open(t)
				articles, err := repo.Articles(ctx)
				require.NoError(t, err)
				assert.Equal(t, []Article{
					{ID: "1", Title: "First article"},
					{ID: "2", Title: "Second article"},
					{ID: "3", Title: "Third article"},
				}, articles)

				a, err := repo.Article(ctx, "2")
				require.NoError(t, err)
				assert.Equal(t, "Second article", a.Title)

				some, err := repo.ArticlesByID(ctx, []string{"3", "1", "9"})
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"1", "3"}, []string{some[0].ID, some[1].ID})
			})

			t.Run("comments", func(t *testing.T) {
				repo := open(t)
				comments, err := repo.Comments(ctx, "3")
				require.NoError(t, err)
				assert.Equal(t, []string{"11", "12", "13", "14", "15"}, commentIDs(comments))
				assert.Equal(t, "K", comments[0].Content)
				assert.Equal(t, "3", comments[0].ArticleID)
			})

			t.Run("comments by article", func(t *testing.T) {
				repo := open(t)
				comments, err := repo.CommentsByArticle(ctx, []string{"3", "1", "9"})
				require.NoError(t, err)
				assert.Equal(t, []string{"1", "2", "3", "4", "5", "11", "12", "13", "14", "15"}, commentIDs(comments))
				assert.Equal(t, "1", comments[0].ArticleID)
				assert.Equal(t, "3", comments[9].ArticleID)

				comments, err = repo.CommentsByArticle(ctx, []string{"9"})
				require.NoError(t, err)
				assert.Empty(t, comments)
			})

			t.Run("non canonical ids", func(t *testing.T) {
				repo := open(t)
				for _, id := range []string{"01", "+1", " 1", "1.0"} {
					_, err := repo.Article(ctx, id)
					assert.True(t, gqlcache.IsNotFound(err), "article %q", id)
					_, err = repo.Comments(ctx, id)
					assert.True(t, gqlcache.IsNotFound(err), "comments %q", id)
					_, err = repo.AddComment(ctx, id, "x")
					assert.True(t, gqlcache.IsNotFound(err), "add to %q", id)
					some, err := repo.ArticlesByID(ctx, []string{id})
					require.NoError(t, err)
					assert.Empty(t, some, "articles by id %q", id)
				}
				_, err := repo.RemoveComment(ctx, "03")
				assert.True(t, gqlcache.IsNotFound(err))
			})

			t.Run("not found", func(t *testing.T) {
				repo := open(t)
				_, err := repo.Article(ctx, "9")
				assert.True(t, gqlcache.IsNotFound(err))
				_, err = repo.Article(ctx, "abc")
				assert.True(t, gqlcache.IsNotFound(err))
				_, err = repo.Comments(ctx, "9")
				assert.True(t, gqlcache.IsNotFound(err))
				_, err = repo.AddComment(ctx, "9", "x")
				assert.True(t, gqlcache.IsNotFound(err))
				_, err = repo.RemoveComment(ctx, "99")
				assert.True(t, gqlcache.IsNotFound(err))
			})

			t.Run("add and remove", func(t *testing.T) {
				repo := open(t)
				c, err := repo.AddComment(ctx, "1", "P")
				require.NoError(t, err)
				assert.Equal(t, Comment{ID: "16", ArticleID: "1", Content: "P"}, c)

				removed, err := repo.RemoveComment(ctx, "3")
				require.NoError(t, err)
				assert.Equal(t, Comment{ID: "3", ArticleID: "1", Content: "C"}, removed)

				comments, err := repo.Comments(ctx, "1")
				require.NoError(t, err)
				assert.Equal(t, []string{"1", "2", "4", "5", "16"}, commentIDs(comments))

				_, err = repo.RemoveComment(ctx, "3")
				assert.True(t, gqlcache.IsNotFound(err), "second removal")

				_, err = repo.RemoveComment(ctx, "16")
				require.NoError(t, err)
				c, err = repo.AddComment(ctx, "2", "Q")
				require.NoError(t, err)
				assert.Equal(t, "17", c.ID, "ids are never reused")

				other, err := repo.Comments(ctx, "2")
				require.NoError(t, err)
				assert.Equal(t, []string{"6", "7", "8", "9", "10", "17"}, commentIDs(other))
			})

			t.Run("concurrent adds", func(t *testing.T) {
				repo := open(t)
				const n = 25
				var wg sync.WaitGroup
				for i := range n {
					wg.Add(1)
					go func() {
						defer wg.Done()
						articleID := fmt.Sprint(i%3 + 1)
						_, err := repo.AddComment(ctx, articleID, fmt.Sprint(i))
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				seen := map[string]bool{}
				total := 0
				for _, id := range []string{"1", "2", "3"} {
					comments, err := repo.Comments(ctx, id)
					require.NoError(t, err)
					total += len(comments)
					for _, c := range comments {
						assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
						seen[c.ID] = true
					}
				}
				assert.Equal(t, 15+n, total)
			})
		})
	}
}

func TestMemoryWithoutSeed(t *testing.T) {
	t.Parallel()

	repo := NewMemory(WithoutSeed())
	articles, err := repo.Articles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, articles)
	_, err = repo.AddComment(context.Background(), "1", "A")
	assert.True(t, gqlcache.IsNotFound(err))
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := NewMemory()
	comments, err := repo.Comments(context.Background(), "1")
	require.NoError(t, err)
	comments[0].Content = "changed"

	again, err := repo.Comments(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Content)
}

// =============================================================================
// SQLite Error Path Tests
// =============================================================================

func mockRepo(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(sql.OpenDB(dialect.SQLite, db), WithoutSeed()), mock
}

func TestSQLiteStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	repo, err := OpenSQLite(ctx, "", WithLogger(logger), WithSlowQuery(time.Hour))
	require.NoError(t, err)

	_, err = repo.Articles(ctx)
	require.NoError(t, err)
	_, err = repo.CommentsByArticle(ctx, []string{"1", "2"})
	require.NoError(t, err)

	stats, ok := repo.Stats()
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.Queries, int64(2))
	assert.GreaterOrEqual(t, stats.Execs, int64(len(migrations)))
	assert.Zero(t, stats.Slow)
	assert.Zero(t, stats.Errors)

	require.NoError(t, repo.Close())
	var record struct {
		Msg   string `json:"msg"`
		Stats struct {
			Queries int64 `json:"queries"`
			Slow    int64 `json:"slow"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sqlite repository closed", record.Msg)
	assert.Equal(t, stats.Queries, record.Stats.Queries)

	_, ok = NewSQLite(nil).Stats()
	assert.False(t, ok, "only OpenSQLite counts statements")
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestSQLiteErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("migrate", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS article")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS comment")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("CREATE INDEX IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		require.NoError(t, repo.Migrate(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("migrate failure rolls back", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS article")).WillReturnError(boom)
		mock.ExpectRollback()
		err := repo.Migrate(ctx)
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("articles query", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectQuery(q("SELECT id, title FROM article ORDER BY id")).WillReturnError(boom)
		_, err := repo.Articles(ctx)
		require.ErrorIs(t, err, boom)
		assert.False(t, gqlcache.IsNotFound(err))
	})

	t.Run("comments by article query", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectQuery(q("SELECT id, article_id, content FROM comment WHERE article_id IN (?, ?) ORDER BY id")).
			WithArgs(int64(1), int64(2)).
			WillReturnError(boom)
		_, err := repo.CommentsByArticle(ctx, []string{"1", "x", "2"})
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("add comment foreign key", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT title FROM article WHERE id = ?")).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("First article"))
		mock.ExpectExec(q("INSERT INTO comment (article_id, content) VALUES (?, ?)")).
			WithArgs(int64(1), "P").
			WillReturnError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)"))
		mock.ExpectRollback()

		_, err := repo.AddComment(ctx, "1", "P")
		assert.True(t, gqlcache.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("add comment commit", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT title FROM article WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("First article"))
		mock.ExpectExec(q("INSERT INTO comment")).WillReturnResult(sqlmock.NewResult(16, 1))
		mock.ExpectCommit().WillReturnError(boom)

		_, err := repo.AddComment(ctx, "1", "P")
		require.ErrorIs(t, err, boom)
	})

	t.Run("add comment unknown article", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT title FROM article WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"title"}))
		mock.ExpectRollback()

		_, err := repo.AddComment(ctx, "7", "P")
		assert.True(t, gqlcache.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remove comment unknown", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectQuery(q("SELECT article_id, content FROM comment WHERE id = ?")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"article_id", "content"}))

		_, err := repo.RemoveComment(ctx, "42")
		assert.True(t, gqlcache.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remove comment raced", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectQuery(q("SELECT article_id, content FROM comment WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"article_id", "content"}).AddRow(1, "C"))
		mock.ExpectBegin()
		mock.ExpectExec(q("DELETE FROM comment WHERE id = ?")).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.RemoveComment(ctx, "3")
		assert.True(t, gqlcache.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remove comment", func(t *testing.T) {
		t.Parallel()
		repo, mock := mockRepo(t)
		mock.ExpectQuery(q("SELECT article_id, content FROM comment WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"article_id", "content"}).AddRow(1, "C"))
		mock.ExpectBegin()
		mock.ExpectExec(q("DELETE FROM comment WHERE id = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		c, err := repo.RemoveComment(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, Comment{ID: "3", ArticleID: "1", Content: "C"}, c)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
