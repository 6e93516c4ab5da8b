package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/dialect"
	"github.com/syssam/gqlcache/dialect/sql"
)

// DefaultSQLiteDSN is a private in-memory database with foreign keys on.
const DefaultSQLiteDSN = "file::memory:?_pragma=foreign_keys(1)"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS article (
		id    INTEGER PRIMARY KEY,
		title TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comment (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id INTEGER NOT NULL REFERENCES article(id),
		content    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comment_article_id ON comment (article_id, id)`,
}

// SQLite is a Repository backed by a SQL database. AUTOINCREMENT keeps
// comment ids monotonic across removals.
type SQLite struct {
	drv    dialect.Driver
	stats  *sql.StatsDriver
	logger *slog.Logger
	seed   bool

	locks sync.Map // article id -> *sync.Mutex
}

// NewSQLite returns a repository over drv. Call Migrate before use unless
// the schema already exists.
func NewSQLite(drv dialect.Driver, opts ...Option) *SQLite {
	o := newOptions(opts)
	return &SQLite{drv: drv, logger: o.logger, seed: o.seed}
}

// OpenSQLite opens dsn with the modernc.org/sqlite driver, enables query
// statistics with slow query logging, and migrates the schema.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLite, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	o := newOptions(opts)
	base, err := sql.Open(dialect.SQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every connection to :memory: is a distinct database.
		base.DB().SetMaxOpenConns(1)
	}
	drv := sql.NewStatsDriver(base,
		sql.WithSlowThreshold(o.slowQuery),
		sql.WithSlowQueryLog(o.logger),
	)
	s := NewSQLite(drv, opts...)
	s.stats = drv
	if err := s.Migrate(ctx); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and, unless WithoutSeed was given, loads the
// seed data into an empty database.
func (s *SQLite) Migrate(ctx context.Context) (rerr error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	defer func() {
		if rerr != nil {
			rerr = rollback(tx, rerr)
		}
	}()
	for _, stmt := range migrations {
		if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("repository: migrate: %w", err)
		}
	}
	if s.seed {
		var n int64
		if err := sql.ScanOne(ctx, tx, "SELECT COUNT(*) FROM article", []any{}, &n); err != nil {
			return fmt.Errorf("repository: migrate: %w", err)
		}
		if n == 0 {
			if err := seedSQL(ctx, tx); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: migrate: commit: %w", err)
	}
	return nil
}

func seedSQL(ctx context.Context, ex dialect.ExecQuerier) error {
	articles, comments := Seed()
	for _, a := range articles {
		if err := ex.Exec(ctx, "INSERT INTO article (id, title) VALUES (?, ?)", []any{a.ID, a.Title}, nil); err != nil {
			return fmt.Errorf("repository: seed article %s: %w", a.ID, err)
		}
	}
	for _, c := range comments {
		if err := ex.Exec(ctx, "INSERT INTO comment (id, article_id, content) VALUES (?, ?, ?)", []any{c.ID, c.ArticleID, c.Content}, nil); err != nil {
			return fmt.Errorf("repository: seed comment %s: %w", c.ID, err)
		}
	}
	return nil
}

// Articles implements Repository.
func (s *SQLite) Articles(ctx context.Context) ([]Article, error) {
	return s.articles(ctx, "SELECT id, title FROM article ORDER BY id", []any{})
}

// ArticlesByID implements Repository.
func (s *SQLite) ArticlesByID(ctx context.Context, ids []string) ([]Article, error) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if n, ok := parseID(id); ok {
			args = append(args, n)
		}
	}
	if len(args) == 0 {
		return nil, nil
	}
	query := "SELECT id, title FROM article WHERE id IN (?" + strings.Repeat(", ?", len(args)-1) + ") ORDER BY id"
	return s.articles(ctx, query, args)
}

func (s *SQLite) articles(ctx context.Context, query string, args []any) ([]Article, error) {
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("repository: articles: %w", err)
	}
	defer rows.Close()
	var out []Article
	for rows.Next() {
		var (
			id int64
			a  Article
		)
		if err := rows.Scan(&id, &a.Title); err != nil {
			return nil, fmt.Errorf("repository: scan article: %w", err)
		}
		a.ID = strconv.FormatInt(id, 10)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: articles: %w", err)
	}
	return out, nil
}

// Article implements Repository.
func (s *SQLite) Article(ctx context.Context, id string) (Article, error) {
	return s.article(ctx, s.drv, id)
}

func (s *SQLite) article(ctx context.Context, ex dialect.ExecQuerier, id string) (Article, error) {
	n, ok := parseID(id)
	if !ok {
		return Article{}, gqlcache.NewNotFoundErrorWithID("article", id)
	}
	a := Article{ID: strconv.FormatInt(n, 10)}
	err := sql.ScanOne(ctx, ex, "SELECT title FROM article WHERE id = ?", []any{n}, &a.Title)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Article{}, gqlcache.NewNotFoundErrorWithID("article", id)
	case err != nil:
		return Article{}, fmt.Errorf("repository: article %s: %w", id, err)
	}
	return a, nil
}

// Comments implements Repository.
func (s *SQLite) Comments(ctx context.Context, articleID string) ([]Comment, error) {
	a, err := s.Article(ctx, articleID)
	if err != nil {
		return nil, err
	}
	out, err := s.comments(ctx, "SELECT id, article_id, content FROM comment WHERE article_id = ? ORDER BY id", []any{a.ID})
	if err != nil {
		return nil, fmt.Errorf("repository: comments of %s: %w", articleID, err)
	}
	return out, nil
}

// CommentsByArticle implements Repository.
func (s *SQLite) CommentsByArticle(ctx context.Context, articleIDs []string) ([]Comment, error) {
	args := make([]any, 0, len(articleIDs))
	for _, id := range articleIDs {
		if n, ok := parseID(id); ok {
			args = append(args, n)
		}
	}
	if len(args) == 0 {
		return nil, nil
	}
	query := "SELECT id, article_id, content FROM comment WHERE article_id IN (?" + strings.Repeat(", ?", len(args)-1) + ") ORDER BY id"
	out, err := s.comments(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("repository: comments by article: %w", err)
	}
	return out, nil
}

func (s *SQLite) comments(ctx context.Context, query string, args []any) ([]Comment, error) {
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		var (
			id, articleID int64
			c             Comment
		)
		if err := rows.Scan(&id, &articleID, &c.Content); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.ID = strconv.FormatInt(id, 10)
		c.ArticleID = strconv.FormatInt(articleID, 10)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment implements Repository.
func (s *SQLite) AddComment(ctx context.Context, articleID, content string) (c Comment, rerr error) {
	n, ok := parseID(articleID)
	if !ok {
		return Comment{}, gqlcache.NewNotFoundErrorWithID("article", articleID)
	}
	unlock := s.lock(strconv.FormatInt(n, 10))
	defer unlock()

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return Comment{}, fmt.Errorf("repository: add comment: %w", err)
	}
	defer func() {
		if rerr != nil {
			rerr = rollback(tx, rerr)
		}
	}()
	a, err := s.article(ctx, tx, articleID)
	if err != nil {
		return Comment{}, err
	}
	var res sql.Result
	if err := tx.Exec(ctx, "INSERT INTO comment (article_id, content) VALUES (?, ?)", []any{n, content}, &res); err != nil {
		if sql.IsForeignKeyConstraintError(err) {
			return Comment{}, gqlcache.NewNotFoundErrorWithID("article", articleID)
		}
		return Comment{}, fmt.Errorf("repository: add comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Comment{}, fmt.Errorf("repository: add comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("repository: add comment: commit: %w", err)
	}
	c = Comment{ID: strconv.FormatInt(id, 10), ArticleID: a.ID, Content: content}
	s.logger.DebugContext(ctx, "comment added", "article", a.ID, "comment", c.ID)
	return c, nil
}

// RemoveComment implements Repository.
func (s *SQLite) RemoveComment(ctx context.Context, id string) (_ Comment, rerr error) {
	n, ok := parseID(id)
	if !ok {
		return Comment{}, gqlcache.NewNotFoundErrorWithID("comment", id)
	}
	c := Comment{ID: strconv.FormatInt(n, 10)}
	var articleID int64
	err := sql.ScanOne(ctx, s.drv, "SELECT article_id, content FROM comment WHERE id = ?", []any{n}, &articleID, &c.Content)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Comment{}, gqlcache.NewNotFoundErrorWithID("comment", id)
	case err != nil:
		return Comment{}, fmt.Errorf("repository: remove comment: %w", err)
	}
	c.ArticleID = strconv.FormatInt(articleID, 10)

	unlock := s.lock(c.ArticleID)
	defer unlock()

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return Comment{}, fmt.Errorf("repository: remove comment: %w", err)
	}
	defer func() {
		if rerr != nil {
			rerr = rollback(tx, rerr)
		}
	}()
	var res sql.Result
	if err := tx.Exec(ctx, "DELETE FROM comment WHERE id = ?", []any{n}, &res); err != nil {
		return Comment{}, fmt.Errorf("repository: remove comment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Comment{}, fmt.Errorf("repository: remove comment: %w", err)
	}
	if affected == 0 {
		return Comment{}, gqlcache.NewNotFoundErrorWithID("comment", id)
	}
	if err := tx.Commit(); err != nil {
		return Comment{}, fmt.Errorf("repository: remove comment: commit: %w", err)
	}
	s.logger.DebugContext(ctx, "comment removed", "article", c.ArticleID, "comment", c.ID)
	return c, nil
}

// lock serializes mutations of one article's comment list.
func (s *SQLite) lock(articleID string) func() {
	v, _ := s.locks.LoadOrStore(articleID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Stats returns the statement counters of a repository opened with
// OpenSQLite. It reports false for repositories built with NewSQLite.
func (s *SQLite) Stats() (sql.StatsSnapshot, bool) {
	if s.stats == nil {
		return sql.StatsSnapshot{}, false
	}
	return s.stats.Stats(), true
}

// Close implements io.Closer. It logs the statement counters.
func (s *SQLite) Close() error {
	if stats, ok := s.Stats(); ok {
		s.logger.Info("sqlite repository closed", "stats", stats)
	}
	return s.drv.Close()
}

// rollback aborts tx and keeps err as the primary error.
func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
	}
	return err
}

// parseID accepts only the canonical decimal form of a positive id, so
// "01" and "+1" are unknown here as they are in memory.
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0 && strconv.FormatInt(n, 10) == id
}

var _ Repository = (*SQLite)(nil)
