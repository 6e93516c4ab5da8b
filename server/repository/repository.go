// Package repository owns the articles and their comment lists on the
// server side.
//
// Comments of an article are kept in ascending creation order. Ids are
// allocated from a monotonic counter and never reused after a removal.
// Mutations on one article are serialized; reads return copies.
package repository

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Article is a titled list owner.
type Article struct {
	ID    string
	Title string
}

// Comment belongs to exactly one article.
type Comment struct {
	ID        string
	ArticleID string
	Content   string
}

// ArticleKey returns the article id, for dataloader.KeyFunc.
func ArticleKey(a Article) string { return a.ID }

// CommentKey returns the comment id.
func CommentKey(c Comment) string { return c.ID }

// CommentArticleKey returns the owning article id.
func CommentArticleKey(c Comment) string { return c.ArticleID }

// Repository stores articles and comments. Unknown article or comment ids
// are reported with a *gqlcache.NotFoundError.
type Repository interface {
	io.Closer

	// Articles returns all articles ordered by id.
	Articles(ctx context.Context) ([]Article, error)
	// ArticlesByID returns the articles among ids that exist, in any order.
	ArticlesByID(ctx context.Context, ids []string) ([]Article, error)
	// Article returns one article.
	Article(ctx context.Context, id string) (Article, error)
	// Comments returns the comments of an article in ascending order.
	Comments(ctx context.Context, articleID string) ([]Comment, error)
	// CommentsByArticle returns the comments of the articles among
	// articleIDs that exist, in ascending order. Unknown ids are skipped.
	CommentsByArticle(ctx context.Context, articleIDs []string) ([]Comment, error)
	// AddComment appends a new comment to an article.
	AddComment(ctx context.Context, articleID, content string) (Comment, error)
	// RemoveComment deletes a comment and returns it.
	RemoveComment(ctx context.Context, id string) (Comment, error)
}

// Option configures a repository.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	seed      bool
	slowQuery time.Duration
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSlowQuery sets the duration above which SQL statements are logged as
// slow. The default is 50ms.
func WithSlowQuery(d time.Duration) Option {
	return func(o *options) {
		o.slowQuery = d
	}
}

// WithoutSeed starts the repository empty.
func WithoutSeed() Option {
	return func(o *options) {
		o.seed = false
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), seed: true, slowQuery: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
