// Package server exposes the articles/comments GraphQL API over HTTP.
//
// The executable schema is written against the gqlgen runtime: documents
// are parsed and validated by the gqlgen handler, and the executor in this
// package walks the selection sets and marshals results with gqlgen's
// marshalers. Any resolver error fails the whole operation: the response
// carries "data": null and a single error.
package server

import (
	"context"
	"log/slog"

	"github.com/syssam/gqlcache/contrib/dataloader"
	"github.com/syssam/gqlcache/pagination"
	"github.com/syssam/gqlcache/server/repository"
)

// DefaultMaxLast bounds the page size a client may request; 0 means no
// limit, so windows follow the requested last exactly.
const DefaultMaxLast = 0

// Resolver resolves the root fields against a Repository.
type Resolver struct {
	repo   repository.Repository
	logger *slog.Logger
	sizes  pagination.SizeConfig
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMaxLast sets the largest page a client may request; 0 disables the limit.
func WithMaxLast(n int) Option {
	return func(r *Resolver) {
		r.sizes.Max = n
	}
}

// NewResolver returns a Resolver over repo.
func NewResolver(repo repository.Repository, opts ...Option) *Resolver {
	r := &Resolver{
		repo:   repo,
		logger: slog.Default(),
		sizes:  pagination.SizeConfig{Max: DefaultMaxLast},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Articles returns all articles.
func (r *Resolver) Articles(ctx context.Context) ([]repository.Article, error) {
	articles, err := r.repo.Articles(ctx)
	if err != nil {
		return nil, err
	}
	if l := loadersFrom(ctx); l != nil {
		dataloader.PrimeMany(l.Article, articles, repository.ArticleKey)
	}
	return articles, nil
}

// Article returns one article.
func (r *Resolver) Article(ctx context.Context, id string) (repository.Article, error) {
	if l := loadersFrom(ctx); l != nil {
		return l.Article.Load(ctx, id)
	}
	return r.repo.Article(ctx, id)
}

// Comments returns the window of an article's comments selected by last and
// before.
func (r *Resolver) Comments(ctx context.Context, articleID string, last int, before *string) (pagination.Page[repository.Comment], error) {
	var (
		comments []repository.Comment
		err      error
	)
	if l := loadersFrom(ctx); l != nil {
		comments, err = l.Comments.Load(ctx, articleID)
	} else {
		comments, err = r.repo.Comments(ctx, articleID)
	}
	if err != nil {
		return pagination.Page[repository.Comment]{}, err
	}
	last = pagination.ClampLast(last, r.sizes)
	return pagination.Window(comments, repository.CommentKey, last, before), nil
}

// AddComment creates a comment on an article.
func (r *Resolver) AddComment(ctx context.Context, articleID, content string) (repository.Comment, error) {
	c, err := r.repo.AddComment(ctx, articleID, content)
	if err != nil {
		return repository.Comment{}, err
	}
	if l := loadersFrom(ctx); l != nil {
		l.invalidate(articleID)
	}
	r.logger.InfoContext(ctx, "comment added", "article", articleID, "comment", c.ID)
	return c, nil
}

// RemoveComment deletes a comment and returns its id.
func (r *Resolver) RemoveComment(ctx context.Context, id string) (string, error) {
	c, err := r.repo.RemoveComment(ctx, id)
	if err != nil {
		return "", err
	}
	if l := loadersFrom(ctx); l != nil {
		l.invalidate(c.ArticleID)
	}
	r.logger.InfoContext(ctx, "comment removed", "article", c.ArticleID, "comment", c.ID)
	return c.ID, nil
}

// loaders are created per operation.
type loaders struct {
	Article  *dataloader.Loader[string, repository.Article]
	Comments *dataloader.Loader[string, []repository.Comment]
}

func (r *Resolver) newLoaders() *loaders {
	return &loaders{
		Article: dataloader.NewLoader(func(ctx context.Context, ids []string) ([]repository.Article, []error) {
			articles, err := r.repo.ArticlesByID(ctx, ids)
			if err != nil {
				return nil, []error{err}
			}
			return dataloader.OrderByKeys("article", ids, articles, repository.ArticleKey)
		}),
		Comments: dataloader.NewLoader(r.commentLists),
	}
}

// commentLists loads the comment lists of several articles with one
// comments query. Unknown articles get a NotFoundError; known articles
// without comments get an empty list.
func (r *Resolver) commentLists(ctx context.Context, ids []string) ([][]repository.Comment, []error) {
	articles, err := r.repo.ArticlesByID(ctx, ids)
	if err != nil {
		return nil, []error{err}
	}
	comments, err := r.repo.CommentsByArticle(ctx, ids)
	if err != nil {
		return nil, []error{err}
	}
	lists := dataloader.OrderGroupsByKeys(ids, dataloader.GroupByKey(comments, repository.CommentArticleKey))
	_, errs := dataloader.OrderByKeys("article", ids, articles, repository.ArticleKey)
	for i := range lists {
		if errs[i] == nil && lists[i] == nil {
			lists[i] = []repository.Comment{}
		}
	}
	return lists, errs
}

// invalidate drops the memoized comment lists of the given articles after
// a mutation changed them.
func (l *loaders) invalidate(articleIDs ...string) {
	dataloader.ClearMany(l.Comments, articleIDs)
}

func (l *loaders) logBatches(ctx context.Context, logger *slog.Logger) {
	logger.DebugContext(ctx, "batch loads", "articles", l.Article.Calls(), "comments", l.Comments.Calls())
}

func loadersFrom(ctx context.Context) *loaders {
	return dataloader.For[*loaders](ctx)
}
