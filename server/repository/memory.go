package repository

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/syssam/gqlcache"
)

// Memory is a process-owned Repository. The set of articles is fixed at
// construction; each article's comment list has its own lock.
type Memory struct {
	logger   *slog.Logger
	articles []Article
	lists    map[string]*commentList

	mu    sync.RWMutex
	owner map[string]string // comment id -> article id

	lastID atomic.Int64
}

type commentList struct {
	mu    sync.RWMutex
	items []Comment
}

// NewMemory returns a Memory repository holding the seed data.
func NewMemory(opts ...Option) *Memory {
	o := newOptions(opts)
	m := &Memory{
		logger: o.logger,
		lists:  make(map[string]*commentList),
		owner:  make(map[string]string),
	}
	if !o.seed {
		return m
	}
	articles, comments := Seed()
	m.articles = articles
	for _, a := range articles {
		m.lists[a.ID] = &commentList{}
	}
	for _, c := range comments {
		l := m.lists[c.ArticleID]
		l.items = append(l.items, c)
		m.owner[c.ID] = c.ArticleID
		if id, err := strconv.ParseInt(c.ID, 10, 64); err == nil && id > m.lastID.Load() {
			m.lastID.Store(id)
		}
	}
	return m
}

// Articles implements Repository.
func (m *Memory) Articles(context.Context) ([]Article, error) {
	return slices.Clone(m.articles), nil
}

// ArticlesByID implements Repository.
func (m *Memory) ArticlesByID(_ context.Context, ids []string) ([]Article, error) {
	var out []Article
	for _, a := range m.articles {
		if slices.Contains(ids, a.ID) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Article implements Repository.
func (m *Memory) Article(_ context.Context, id string) (Article, error) {
	i := slices.IndexFunc(m.articles, func(a Article) bool { return a.ID == id })
	if i < 0 {
		return Article{}, gqlcache.NewNotFoundErrorWithID("article", id)
	}
	return m.articles[i], nil
}

// Comments implements Repository.
func (m *Memory) Comments(_ context.Context, articleID string) ([]Comment, error) {
	l, ok := m.lists[articleID]
	if !ok {
		return nil, gqlcache.NewNotFoundErrorWithID("article", articleID)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.items), nil
}

// CommentsByArticle implements Repository.
func (m *Memory) CommentsByArticle(_ context.Context, articleIDs []string) ([]Comment, error) {
	var out []Comment
	for _, a := range m.articles {
		if !slices.Contains(articleIDs, a.ID) {
			continue
		}
		l := m.lists[a.ID]
		l.mu.RLock()
		out = append(out, l.items...)
		l.mu.RUnlock()
	}
	slices.SortStableFunc(out, func(a, b Comment) int { return commentOrder(a) - commentOrder(b) })
	return out, nil
}

func commentOrder(c Comment) int {
	n, _ := strconv.Atoi(c.ID)
	return n
}

// AddComment implements Repository.
func (m *Memory) AddComment(ctx context.Context, articleID, content string) (Comment, error) {
	l, ok := m.lists[articleID]
	if !ok {
		return Comment{}, gqlcache.NewNotFoundErrorWithID("article", articleID)
	}
	l.mu.Lock()
	c := Comment{
		ID:        strconv.FormatInt(m.lastID.Add(1), 10),
		ArticleID: articleID,
		Content:   content,
	}
	l.items = append(l.items, c)
	l.mu.Unlock()

	m.mu.Lock()
	m.owner[c.ID] = articleID
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "comment added", "article", articleID, "comment", c.ID)
	return c, nil
}

// RemoveComment implements Repository.
func (m *Memory) RemoveComment(ctx context.Context, id string) (Comment, error) {
	m.mu.RLock()
	articleID, ok := m.owner[id]
	m.mu.RUnlock()
	if !ok {
		return Comment{}, gqlcache.NewNotFoundErrorWithID("comment", id)
	}

	l := m.lists[articleID]
	l.mu.Lock()
	i := slices.IndexFunc(l.items, func(c Comment) bool { return c.ID == id })
	if i < 0 {
		// Lost a race with another removal of the same id.
		l.mu.Unlock()
		return Comment{}, gqlcache.NewNotFoundErrorWithID("comment", id)
	}
	c := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	l.mu.Unlock()

	m.mu.Lock()
	delete(m.owner, id)
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "comment removed", "article", articleID, "comment", id)
	return c, nil
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

var _ Repository = (*Memory)(nil)
