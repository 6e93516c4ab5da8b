package client

import (
	"context"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/connection"
	"github.com/syssam/gqlcache/graph"
	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/store"
	"github.com/syssam/gqlcache/value"
)

// DefaultPageSize is the number of comments fetched per page.
const DefaultPageSize = 3

// Operations of the articles/comments API.
const (
	ArticlesQuery = `query getArticles {
  articles {
    id
    title
  }
}`

	ArticleQuery = `query getArticle($id: ID!, $last: Int = 3, $before: ID) {
  article(id: $id) {
    id
    title
    comments(last: $last, before: $before) {
      ...CommentPage
    }
  }
}
` + commentPageFragment

	CommentsQuery = `query getComments($articleId: ID!, $last: Int = 3, $before: ID) {
  comments(articleId: $articleId, last: $last, before: $before) {
    ...CommentPage
  }
}
` + commentPageFragment

	AddCommentMutation = `mutation addComment($articleId: ID!, $content: String!) {
  addComment(articleId: $articleId, content: $content) {
    id
    content
  }
}`

	RemoveCommentMutation = `mutation removeComment($id: ID!) {
  removeComment(id: $id)
}`

	commentPageFragment = `fragment CommentPage on CommentConnection {
  count
  pageInfo {
    startCursor
    hasPreviousPage
  }
  edges {
    cursor
    node {
      id
      content
    }
  }
}`
)

// Article is an article as returned by the API.
type Article struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Comments *CommentPage `json:"comments,omitempty"`
}

// Comment is a comment as returned by the API.
type Comment struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PageInfo describes the boundaries of a comment page.
type PageInfo struct {
	StartCursor     *string `json:"startCursor"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
}

// CommentEdge is one comment of a page.
type CommentEdge struct {
	Cursor string  `json:"cursor"`
	Node   Comment `json:"node"`
}

// CommentPage is a window of an article's comments, newest first.
type CommentPage struct {
	Count    int           `json:"count"`
	PageInfo PageInfo      `json:"pageInfo"`
	Edges    []CommentEdge `json:"edges"`
}

// Comments returns the comments of the page in order.
func (p CommentPage) Comments() []Comment {
	out := make([]Comment, len(p.Edges))
	for i, e := range p.Edges {
		out[i] = e.Node
	}
	return out
}

// DefaultPolicies returns the field policies of the articles/comments API:
// article(id) and comments(articleId, ...) are redirected to data already
// stored on the Article entity, and comment connections are validated and
// deduplicated on write.
func DefaultPolicies() *policy.Registry {
	reg := policy.New()
	merge := connection.MergePolicy()
	redirect := policy.RedirectToField(graph.TypeArticle, "articleId", "comments", "last", "before")
	reg.Register(graph.TypeQuery, "article", policy.RedirectToEntity(graph.TypeArticle, "id"))
	reg.Register(graph.TypeQuery, "comments", policy.Funcs{OnRead: redirect.Read, OnMerge: merge.Merge})
	reg.Register(graph.TypeArticle, "comments", merge)
	return reg
}

func pageSize(last int) int {
	if last <= 0 {
		return DefaultPageSize
	}
	return last
}

// Articles returns all articles.
func (c *Client) Articles(ctx context.Context) ([]Article, error) {
	res, err := c.Query(ctx, ArticlesQuery, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Articles []Article `json:"articles"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return out.Articles, nil
}

// Article returns an article with its newest last comments.
func (c *Client) Article(ctx context.Context, id string, last int) (Article, error) {
	res, err := c.Query(ctx, ArticleQuery, map[string]any{"id": id, "last": pageSize(last)})
	if err != nil {
		return Article{}, err
	}
	var out struct {
		Article Article `json:"article"`
	}
	if err := res.Decode(&out); err != nil {
		return Article{}, err
	}
	return out.Article, nil
}

// Comments returns the comment page of an article, with the older pages
// loaded by FetchMoreComments appended.
func (c *Client) Comments(ctx context.Context, articleID string, last int, opts ...QueryOption) (CommentPage, error) {
	res, err := c.Query(ctx, CommentsQuery, commentVars(articleID, last), opts...)
	if err != nil {
		return CommentPage{}, err
	}
	return decodePage(res)
}

func commentVars(articleID string, last int) map[string]any {
	return map[string]any{"articleId": articleID, "last": pageSize(last)}
}

func decodePage(res *Result) (CommentPage, error) {
	var out struct {
		Comments CommentPage `json:"comments"`
	}
	if err := res.Decode(&out); err != nil {
		return CommentPage{}, err
	}
	return out.Comments, nil
}

// FetchMoreComments loads the page older than the oldest cached comment and
// appends it to every cached copy of the article's head page. It returns the
// merged page. Without an older page it returns the cached one.
func (c *Client) FetchMoreComments(ctx context.Context, articleID string, last int) (CommentPage, error) {
	page, err := c.Comments(ctx, articleID, last)
	if err != nil {
		return CommentPage{}, err
	}
	if !page.PageInfo.HasPreviousPage || page.PageInfo.StartCursor == nil {
		return page, nil
	}
	before := *page.PageInfo.StartCursor
	vars := commentVars(articleID, last)
	_, err = c.FetchMore(ctx, CommentsQuery, vars, map[string]any{"before": before},
		appendOlderComments(articleID, pageSize(last), before))
	if err != nil {
		return CommentPage{}, err
	}
	return c.Comments(ctx, articleID, last, WithFetchPolicy(CacheOnly))
}

// AddComment creates a comment and inserts it at the head of every cached
// head page of the article.
func (c *Client) AddComment(ctx context.Context, articleID, content string) (Comment, error) {
	res, err := c.Mutate(ctx, AddCommentMutation, map[string]any{"articleId": articleID, "content": content},
		insertComment(articleID))
	if res == nil {
		return Comment{}, err
	}
	var out struct {
		AddComment Comment `json:"addComment"`
	}
	if derr := res.Decode(&out); derr != nil {
		return Comment{}, derr
	}
	return out.AddComment, err
}

// RemoveComment deletes a comment and removes it from every cached page of
// the article.
func (c *Client) RemoveComment(ctx context.Context, articleID, id string) error {
	_, err := c.Mutate(ctx, RemoveCommentMutation, map[string]any{"id": id}, removeComment(articleID))
	return err
}

// argsMatch selects the stored variants of a connection field.
type argsMatch func(args map[string]any) bool

func argEquals(args map[string]any, name string, want any) bool {
	return value.ArgsKey(map[string]any{name: args[name]}) == value.ArgsKey(map[string]any{name: want})
}

// window matches the variants of articleID's comments. An empty articleID
// matches nested Article.comments variants; last <= 0 matches any size;
// head restricts the match to windows without a before cursor.
func window(articleID string, last int, head bool) argsMatch {
	return func(args map[string]any) bool {
		if articleID != "" && !argEquals(args, "articleId", articleID) {
			return false
		}
		if last > 0 && !argEquals(args, "last", last) {
			return false
		}
		if _, paged := args["before"]; head && paged {
			return false
		}
		return true
	}
}

func where(match argsMatch, fn store.ModifierFunc) store.ModifierFunc {
	return func(args map[string]any, current value.Value) (value.Value, error) {
		if !match(args) {
			return current, nil
		}
		return fn(args, current)
	}
}

// modifyComments applies fn to the root comments(articleId, ...) variants
// and to the Article.comments variants of the article selected by the
// matches.
func modifyComments(tx *store.Tx, articleID string, root, nested argsMatch, fn store.ModifierFunc) error {
	if _, err := tx.Modify(store.RootRef(graph.TypeQuery), "comments", where(root, fn)); err != nil {
		return err
	}
	article := value.Reference{Typename: graph.TypeArticle, ID: articleID}
	if _, err := tx.Modify(article, "comments", where(nested, fn)); err != nil {
		return err
	}
	return nil
}

// insertComment writes the created comment and prepends it to the head
// windows of both locations. Older windows never receive new comments.
func insertComment(articleID string) UpdateFunc {
	return func(tx *store.Tx, data value.Object) error {
		v, _ := data.Get("addComment")
		obj, ok := value.AsObject(v)
		if !ok {
			return gqlcache.NewMalformedError(graph.TypeMutation, "addComment")
		}
		ref, err := tx.Write(obj)
		if err != nil {
			return err
		}
		insert := connection.Modifier(func(c connection.Connection) connection.Connection {
			return connection.InsertNewItem(c, ref)
		})
		return modifyComments(tx, articleID, window(articleID, 0, true), window("", 0, true), insert)
	}
}

// removeComment drops the deleted comment from every window of both
// locations. The Comment record itself stays in the store.
func removeComment(articleID string) UpdateFunc {
	return func(tx *store.Tx, data value.Object) error {
		v, _ := data.Get("removeComment")
		id, _ := value.AsString(v)
		if _, err := store.Identify(graph.TypeComment, id); err != nil {
			return err
		}
		ref := value.Reference{Typename: graph.TypeComment, ID: id}
		remove := connection.Modifier(func(c connection.Connection) connection.Connection {
			return connection.DeleteItem(c, ref)
		})
		return modifyComments(tx, articleID, window(articleID, 0, false), window("", 0, false), remove)
	}
}

// appendOlderComments appends the fetched page older than before to the
// head windows of size last. The page must continue where the cached head
// window ends; otherwise another fetch already moved it and the response is
// stale.
func appendOlderComments(articleID string, last int, before string) UpdateFunc {
	return func(tx *store.Tx, _ value.Object) error {
		root := store.RootRef(graph.TypeQuery)
		pv, ok := tx.Read(root, "comments", map[string]any{"articleId": articleID, "last": last, "before": before})
		if !ok {
			return gqlcache.NewMalformedError(graph.TypeQuery, "comments")
		}
		page, err := connection.Decode(pv)
		if err != nil {
			return err
		}

		article := value.Reference{Typename: graph.TypeArticle, ID: articleID}
		heads := []struct {
			ref  value.Reference
			args map[string]any
		}{
			{root, map[string]any{"articleId": articleID, "last": last}},
			{article, map[string]any{"last": last}},
		}
		for _, h := range heads {
			hv, ok := tx.Read(h.ref, "comments", h.args)
			if !ok || value.IsNull(hv) {
				continue
			}
			head, err := connection.Decode(hv)
			if err != nil {
				return err
			}
			if head.PageInfo.StartCursor == nil || *head.PageInfo.StartCursor != before {
				return gqlcache.ErrStaleResponse
			}
		}

		appendPage := connection.Modifier(func(c connection.Connection) connection.Connection {
			return connection.AppendOlderPage(c, page)
		})
		return modifyComments(tx, articleID, window(articleID, last, true), window("", last, true), appendPage)
	}
}
