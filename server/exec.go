package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/contrib/dataloader"
	"github.com/syssam/gqlcache/graph"
	"github.com/syssam/gqlcache/pagination"
	"github.com/syssam/gqlcache/server/repository"
)

// Error codes reported in the "code" extension.
const (
	CodeNotFound = "NOT_FOUND"
	CodeInvalid  = "BAD_USER_INPUT"
	CodeInternal = "INTERNAL"
)

// articleConcurrency bounds the articles resolved in parallel for one list.
const articleConcurrency = 4

type executableSchema struct {
	resolver *Resolver
	schema   *ast.Schema
}

// NewExecutableSchema returns the gqlgen executable schema for r.
func NewExecutableSchema(r *Resolver) graphql.ExecutableSchema {
	return &executableSchema{resolver: r, schema: graph.Schema()}
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

// Complexity charges list fields by the page size they may return.
func (e *executableSchema) Complexity(_ context.Context, typeName, field string, childComplexity int, args map[string]any) (int, bool) {
	switch typeName + "." + field {
	case "Query.comments", "Article.comments":
		last, _ := intArg(args, "last")
		last = max(pagination.ClampLast(last, e.resolver.sizes), 1)
		return 1 + last*childComplexity, true
	}
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	var root string
	switch opCtx.Operation.Operation {
	case ast.Query:
		root = graph.TypeQuery
	case ast.Mutation:
		root = graph.TypeMutation
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}

	first := true
	return func(ctx context.Context) *graphql.Response {
		if !first {
			return nil
		}
		first = false

		l := e.resolver.newLoaders()
		ctx = dataloader.WithLoaders(ctx, l)
		defer l.logBatches(ctx, e.resolver.logger)
		ec := &executionContext{OperationContext: opCtx, resolver: e.resolver}
		var (
			data graphql.Marshaler
			err  error
		)
		if root == graph.TypeQuery {
			data, err = ec.query(ctx, opCtx.Operation.SelectionSet)
		} else {
			data, err = ec.mutation(ctx, opCtx.Operation.SelectionSet)
		}
		if err != nil {
			graphql.AddError(ctx, err)
			return &graphql.Response{Data: json.RawMessage("null")}
		}
		var buf bytes.Buffer
		data.MarshalGQL(&buf)
		return &graphql.Response{Data: buf.Bytes()}
	}
}

// executionContext resolves one operation.
type executionContext struct {
	*graphql.OperationContext
	resolver *Resolver
}

func (ec *executionContext) collect(sel ast.SelectionSet, typename string) []graphql.CollectedField {
	return graphql.CollectFields(ec.OperationContext, sel, []string{typename})
}

// selects reports whether sel selects field on typename.
func (ec *executionContext) selects(sel ast.SelectionSet, typename, field string) bool {
	for _, f := range ec.collect(sel, typename) {
		if f.Name == field {
			return true
		}
	}
	return false
}

func (ec *executionContext) args(f graphql.CollectedField) map[string]any {
	return f.ArgumentMap(ec.Variables)
}

func (ec *executionContext) query(ctx context.Context, sel ast.SelectionSet) (graphql.Marshaler, error) {
	fields := ec.collect(sel, graph.TypeQuery)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		path := ast.Path{ast.PathName(f.Alias)}
		args := ec.args(f)
		var (
			v   graphql.Marshaler
			err error
		)
		switch f.Name {
		case "__typename":
			v = graphql.MarshalString(graph.TypeQuery)
		case "articles":
			var articles []repository.Article
			if articles, err = ec.resolver.Articles(ctx); err == nil {
				v, err = ec.articles(ctx, path, f.Selections, articles)
			}
		case "article":
			var a repository.Article
			id, _ := idArg(args, "id")
			if a, err = ec.resolver.Article(ctx, id); err == nil {
				v, err = ec.article(ctx, path, f.Selections, a)
			}
		case "comments":
			articleID, _ := idArg(args, "articleId")
			v, err = ec.comments(ctx, path, f, articleID)
		default:
			err = fieldError(path, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
		if err != nil {
			return nil, withPath(path, err)
		}
		out.Values[i] = v
	}
	return out, nil
}

func (ec *executionContext) mutation(ctx context.Context, sel ast.SelectionSet) (graphql.Marshaler, error) {
	fields := ec.collect(sel, graph.TypeMutation)
	out := graphql.NewFieldSet(fields)
	// Mutation fields run one after another, in document order.
	for i, f := range fields {
		path := ast.Path{ast.PathName(f.Alias)}
		args := ec.args(f)
		var (
			v   graphql.Marshaler
			err error
		)
		switch f.Name {
		case "__typename":
			v = graphql.MarshalString(graph.TypeMutation)
		case "addComment":
			articleID, _ := idArg(args, "articleId")
			content, _ := args["content"].(string)
			var c repository.Comment
			if c, err = ec.resolver.AddComment(ctx, articleID, content); err == nil {
				v, err = ec.comment(ctx, path, f.Selections, c)
			}
		case "removeComment":
			id, _ := idArg(args, "id")
			var removed string
			if removed, err = ec.resolver.RemoveComment(ctx, id); err == nil {
				v = graphql.MarshalID(removed)
			}
		default:
			err = fieldError(path, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
		if err != nil {
			return nil, withPath(path, err)
		}
		out.Values[i] = v
	}
	return out, nil
}

func (ec *executionContext) articles(ctx context.Context, path ast.Path, sel ast.SelectionSet, articles []repository.Article) (graphql.Marshaler, error) {
	// Load the comment lists of every article in one batch.
	if l := loadersFrom(ctx); l != nil && ec.selects(sel, graph.TypeArticle, "comments") && len(articles) > 0 {
		ids := make([]string, len(articles))
		for i, a := range articles {
			ids[i] = a.ID
		}
		l.Comments.LoadMany(ctx, ids)
	}
	out := make(graphql.Array, len(articles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(articleConcurrency)
	for i, a := range articles {
		g.Go(func() error {
			v, err := ec.article(gctx, append(path[:len(path):len(path)], ast.PathIndex(i)), sel, a)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ec *executionContext) article(ctx context.Context, path ast.Path, sel ast.SelectionSet, a repository.Article) (graphql.Marshaler, error) {
	fields := ec.collect(sel, graph.TypeArticle)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		switch f.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(graph.TypeArticle)
		case "id":
			out.Values[i] = graphql.MarshalID(a.ID)
		case "title":
			out.Values[i] = graphql.MarshalString(a.Title)
		case "comments":
			fpath := append(path[:len(path):len(path)], ast.PathName(f.Alias))
			v, err := ec.comments(ctx, fpath, f, a.ID)
			if err != nil {
				return nil, withPath(fpath, err)
			}
			out.Values[i] = v
		default:
			return nil, fieldError(path, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
	}
	return out, nil
}

// comments resolves a comments(last, before) field of Query or Article.
func (ec *executionContext) comments(ctx context.Context, path ast.Path, f graphql.CollectedField, articleID string) (graphql.Marshaler, error) {
	args := ec.args(f)
	last, ok := intArg(args, "last")
	if !ok {
		return nil, fieldError(path, errors.New("argument last must be an integer"), CodeInvalid)
	}
	var before *string
	if id, ok := idArg(args, "before"); ok {
		before = &id
	}
	page, err := ec.resolver.Comments(ctx, articleID, last, before)
	if err != nil {
		return nil, err
	}
	return ec.connection(ctx, path, f.Selections, page)
}

func (ec *executionContext) connection(ctx context.Context, path ast.Path, sel ast.SelectionSet, page pagination.Page[repository.Comment]) (graphql.Marshaler, error) {
	// Load the owning articles of the page in one batch.
	if l := loadersFrom(ctx); l != nil && len(page.Edges) > 0 {
		ids := make([]string, len(page.Edges))
		for i, e := range page.Edges {
			ids[i] = e.Node.ArticleID
		}
		l.Article.LoadMany(ctx, ids)
	}

	fields := ec.collect(sel, graph.TypeCommentConnection)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		fpath := append(path[:len(path):len(path)], ast.PathName(f.Alias))
		switch f.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(graph.TypeCommentConnection)
		case "count":
			out.Values[i] = graphql.MarshalInt(page.Count)
		case "pageInfo":
			out.Values[i] = ec.pageInfo(f.Selections, page.PageInfo)
		case "edges":
			edges := make(graphql.Array, len(page.Edges))
			for j, e := range page.Edges {
				v, err := ec.edge(ctx, append(fpath[:len(fpath):len(fpath)], ast.PathIndex(j)), f.Selections, e)
				if err != nil {
					return nil, err
				}
				edges[j] = v
			}
			out.Values[i] = edges
		default:
			return nil, fieldError(fpath, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
	}
	return out, nil
}

func (ec *executionContext) pageInfo(sel ast.SelectionSet, info pagination.PageInfo) graphql.Marshaler {
	fields := ec.collect(sel, graph.TypePageInfo)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		switch f.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(graph.TypePageInfo)
		case "startCursor":
			if info.StartCursor == nil {
				out.Values[i] = graphql.Null
			} else {
				out.Values[i] = graphql.MarshalID(*info.StartCursor)
			}
		case "hasPreviousPage":
			out.Values[i] = graphql.MarshalBoolean(info.HasPreviousPage)
		default:
			out.Values[i] = graphql.Null
		}
	}
	return out
}

func (ec *executionContext) edge(ctx context.Context, path ast.Path, sel ast.SelectionSet, e pagination.Edge[repository.Comment]) (graphql.Marshaler, error) {
	fields := ec.collect(sel, graph.TypeCommentEdge)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		switch f.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(graph.TypeCommentEdge)
		case "cursor":
			out.Values[i] = graphql.MarshalID(e.Cursor)
		case "node":
			v, err := ec.comment(ctx, append(path[:len(path):len(path)], ast.PathName(f.Alias)), f.Selections, e.Node)
			if err != nil {
				return nil, err
			}
			out.Values[i] = v
		default:
			return nil, fieldError(path, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
	}
	return out, nil
}

func (ec *executionContext) comment(ctx context.Context, path ast.Path, sel ast.SelectionSet, c repository.Comment) (graphql.Marshaler, error) {
	fields := ec.collect(sel, graph.TypeComment)
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		switch f.Name {
		case "__typename":
			out.Values[i] = graphql.MarshalString(graph.TypeComment)
		case "id":
			out.Values[i] = graphql.MarshalID(c.ID)
		case "content":
			out.Values[i] = graphql.MarshalString(c.Content)
		case "article":
			fpath := append(path[:len(path):len(path)], ast.PathName(f.Alias))
			a, err := ec.resolver.Article(ctx, c.ArticleID)
			if err != nil {
				return nil, withPath(fpath, err)
			}
			v, err := ec.article(ctx, fpath, f.Selections, a)
			if err != nil {
				return nil, err
			}
			out.Values[i] = v
		default:
			return nil, fieldError(path, fmt.Errorf("unsupported field %q", f.Name), CodeInvalid)
		}
	}
	return out, nil
}

// withPath turns err into a GraphQL error located at path. Errors that
// already carry a location are returned unchanged.
func withPath(path ast.Path, err error) error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return err
	}
	code := CodeInternal
	if gqlcache.IsNotFound(err) {
		code = CodeNotFound
	}
	return fieldError(path, err, code)
}

func fieldError(path ast.Path, err error, code string) *gqlerror.Error {
	return &gqlerror.Error{
		Err:        err,
		Message:    err.Error(),
		Path:       path,
		Extensions: map[string]any{"code": code},
	}
}

// idArg reads an ID argument. Integer literals are accepted.
func idArg(args map[string]any, name string) (string, bool) {
	switch v := args[name].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// intArg reads an Int argument. Literals arrive as int64 and variables as
// json.Number.
func intArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case float64:
		return int(v), v == float64(int(v))
	default:
		return 0, false
	}
}
