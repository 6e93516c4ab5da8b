package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Routes.
const (
	QueryPath      = "/query"
	PlaygroundPath = "/"
)

// DefaultComplexityLimit bounds the cost of one operation.
const DefaultComplexityLimit = 5000

// HandlerOption configures NewHandler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	playground      bool
	complexityLimit int
	logger          *slog.Logger
}

// WithPlayground mounts the GraphQL playground at PlaygroundPath.
func WithPlayground(enabled bool) HandlerOption {
	return func(o *handlerOptions) {
		o.playground = enabled
	}
}

// WithComplexityLimit sets the operation complexity limit; 0 disables it.
func WithComplexityLimit(n int) HandlerOption {
	return func(o *handlerOptions) {
		o.complexityLimit = n
	}
}

// WithHandlerLogger sets the logger used for operations and panics.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		o.logger = l
	}
}

// NewHandler returns the HTTP handler serving r: GraphQL over GET and POST
// at QueryPath and, optionally, the playground.
func NewHandler(r *Resolver, opts ...HandlerOption) http.Handler {
	o := handlerOptions{complexityLimit: DefaultComplexityLimit, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	srv := handler.New(NewExecutableSchema(r))
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.SetQueryCache(lru.New[*ast.QueryDocument](1000))
	if o.complexityLimit > 0 {
		srv.Use(extension.FixedComplexityLimit(o.complexityLimit))
	}
	srv.AroundOperations(func(ctx context.Context, next graphql.OperationHandler) graphql.ResponseHandler {
		oc := graphql.GetOperationContext(ctx)
		o.logger.DebugContext(ctx, "graphql operation", "name", oc.OperationName)
		return next(ctx)
	})
	srv.SetRecoverFunc(func(ctx context.Context, err any) error {
		o.logger.ErrorContext(ctx, "resolver panic", "panic", err)
		return gqlerror.Errorf("internal system error")
	})

	mux := http.NewServeMux()
	mux.Handle(QueryPath, srv)
	if o.playground {
		mux.Handle(PlaygroundPath, playground.Handler("Comments", QueryPath))
	}
	return mux
}
