package graph

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Type names.
const (
	TypeQuery             = "Query"
	TypeMutation          = "Mutation"
	TypeArticle           = "Article"
	TypeComment           = "Comment"
	TypeCommentConnection = "CommentConnection"
	TypeCommentEdge       = "CommentEdge"
	TypePageInfo          = "PageInfo"
)

//go:embed schema.graphqls
var sdl string

var schema = sync.OnceValue(func() *ast.Schema {
	return gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sdl})
})

// Schema returns the parsed schema. It is shared and must not be modified.
func Schema() *ast.Schema {
	return schema()
}

// SDL returns the schema source.
func SDL() string {
	return sdl
}

// Parse parses and validates a document against the schema.
func Parse(query string) (*ast.QueryDocument, error) {
	doc, errs := gqlparser.LoadQuery(Schema(), query)
	if len(errs) > 0 {
		return nil, fmt.Errorf("graph: invalid document: %w", errs)
	}
	return doc, nil
}

// IsEntity reports whether values of the named type are normalized by id.
func IsEntity(typename string) bool {
	def := Schema().Types[typename]
	if def == nil || def.Kind != ast.Object {
		return false
	}
	return def.Fields.ForName("id") != nil
}
