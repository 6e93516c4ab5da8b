// Package graph holds the GraphQL schema of the articles/comments API.
//
// The schema is embedded from schema.graphqls and parsed once with gqlparser.
// Both the server executor and the client session validate documents
// against the same *ast.Schema:
//
//	schema := graph.Schema()
//	doc, err := graph.Parse(`query { articles { id title } }`)
//
// # Types
//
// Article and Comment are entities identified by their id field. The
// CommentConnection, CommentEdge and PageInfo types describe a
// newest-first, cursor-paginated list of comments:
//
//	comments(last: Int!, before: ID): CommentConnection!
//
// first and after are accepted for compatibility and ignored.
package graph
