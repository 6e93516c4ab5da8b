// Package connection models cursor-paginated lists (Relay connections) and
// the pure merge operations that keep cached copies of them up to date.
//
// Edges are ordered newest first. PageInfo.StartCursor is the cursor of the
// oldest edge held, the position a backward fetchMore continues from.
package connection

import (
	"fmt"
	"slices"

	"github.com/syssam/gqlcache/value"
)

// PageInfo describes the page boundaries of a connection.
type PageInfo struct {
	StartCursor     *string
	HasPreviousPage bool
}

// Edge pairs a cursor with a reference to the node.
type Edge struct {
	Cursor string
	Node   value.Reference
}

// Connection is a cursor-paginated list.
type Connection struct {
	Count    int
	PageInfo PageInfo
	Edges    []Edge
}

// Names holds the GraphQL type names of a node's connection types.
type Names struct {
	Connection string
	Edge       string
	Node       string
	PageInfo   string
}

// NamesFor returns the connection type names for a node type.
func NamesFor(node string) Names {
	return Names{
		Connection: fmt.Sprintf("%sConnection", node),
		Edge:       fmt.Sprintf("%sEdge", node),
		Node:       node,
		PageInfo:   "PageInfo",
	}
}

// Cursor returns a pointer to cursor, for PageInfo.StartCursor.
func Cursor(cursor string) *string {
	return &cursor
}

// Clone returns a deep copy of c.
func (c Connection) Clone() Connection {
	out := c
	out.Edges = slices.Clone(c.Edges)
	if c.PageInfo.StartCursor != nil {
		out.PageInfo.StartCursor = Cursor(*c.PageInfo.StartCursor)
	}
	return out
}

// Index returns the position of the edge pointing at ref, or -1.
func (c Connection) Index(ref value.Reference) int {
	return slices.IndexFunc(c.Edges, func(e Edge) bool { return e.Node == ref })
}

// Contains reports whether an edge points at ref.
func (c Connection) Contains(ref value.Reference) bool {
	return c.Index(ref) >= 0
}

// Nodes returns the node references in edge order.
func (c Connection) Nodes() []value.Reference {
	nodes := make([]value.Reference, len(c.Edges))
	for i, e := range c.Edges {
		nodes[i] = e.Node
	}
	return nodes
}

// oldestCursor returns the cursor of the last edge, if any.
func (c Connection) oldestCursor() (*string, bool) {
	if len(c.Edges) == 0 {
		return nil, false
	}
	return Cursor(c.Edges[len(c.Edges)-1].Cursor), true
}
