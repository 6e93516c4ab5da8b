// Package pagination resolves backward cursor windows over ordered lists.
package pagination

// Edge pairs an item with its cursor.
type Edge[T any] struct {
	Cursor string
	Node   T
}

// PageInfo describes the boundaries of a resolved window.
type PageInfo struct {
	StartCursor     *string
	HasPreviousPage bool
}

// Page is one resolved window. Edges are ordered newest first and Count is
// the size of the whole list the window was cut from.
type Page[T any] struct {
	Count    int
	Edges    []Edge[T]
	PageInfo PageInfo
}

// Nodes returns the items of p in edge order.
func (p Page[T]) Nodes() []T {
	nodes := make([]T, len(p.Edges))
	for i, e := range p.Edges {
		nodes[i] = e.Node
	}
	return nodes
}

// Window returns the last items of the ascending list items that come
// strictly before the item whose id is before. A nil or unknown before
// selects the newest items.
//
// The function does not retain or modify items and is safe for concurrent use.
func Window[T any](items []T, id func(T) string, last int, before *string) Page[T] {
	page := Page[T]{Count: len(items), Edges: []Edge[T]{}}
	if last <= 0 || len(items) == 0 {
		return page
	}

	cursor := len(items)
	if before != nil {
		for i, item := range items {
			if id(item) == *before {
				cursor = i
				break
			}
		}
	}
	start := max(cursor-last, 0)
	window := items[start:cursor]

	page.Edges = make([]Edge[T], 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		page.Edges = append(page.Edges, Edge[T]{Cursor: id(window[i]), Node: window[i]})
	}
	page.PageInfo.HasPreviousPage = cursor > last
	if len(window) > 0 {
		first := id(window[0])
		page.PageInfo.StartCursor = &first
	}
	return page
}

// SizeConfig bounds the number of items a client may ask for.
type SizeConfig struct {
	Max int
}

// ClampLast limits last to cfg.Max. Non-positive values are returned as
// is; they resolve to an empty window.
func ClampLast(last int, cfg SizeConfig) int {
	if cfg.Max > 0 && last > cfg.Max {
		return cfg.Max
	}
	return last
}
