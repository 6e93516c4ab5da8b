package connection

import (
	"github.com/syssam/gqlcache/value"
)

// InsertNewItem returns c with an edge for the newly created node ref in
// front. If an edge already points at ref, c is returned unchanged.
func InsertNewItem(c Connection, ref value.Reference) Connection {
	if c.Contains(ref) {
		return c
	}
	out := c.Clone()
	out.Edges = append([]Edge{{Cursor: ref.ID, Node: ref}}, c.Edges...)
	out.Count++
	if out.PageInfo.StartCursor == nil {
		out.PageInfo.StartCursor, _ = out.oldestCursor()
	}
	return out
}

// DeleteItem returns c without the edges pointing at ref. Deleting a node
// that is not present is a no-op. When the oldest edge goes, StartCursor
// moves to the new oldest edge; it is kept as is when no edge remains.
func DeleteItem(c Connection, ref value.Reference) Connection {
	if !c.Contains(ref) {
		return c
	}
	out := c.Clone()
	out.Edges = out.Edges[:0]
	removed := 0
	for _, e := range c.Edges {
		if e.Node == ref {
			removed++
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	out.Count = max(out.Count-removed, 0)
	if cursor, ok := out.oldestCursor(); ok {
		out.PageInfo.StartCursor = cursor
	}
	return out
}

// AppendOlderPage returns c followed by the older page p. StartCursor
// becomes the cursor of p's oldest edge and HasPreviousPage is taken from
// p as reported by the server. Edges of p already held by c are skipped,
// so merging the same page twice yields the same connection.
func AppendOlderPage(c, p Connection) Connection {
	out := c.Clone()
	for _, e := range p.Edges {
		if out.Contains(e.Node) {
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	if cursor, ok := p.oldestCursor(); ok {
		out.PageInfo.StartCursor = cursor
	}
	out.PageInfo.HasPreviousPage = p.PageInfo.HasPreviousPage
	out.Count = p.Count
	return out
}

// Dedupe returns c keeping only the first edge for each node.
func Dedupe(c Connection) Connection {
	seen := make(map[value.Reference]bool, len(c.Edges))
	dup := false
	for _, e := range c.Edges {
		if seen[e.Node] {
			dup = true
			break
		}
		seen[e.Node] = true
	}
	if !dup {
		return c
	}
	out := c.Clone()
	out.Edges = out.Edges[:0]
	clear(seen)
	for _, e := range c.Edges {
		if seen[e.Node] {
			continue
		}
		seen[e.Node] = true
		out.Edges = append(out.Edges, e)
	}
	return out
}
