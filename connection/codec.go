package connection

import (
	"strings"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/value"
)

// Decode reads a normalized connection value. Every field the merge
// operations rely on must be present; anything missing or mistyped is
// reported as a MalformedError rather than silently dropped.
func Decode(v value.Value) (Connection, error) {
	obj, ok := value.AsObject(v)
	typ := "Connection"
	if ok && obj.Typename != "" {
		typ = obj.Typename
	}
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "")
	}

	var c Connection
	count, ok := field(obj, "count")
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "count")
	}
	n, ok := value.AsInt(count)
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "count")
	}
	c.Count = int(n)

	pi, ok := field(obj, "pageInfo")
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo")
	}
	pageInfo, ok := value.AsObject(pi)
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo")
	}
	sc, ok := field(pageInfo, "startCursor")
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo.startCursor")
	}
	if !value.IsNull(sc) {
		cursor, ok := value.AsString(sc)
		if !ok {
			return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo.startCursor")
		}
		c.PageInfo.StartCursor = Cursor(cursor)
	}
	hp, ok := field(pageInfo, "hasPreviousPage")
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo.hasPreviousPage")
	}
	if c.PageInfo.HasPreviousPage, ok = value.AsBool(hp); !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "pageInfo.hasPreviousPage")
	}

	ev, ok := field(obj, "edges")
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "edges")
	}
	edges, ok := value.AsList(ev)
	if !ok {
		return Connection{}, gqlcache.NewMalformedError(typ, "edges")
	}
	c.Edges = make([]Edge, 0, len(edges))
	for _, item := range edges {
		edge, err := decodeEdge(typ, item)
		if err != nil {
			return Connection{}, err
		}
		c.Edges = append(c.Edges, edge)
	}
	return c, nil
}

func decodeEdge(typ string, v value.Value) (Edge, error) {
	obj, ok := value.AsObject(v)
	if !ok {
		return Edge{}, gqlcache.NewMalformedError(typ, "edges[]")
	}
	cv, ok := field(obj, "cursor")
	if !ok {
		return Edge{}, gqlcache.NewMalformedError(typ, "edges[].cursor")
	}
	cursor, ok := value.AsString(cv)
	if !ok {
		return Edge{}, gqlcache.NewMalformedError(typ, "edges[].cursor")
	}
	nv, ok := field(obj, "node")
	if !ok {
		return Edge{}, gqlcache.NewMalformedError(typ, "edges[].node")
	}
	node, ok := value.AsReference(nv)
	if !ok || node.IsZero() {
		return Edge{}, gqlcache.NewMalformedError(typ, "edges[].node")
	}
	return Edge{Cursor: cursor, Node: node}, nil
}

func field(obj value.Object, name string) (value.Value, bool) {
	v, ok := obj.Get(name)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Encode renders c as a normalized connection value.
func Encode(c Connection, names Names) value.Object {
	return encodeInto(value.NewObject(names.Connection), c, names, nil)
}

// Apply decodes the connection held in v, transforms it with fn and writes
// the result back into v. Fields of v and of its edges that the model does
// not know about are preserved.
func Apply(v value.Value, fn func(Connection) Connection) (value.Value, error) {
	c, err := Decode(v)
	if err != nil {
		return nil, err
	}
	next := fn(c)
	obj, _ := value.AsObject(v)
	names := namesOf(obj)

	prior := make(map[value.Reference]value.Object, len(c.Edges))
	if ev, ok := obj.Get("edges"); ok {
		list, _ := value.AsList(ev)
		for _, item := range list {
			edge, _ := value.AsObject(item)
			if node, ok := edge.Get("node"); ok {
				if ref, ok := value.AsReference(node); ok {
					prior[ref] = edge
				}
			}
		}
	}
	return encodeInto(obj, next, names, prior), nil
}

func encodeInto(obj value.Object, c Connection, names Names, prior map[value.Reference]value.Object) value.Object {
	var startCursor value.Value = value.Null{}
	if c.PageInfo.StartCursor != nil {
		startCursor = value.String(*c.PageInfo.StartCursor)
	}
	pageInfo := value.NewObject(names.PageInfo)
	if pv, ok := obj.Get("pageInfo"); ok {
		if po, ok := value.AsObject(pv); ok {
			pageInfo = po
		}
	}
	pageInfo = pageInfo.
		With("startCursor", startCursor).
		With("hasPreviousPage", value.Bool(c.PageInfo.HasPreviousPage))

	edges := make(value.List, len(c.Edges))
	for i, e := range c.Edges {
		edge, ok := prior[e.Node]
		if !ok {
			edge = value.NewObject(names.Edge)
		}
		edges[i] = edge.
			With("cursor", value.String(e.Cursor)).
			With("node", e.Node)
	}

	return obj.
		With("count", value.Int(int64(c.Count))).
		With("pageInfo", pageInfo).
		With("edges", edges)
}

func namesOf(obj value.Object) Names {
	names := Names{Connection: obj.Typename, PageInfo: "PageInfo"}
	if ev, ok := obj.Get("edges"); ok {
		if list, ok := value.AsList(ev); ok {
			for _, item := range list {
				if edge, ok := value.AsObject(item); ok && edge.Typename != "" {
					names.Edge = edge.Typename
					break
				}
			}
		}
	}
	if pv, ok := obj.Get("pageInfo"); ok {
		if po, ok := value.AsObject(pv); ok && po.Typename != "" {
			names.PageInfo = po.Typename
		}
	}
	if node, ok := strings.CutSuffix(obj.Typename, "Connection"); names.Edge == "" && ok && node != "" {
		names.Edge = NamesFor(node).Edge
	}
	return names
}

// Modifier returns a store modifier that applies fn to a stored connection.
// Null values are left alone.
func Modifier(fn func(Connection) Connection) func(args map[string]any, current value.Value) (value.Value, error) {
	return func(_ map[string]any, current value.Value) (value.Value, error) {
		if value.IsNull(current) {
			return current, nil
		}
		return Apply(current, fn)
	}
}

// MergePolicy returns the merge policy for connection-typed fields. The
// incoming connection replaces the stored one after validation: malformed
// input fails the write and duplicate edges are collapsed.
func MergePolicy() policy.Policy {
	return policy.Funcs{OnMerge: func(_ value.Value, ctx policy.MergeContext) (value.Value, error) {
		if value.IsNull(ctx.Incoming) {
			return ctx.Incoming, nil
		}
		return Apply(ctx.Incoming, Dedupe)
	}}
}
