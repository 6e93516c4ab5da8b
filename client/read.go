package client

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/store"
	"github.com/syssam/gqlcache/value"
)

// cacheReader answers a selection set from the store. Fields that cannot
// be found are recorded in missing; the result is then partial.
type cacheReader struct {
	r        store.Reader
	policies *policy.Registry
	vars     map[string]any
	missing  []string
}

// source is the object a selection set is read from: a stored record or an
// object embedded in a field value.
type source struct {
	typename string
	ref      value.Reference
	obj      value.Object
	record   bool
}

func (rd *cacheReader) get(src source, name string, args map[string]any) (value.Value, bool) {
	if src.record {
		return rd.r.Read(src.ref, name, args)
	}
	for _, f := range src.obj.Fields() {
		if f.Name == name && value.ArgsEqual(f.Args, args) {
			return f.Value, true
		}
	}
	return nil, false
}

func (rd *cacheReader) selection(sel ast.SelectionSet, src source, path string) map[string]any {
	fields := collectFields(sel, src.typename, rd.vars)
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		p := f.alias
		if path != "" {
			p = path + "." + f.alias
		}
		if f.field.Name == value.TypenameField {
			out[f.alias] = src.typename
			continue
		}
		args := fieldArgs(f.field, rd.vars)
		v, ok := rd.get(src, f.field.Name, args)
		if !ok {
			v = nil
		}
		v = rd.policies.Read(v, policy.ReadContext{
			Typename: src.typename,
			Field:    f.field.Name,
			Args:     args,
			Helpers:  rd.r,
		})
		if v == nil {
			rd.missing = append(rd.missing, p)
			continue
		}
		out[f.alias] = rd.resolve(v, f, p)
	}
	return out
}

func (rd *cacheReader) resolve(v value.Value, f selectedField, path string) any {
	switch x := v.(type) {
	case value.Null:
		return nil
	case value.Scalar:
		return x.Interface()
	case value.List:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = rd.resolve(item, f, fmt.Sprintf("%s[%d]", path, i))
		}
		return out
	case value.Reference:
		if _, ok := rd.r.ToReference(x.Typename, x.ID); !ok {
			rd.missing = append(rd.missing, path)
			return nil
		}
		if len(f.selections) == 0 {
			return value.ToAny(x)
		}
		return rd.selection(f.selections, source{typename: x.Typename, ref: x, record: true}, path)
	case value.Object:
		if len(f.selections) == 0 {
			return value.ToAny(x)
		}
		typename := x.Typename
		if typename == "" {
			typename = fieldType(f.field)
		}
		return rd.selection(f.selections, source{typename: typename, obj: x}, path)
	default:
		return nil
	}
}
