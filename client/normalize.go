package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/value"
)

// decodeData decodes the data member of a response keeping numbers exact.
func decodeData(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("client: decode data: %w", err)
	}
	return data, nil
}

// toObject converts one response object into a value.Object whose fields
// are keyed by field name and carry their canonical arguments, ready to be
// written into the store.
func toObject(sel ast.SelectionSet, typename string, data map[string]any, vars map[string]any) (value.Object, error) {
	if tn, ok := data[value.TypenameField].(string); ok && tn != "" {
		typename = tn
	}
	fields := collectFields(sel, typename, vars)
	out := make([]value.Field, 0, len(fields))
	for _, f := range fields {
		raw, ok := data[f.alias]
		if !ok {
			return value.Object{}, gqlcache.NewMalformedError(typename, f.alias)
		}
		if f.field.Name == value.TypenameField {
			out = append(out, value.Field{Name: value.TypenameField, Value: value.String(typename)})
			continue
		}
		v, err := toValue(f.selections, fieldType(f.field), raw, vars)
		if err != nil {
			return value.Object{}, fmt.Errorf("%s.%s: %w", typename, f.alias, err)
		}
		out = append(out, value.Field{Name: f.field.Name, Args: fieldArgs(f.field, vars), Value: v})
	}
	return value.NewObject(typename, out...), nil
}

func toValue(sel ast.SelectionSet, typename string, raw any, vars map[string]any) (value.Value, error) {
	switch x := raw.(type) {
	case nil:
		return value.Null{}, nil
	case []any:
		list := make(value.List, len(x))
		for i, item := range x {
			v, err := toValue(sel, typename, item, vars)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = v
		}
		return list, nil
	case map[string]any:
		if len(sel) == 0 {
			return value.FromAny(x)
		}
		return toObject(sel, typename, x, vars)
	default:
		return value.FromAny(x)
	}
}
