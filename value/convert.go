package value

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// TypenameField is the response field carrying an object's concrete type.
const TypenameField = "__typename"

// ScalarOf normalizes a Go leaf value into a Scalar. Integers of any width
// become int64, json.Number becomes int64 or float64.
func ScalarOf(x any) (Scalar, bool) {
	switch v := x.(type) {
	case string:
		return String(v), true
	case bool:
		return Bool(v), true
	case int:
		return Int(int64(v)), true
	case int8:
		return Int(int64(v)), true
	case int16:
		return Int(int64(v)), true
	case int32:
		return Int(int64(v)), true
	case int64:
		return Int(v), true
	case uint8:
		return Int(int64(v)), true
	case uint16:
		return Int(int64(v)), true
	case uint32:
		return Int(int64(v)), true
	case uint64:
		return Int(int64(v)), true
	case float32:
		return Float(float64(v)), true
	case float64:
		return Float(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), true
		}
		if f, err := v.Float64(); err == nil {
			return Float(f), true
		}
	}
	return Scalar{}, false
}

// FromAny converts a decoded JSON tree into a Value. Map keys are sorted so
// the result is deterministic; a "__typename" key also sets Object.Typename.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case []any:
		list := make(List, len(v))
		for i, item := range v {
			iv, err := FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = iv
		}
		return list, nil
	case map[string]any:
		var obj Object
		if tn, ok := v[TypenameField].(string); ok {
			obj.Typename = tn
		}
		for _, k := range slices.Sorted(maps.Keys(v)) {
			fv, err := FromAny(v[k])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			obj.fields = append(obj.fields, Field{Name: k, Value: fv})
		}
		return obj, nil
	default:
		s, ok := ScalarOf(v)
		if !ok {
			return nil, fmt.Errorf("value: unsupported type %T", x)
		}
		return s, nil
	}
}

// ToAny converts a Value back into plain Go values. References become
// {"__typename", "id"} maps.
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Scalar:
		return x.v
	case List:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ToAny(item)
		}
		return out
	case Reference:
		return map[string]any{TypenameField: x.Typename, "id": x.ID}
	case Object:
		out := make(map[string]any, len(x.fields))
		for _, f := range x.fields {
			out[f.Name] = ToAny(f.Value)
		}
		return out
	default:
		panic(fmt.Sprintf("value: unexpected %T", v))
	}
}

// Equal reports whether a and b are structurally equal. Field order of
// objects is significant; field arguments are compared too.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch x := a.(type) {
	case Scalar:
		y, ok := b.(Scalar)
		return ok && scalarEqual(x, y)
	case Reference:
		y, ok := b.(Reference)
		return ok && x == y
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || x.Typename != y.Typename || len(x.fields) != len(y.fields) {
			return false
		}
		for i := range x.fields {
			fx, fy := x.fields[i], y.fields[i]
			if fx.Name != fy.Name || !ArgsEqual(fx.Args, fy.Args) || !Equal(fx.Value, fy.Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func scalarEqual(a, b Scalar) bool {
	if ai, ok := AsInt(a); ok {
		if bi, ok := AsInt(b); ok {
			return ai == bi
		}
	}
	return a.v == b.v
}

// ArgsEqual compares two argument maps by their canonical form. Null
// arguments are treated as absent.
func ArgsEqual(a, b map[string]any) bool {
	return ArgsKey(a) == ArgsKey(b)
}

// ArgsKey returns the canonical JSON encoding of args with null entries
// dropped and keys sorted. It returns "" when no argument remains.
func ArgsKey(args map[string]any) string {
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		if s, ok := ScalarOf(v); ok {
			v = s.v
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return ""
	}
	// encoding/json sorts map keys.
	b, err := json.Marshal(clean)
	if err != nil {
		return fmt.Sprint(clean)
	}
	return string(b)
}
