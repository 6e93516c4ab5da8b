// Package value provides the closed set of shapes a GraphQL response tree
// can take once it enters the normalized cache.
//
// Every node is one of:
//
//   - Null: an explicit null.
//   - Scalar: a string, integer, float or boolean leaf.
//   - List: an ordered sequence of values.
//   - Object: an ordered set of named fields, optionally tagged with a typename.
//   - Reference: a pointer (typename + id) to an entity stored elsewhere.
//
// Merge and modify code switches on the concrete type; there is no string
// tagging, so a Reference can never be confused with an Object that happens
// to carry a "__ref" field.
package value

import (
	"fmt"
	"slices"
)

// Kind identifies the shape of a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindScalar
	KindList
	KindObject
	KindReference
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindReference:
		return "reference"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a node of a response tree. The set of implementations is closed.
type Value interface {
	Kind() Kind
	sealed()
}

type (
	// Null is the explicit null value.
	Null struct{}

	// Scalar is a leaf value. The wrapped Go value is always one of
	// string, int64, float64 or bool.
	Scalar struct{ v any }

	// List is an ordered sequence of values.
	List []Value

	// Reference points at a normalized entity by identity.
	Reference struct {
		Typename string
		ID       string
	}

	// Object is an ordered set of fields. Typename is empty for objects
	// whose type is unknown (e.g. embedded PageInfo written without __typename).
	Object struct {
		Typename string
		fields   []Field
	}

	// Field is one entry of an Object. Args holds the field arguments the
	// value was fetched with; it is nil for argument-less fields.
	Field struct {
		Name  string
		Args  map[string]any
		Value Value
	}
)

func (Null) Kind() Kind      { return KindNull }
func (Scalar) Kind() Kind    { return KindScalar }
func (List) Kind() Kind      { return KindList }
func (Reference) Kind() Kind { return KindReference }
func (Object) Kind() Kind    { return KindObject }

func (Null) sealed()      {}
func (Scalar) sealed()    {}
func (List) sealed()      {}
func (Reference) sealed() {}
func (Object) sealed()    {}

// String returns a Scalar holding s.
func String(s string) Scalar { return Scalar{v: s} }

// Int returns a Scalar holding i.
func Int(i int64) Scalar { return Scalar{v: i} }

// Float returns a Scalar holding f.
func Float(f float64) Scalar { return Scalar{v: f} }

// Bool returns a Scalar holding b.
func Bool(b bool) Scalar { return Scalar{v: b} }

// Interface returns the wrapped Go value.
func (s Scalar) Interface() any { return s.v }

// String returns a display form of the reference.
func (r Reference) String() string { return r.Typename + ":" + r.ID }

// IsZero reports whether r carries no identity.
func (r Reference) IsZero() bool { return r.Typename == "" || r.ID == "" }

// NewObject returns an object with the given typename and fields.
// The fields slice is copied.
func NewObject(typename string, fields ...Field) Object {
	return Object{Typename: typename, fields: slices.Clone(fields)}
}

// Fields returns a copy of the object's fields in order.
func (o Object) Fields() []Field {
	return slices.Clone(o.fields)
}

// Len returns the number of fields.
func (o Object) Len() int { return len(o.fields) }

// Get returns the value of the first field named name.
func (o Object) Get(name string) (Value, bool) {
	for _, f := range o.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// With returns a copy of o where the field named name holds v. An existing
// field keeps its position; a new one is appended.
func (o Object) With(name string, v Value) Object {
	fields := slices.Clone(o.fields)
	for i := range fields {
		if fields[i].Name == name {
			fields[i].Value = v
			return Object{Typename: o.Typename, fields: fields}
		}
	}
	fields = append(fields, Field{Name: name, Value: v})
	return Object{Typename: o.Typename, fields: fields}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// AsString returns the string form of a string or integer scalar.
// Integer scalars are accepted because IDs are sometimes serialized as numbers.
func AsString(v Value) (string, bool) {
	s, ok := v.(Scalar)
	if !ok {
		return "", false
	}
	switch x := s.v.(type) {
	case string:
		return x, true
	case int64:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}

// AsInt returns the integer held by an integer scalar, or by a float
// scalar with an integral value.
func AsInt(v Value) (int64, bool) {
	s, ok := v.(Scalar)
	if !ok {
		return 0, false
	}
	switch x := s.v.(type) {
	case int64:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}

// AsBool returns the boolean held by a boolean scalar.
func AsBool(v Value) (bool, bool) {
	s, ok := v.(Scalar)
	if !ok {
		return false, false
	}
	b, ok := s.v.(bool)
	return b, ok
}

// AsReference returns v as a Reference.
func AsReference(v Value) (Reference, bool) {
	r, ok := v.(Reference)
	return r, ok
}

// AsObject returns v as an Object.
func AsObject(v Value) (Object, bool) {
	o, ok := v.(Object)
	return o, ok
}

// AsList returns v as a List.
func AsList(v Value) (List, bool) {
	l, ok := v.(List)
	return l, ok
}
