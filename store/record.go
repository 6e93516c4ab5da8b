package store

import (
	"maps"
	"slices"

	"github.com/syssam/gqlcache/value"
)

// record is the single normalized copy of one entity.
type record struct {
	typename string
	id       string
	entries  []entry
}

// entry is one stored field variant. A field fetched with different
// arguments is stored once per canonical argument set.
type entry struct {
	name  string
	args  map[string]any
	value value.Value
}

// FieldKey returns the storage key of a field variant: the field name,
// followed by the canonical JSON of its non-null arguments in parentheses.
func FieldKey(name string, args map[string]any) string {
	k := value.ArgsKey(args)
	if k == "" {
		return name
	}
	return name + "(" + k + ")"
}

func (r *record) index(name string, args map[string]any) int {
	key := FieldKey(name, args)
	for i, e := range r.entries {
		if e.name == name && FieldKey(e.name, e.args) == key {
			return i
		}
	}
	return -1
}

func (r *record) get(name string, args map[string]any) (value.Value, bool) {
	if i := r.index(name, args); i >= 0 {
		return r.entries[i].value, true
	}
	return nil, false
}

// set must only be called on a record owned by a transaction.
func (r *record) set(name string, args map[string]any, v value.Value) {
	if i := r.index(name, args); i >= 0 {
		r.entries[i].value = v
		return
	}
	r.entries = append(r.entries, entry{name: name, args: maps.Clone(args), value: v})
}

func (r *record) clone() *record {
	return &record{typename: r.typename, id: r.id, entries: slices.Clone(r.entries)}
}

func (r *record) ref() value.Reference {
	return value.Reference{Typename: r.typename, ID: r.id}
}

// object renders the record as an Object whose fields carry their arguments.
func (r *record) object() value.Object {
	fields := make([]value.Field, 0, len(r.entries))
	for _, e := range r.entries {
		fields = append(fields, value.Field{Name: e.name, Args: maps.Clone(e.args), Value: e.value})
	}
	return value.NewObject(r.typename, fields...)
}
