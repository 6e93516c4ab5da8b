package store

import (
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/value"
)

// ModifierFunc computes the new value of one stored field variant from its
// arguments and current value. Returning the current value leaves the
// variant untouched.
type ModifierFunc func(args map[string]any, current value.Value) (value.Value, error)

// Tx is an open store transaction. It must not be used after the function
// passed to Batch returns.
type Tx struct {
	store   *Store
	staged  map[Key]*record
	changed map[Key]bool
}

var _ policy.Helpers = (*Tx)(nil)

func newTx(s *Store) *Tx {
	return &Tx{store: s, staged: make(map[Key]*record), changed: make(map[Key]bool)}
}

func (tx *Tx) lookup(key Key) (*record, bool) {
	if r, ok := tx.staged[key]; ok {
		return r, true
	}
	r, ok := tx.store.records[key]
	return r, ok
}

// mutable returns a transaction-owned copy of the record, creating it if
// it does not exist yet.
func (tx *Tx) mutable(key Key, ref value.Reference) *record {
	if r, ok := tx.staged[key]; ok {
		return r
	}
	var r *record
	if cur, ok := tx.store.records[key]; ok {
		r = cur.clone()
	} else {
		r = &record{typename: ref.Typename, id: ref.ID}
		tx.changed[key] = true
	}
	tx.staged[key] = r
	return r
}

func (tx *Tx) commit() []Key {
	keys := make([]Key, 0, len(tx.changed))
	for key := range tx.changed {
		tx.store.records[key] = tx.staged[key]
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Write merges obj into the record of its identity. Each field goes
// through the merge policy registered for (typename, field), or overwrites
// the stored value when there is none.
func (tx *Tx) Write(obj value.Object) (value.Reference, error) {
	key, ref, err := identityOf(obj)
	if err != nil {
		return value.Reference{}, err
	}
	rec := tx.mutable(key, ref)
	for _, f := range obj.Fields() {
		if f.Name == value.TypenameField {
			continue
		}
		incoming, err := tx.normalize(f.Value)
		if err != nil {
			return value.Reference{}, fmt.Errorf("store: write %s.%s: %w", ref.Typename, f.Name, err)
		}
		existing, _ := rec.get(f.Name, f.Args)
		merged, err := tx.store.policies.Merge(existing, policy.MergeContext{
			Typename: ref.Typename,
			Field:    f.Name,
			Args:     maps.Clone(f.Args),
			Incoming: incoming,
			Helpers:  tx,
		})
		if err != nil {
			return value.Reference{}, fmt.Errorf("store: merge %s.%s: %w", ref.Typename, f.Name, err)
		}
		if existing != nil && value.Equal(existing, merged) {
			continue
		}
		rec.set(f.Name, f.Args, merged)
		tx.changed[key] = true
	}
	return ref, nil
}

// normalize replaces every nested object carrying an identity with a
// reference, writing the object to its own record.
func (tx *Tx) normalize(v value.Value) (value.Value, error) {
	switch x := v.(type) {
	case value.Object:
		if hasIdentity(x) {
			return tx.Write(x)
		}
		fields := x.Fields()
		for i := range fields {
			nv, err := tx.normalize(fields[i].Value)
			if err != nil {
				return nil, err
			}
			fields[i].Value = nv
		}
		return value.NewObject(x.Typename, fields...), nil
	case value.List:
		out := make(value.List, len(x))
		for i, item := range x {
			nv, err := tx.normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// Modify applies fn to every stored variant of ref.field and returns how
// many variants changed. A missing record or field is not an error: there
// is nothing to modify.
func (tx *Tx) Modify(ref value.Reference, field string, fn ModifierFunc) (int, error) {
	key, err := Identify(ref.Typename, ref.ID)
	if err != nil {
		return 0, err
	}
	rec, ok := tx.lookup(key)
	if !ok {
		return 0, nil
	}
	n := 0
	for i, e := range rec.entries {
		if e.name != field {
			continue
		}
		next, err := fn(maps.Clone(e.args), e.value)
		if err != nil {
			return 0, fmt.Errorf("store: modify %s.%s: %w", ref.Typename, FieldKey(e.name, e.args), err)
		}
		if next == nil {
			return 0, gqlcache.NewCacheIntegrityError("modify", string(key), fmt.Sprintf("modifier returned no value for %s", field))
		}
		if value.Equal(next, e.value) {
			continue
		}
		m := tx.mutable(key, ref)
		m.entries[i].value = next
		tx.changed[key] = true
		n++
	}
	return n, nil
}

// Read returns the value of ref.field for args as seen by the transaction.
func (tx *Tx) Read(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	key, err := Identify(ref.Typename, ref.ID)
	if err != nil {
		return nil, false
	}
	rec, ok := tx.lookup(key)
	if !ok {
		return nil, false
	}
	return rec.get(field, args)
}

// ReadField implements policy.Helpers.
func (tx *Tx) ReadField(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	return tx.Read(ref, field, args)
}

// ToReference implements policy.Helpers.
func (tx *Tx) ToReference(typename, id string) (value.Reference, bool) {
	key, err := Identify(typename, id)
	if err != nil {
		return value.Reference{}, false
	}
	rec, ok := tx.lookup(key)
	if !ok {
		return value.Reference{}, false
	}
	return rec.ref(), true
}
