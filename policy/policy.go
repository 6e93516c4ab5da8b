// Package policy provides per-(typename, field) read and merge rules that
// the normalized store consults when fields are read or written.
//
// A read policy redirects a cache miss to an equivalent value that is
// already stored somewhere else. A merge policy decides what a field holds
// after a write, given what it held before.
//
//	reg := policy.New()
//	reg.Register("Query", "article", policy.RedirectToEntity("Article", "id"))
//	reg.Register("Article", "comments", policy.Funcs{OnMerge: mergeComments})
//
// Fields without a registered policy are read as stored and overwritten on
// write.
package policy

import (
	"sync"

	"github.com/syssam/gqlcache/value"
)

// Key identifies the field a policy applies to.
type Key struct {
	Typename string
	Field    string
}

// String returns "Typename.Field".
func (k Key) String() string { return k.Typename + "." + k.Field }

// Helpers gives policies read-only access to the store.
type Helpers interface {
	// ToReference returns the reference for an entity that exists in the store.
	ToReference(typename, id string) (value.Reference, bool)
	// ReadField returns the stored value of a field of an entity.
	ReadField(ref value.Reference, field string, args map[string]any) (value.Value, bool)
}

// ReadContext is passed to read policies.
type ReadContext struct {
	Typename string
	Field    string
	Args     map[string]any
	Helpers  Helpers
}

// MergeContext is passed to merge policies.
type MergeContext struct {
	Typename string
	Field    string
	Args     map[string]any
	Incoming value.Value
	Helpers  Helpers
}

// Policy is a pair of read and merge rules for one field.
//
// Read must return existing unchanged when it has no equivalent to offer.
// Merge must be pure and return the same result when applied twice for the
// same logical operation.
type Policy interface {
	Read(existing value.Value, ctx ReadContext) value.Value
	Merge(existing value.Value, ctx MergeContext) (value.Value, error)
}

// ReadFunc is a read rule.
type ReadFunc func(existing value.Value, ctx ReadContext) value.Value

// MergeFunc is a merge rule.
type MergeFunc func(existing value.Value, ctx MergeContext) (value.Value, error)

// Funcs is an adapter which allows the use of ordinary functions as a
// Policy. Either function may be nil.
type Funcs struct {
	OnRead  ReadFunc
	OnMerge MergeFunc
}

// Read calls OnRead, or passes existing through.
func (f Funcs) Read(existing value.Value, ctx ReadContext) value.Value {
	if f.OnRead == nil {
		return existing
	}
	return f.OnRead(existing, ctx)
}

// Merge calls OnMerge, or returns the incoming value.
func (f Funcs) Merge(existing value.Value, ctx MergeContext) (value.Value, error) {
	if f.OnMerge == nil {
		return ctx.Incoming, nil
	}
	return f.OnMerge(existing, ctx)
}

// Registry maps field keys to policies. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[Key]Policy
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{policies: make(map[Key]Policy)}
}

// Register installs p for typename.field, replacing any previous policy.
func (r *Registry) Register(typename, field string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[Key{Typename: typename, Field: field}] = p
}

// Lookup returns the policy registered for typename.field.
func (r *Registry) Lookup(typename, field string) (Policy, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[Key{Typename: typename, Field: field}]
	return p, ok
}

// Read applies the read policy of ctx's field, if any.
func (r *Registry) Read(existing value.Value, ctx ReadContext) value.Value {
	p, ok := r.Lookup(ctx.Typename, ctx.Field)
	if !ok {
		return existing
	}
	return p.Read(existing, ctx)
}

// Merge applies the merge policy of ctx's field, if any. Without a policy
// the incoming value overwrites the existing one.
func (r *Registry) Merge(existing value.Value, ctx MergeContext) (value.Value, error) {
	p, ok := r.Lookup(ctx.Typename, ctx.Field)
	if !ok {
		return ctx.Incoming, nil
	}
	return p.Merge(existing, ctx)
}

// Keys returns the registered keys.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.policies))
	for k := range r.policies {
		keys = append(keys, k)
	}
	return keys
}
