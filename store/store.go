// Package store provides the normalized entity store of a client session.
//
// Every entity is stored exactly once, keyed by its identity
// (typename:id). Query results are written as graphs of references into
// the store, so two queries that mention the same comment share one record.
//
// All mutations run as transactions: a Batch holds the write lock for its
// whole duration and publishes its changes only if it returns nil, so a
// reader observes either the state before or after it.
//
// The store never deletes an entity on its own. Removing an item from a
// list is done by modifying the lists that reference it; the entity record
// itself may stay behind.
package store

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/value"
)

// Key is the identity of a normalized record.
type Key string

// Root operation records.
const (
	RootQuery    Key = "ROOT_QUERY"
	RootMutation Key = "ROOT_MUTATION"
)

var rootKeys = map[string]Key{
	"Query":    RootQuery,
	"Mutation": RootMutation,
}

// RootRef returns the reference of the root record for an operation type.
func RootRef(typename string) value.Reference {
	return value.Reference{Typename: typename, ID: string(rootKeys[typename])}
}

// IsRootType reports whether typename is an operation root type.
func IsRootType(typename string) bool {
	_, ok := rootKeys[typename]
	return ok
}

// Identify returns the identity key of typename:id. Root operation types
// map to their fixed keys regardless of id.
func Identify(typename, id string) (Key, error) {
	if k, ok := rootKeys[typename]; ok {
		return k, nil
	}
	if typename == "" {
		return "", gqlcache.NewCacheIntegrityError("identify", id, "missing typename")
	}
	if id == "" {
		return "", gqlcache.NewCacheIntegrityError("identify", typename, "missing id")
	}
	return Key(typename + ":" + id), nil
}

// Change describes the records touched by a committed transaction.
type Change struct {
	Keys []Key
}

// Store is a normalized entity store. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	records  map[Key]*record
	policies *policy.Registry
	logger   *slog.Logger

	subsMu  sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithPolicies sets the field policy registry consulted on writes.
func WithPolicies(r *policy.Registry) Option {
	return func(s *Store) {
		s.policies = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[Key]*record),
		logger:  slog.Default(),
		subs:    make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policies returns the registry consulted by the store. It may be nil.
func (s *Store) Policies() *policy.Registry {
	return s.policies
}

// Identify returns the identity key of typename:id.
func (s *Store) Identify(typename, id string) (Key, error) {
	return Identify(typename, id)
}

// Write merges obj into the record of its identity and returns the
// reference to it. Nested objects carrying an identity are written as
// records of their own and replaced by references.
func (s *Store) Write(obj value.Object) (value.Reference, error) {
	var ref value.Reference
	err := s.Batch(func(tx *Tx) error {
		var err error
		ref, err = tx.Write(obj)
		return err
	})
	return ref, err
}

// Modify applies fn to every stored variant of ref.field.
// It returns the number of variants fn changed.
func (s *Store) Modify(ref value.Reference, field string, fn ModifierFunc) (int, error) {
	var n int
	err := s.Batch(func(tx *Tx) error {
		var err error
		n, err = tx.Modify(ref, field, fn)
		return err
	})
	return n, err
}

// Batch runs fn as one atomic transaction. If fn returns an error none of
// its writes are applied.
func (s *Store) Batch(fn func(tx *Tx) error) error {
	keys, err := s.apply(fn)
	if err != nil {
		s.logger.Debug("store transaction rolled back", "error", err)
		return err
	}
	if len(keys) > 0 {
		s.notify(Change{Keys: keys})
	}
	return nil
}

func (s *Store) apply(fn func(tx *Tx) error) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newTx(s)
	if err := fn(tx); err != nil {
		return nil, err
	}
	return tx.commit(), nil
}

// Reader reads a consistent view of the store.
type Reader interface {
	policy.Helpers
	Read(ref value.Reference, field string, args map[string]any) (value.Value, bool)
}

type view struct {
	records map[Key]*record
}

func (v view) Read(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	return readField(v.records, ref, field, args)
}

func (v view) ReadField(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	return readField(v.records, ref, field, args)
}

func (v view) ToReference(typename, id string) (value.Reference, bool) {
	return toReference(v.records, typename, id)
}

// View calls fn with a reader over the current state. Transactions cannot
// commit while fn runs, so several reads made through r are consistent.
func (s *Store) View(fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{records: s.records})
}

// Read returns the stored value of ref.field for args. References held by
// the field are returned as references.
func (s *Store) Read(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readField(s.records, ref, field, args)
}

// ReadField implements policy.Helpers.
func (s *Store) ReadField(ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	return s.Read(ref, field, args)
}

// ToReference implements policy.Helpers. It reports false when no record
// exists for typename:id.
func (s *Store) ToReference(typename, id string) (value.Reference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toReference(s.records, typename, id)
}

// Has reports whether a record exists for ref.
func (s *Store) Has(ref value.Reference) bool {
	_, ok := s.ToReference(ref.Typename, ref.ID)
	return ok
}

// Entity returns the record of ref as an Object whose fields carry their
// arguments.
func (s *Store) Entity(ref value.Reference) (value.Object, bool) {
	key, err := Identify(ref.Typename, ref.ID)
	if err != nil {
		return value.Object{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return value.Object{}, false
	}
	return rec.object(), true
}

// Keys returns the keys of all records, sorted.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records))
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Subscribe returns a channel receiving a Change after every committed
// transaction, and a function that cancels the subscription. Slow
// subscribers miss intermediate changes but always see a pending one.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 1)
	s.subs[id] = ch
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) notify(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func readField(records map[Key]*record, ref value.Reference, field string, args map[string]any) (value.Value, bool) {
	key, err := Identify(ref.Typename, ref.ID)
	if err != nil {
		return nil, false
	}
	rec, ok := records[key]
	if !ok {
		return nil, false
	}
	return rec.get(field, args)
}

func toReference(records map[Key]*record, typename, id string) (value.Reference, bool) {
	key, err := Identify(typename, id)
	if err != nil {
		return value.Reference{}, false
	}
	rec, ok := records[key]
	if !ok {
		return value.Reference{}, false
	}
	return rec.ref(), true
}

func typenameOf(obj value.Object) string {
	if obj.Typename != "" {
		return obj.Typename
	}
	if v, ok := obj.Get(value.TypenameField); ok {
		if s, ok := value.AsString(v); ok {
			return s
		}
	}
	return ""
}

func identityOf(obj value.Object) (Key, value.Reference, error) {
	typename := typenameOf(obj)
	if typename == "" {
		return "", value.Reference{}, gqlcache.NewCacheIntegrityError("write", "", "missing typename")
	}
	if IsRootType(typename) {
		return rootKeys[typename], RootRef(typename), nil
	}
	idv, ok := obj.Get("id")
	if !ok {
		return "", value.Reference{}, gqlcache.NewCacheIntegrityError("write", typename, "missing id")
	}
	id, ok := value.AsString(idv)
	if !ok {
		return "", value.Reference{}, gqlcache.NewCacheIntegrityError("write", typename, fmt.Sprintf("id is %s, not an identifier", idv.Kind()))
	}
	key, err := Identify(typename, id)
	if err != nil {
		return "", value.Reference{}, err
	}
	return key, value.Reference{Typename: typename, ID: id}, nil
}

// hasIdentity reports whether obj can be normalized into its own record.
func hasIdentity(obj value.Object) bool {
	_, _, err := identityOf(obj)
	return err == nil && !IsRootType(typenameOf(obj))
}
