// Package client implements a cache-backed GraphQL client session.
//
// Responses are normalized into a store.Store owned by the session: every
// entity is kept once, keyed by typename and id, and query results are
// stored as graphs of references. Reads walk the selection set against the
// store and consult the field policies on misses, so a query can be
// answered from data fetched by a different query.
//
//	c := client.New(client.NewHTTPTransport("http://localhost:8080/query"))
//	page, err := c.Comments(ctx, "1", 3)
//	older, err := c.FetchMoreComments(ctx, "1", 3)
//
// Mutations apply their cache updates in the same store transaction as the
// write of their result. A failed update leaves the store untouched and is
// reported as a *gqlcache.MutationError.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/graph"
	"github.com/syssam/gqlcache/store"
	"github.com/syssam/gqlcache/value"
)

// PersistNamespace prefixes the cache keys of persisted sessions.
const PersistNamespace = "gqlcache"

// FetchPolicy selects where a query is answered from.
type FetchPolicy int

const (
	// CacheFirst answers from the store when every selected field is
	// present and fetches from the network otherwise.
	CacheFirst FetchPolicy = iota
	// NetworkOnly always fetches and writes the result to the store.
	NetworkOnly
	// CacheOnly never fetches. The result may be incomplete.
	CacheOnly
)

// String returns the policy name.
func (p FetchPolicy) String() string {
	switch p {
	case CacheFirst:
		return "cache-first"
	case NetworkOnly:
		return "network-only"
	case CacheOnly:
		return "cache-only"
	default:
		return fmt.Sprintf("FetchPolicy(%d)", int(p))
	}
}

// Result is the data of an operation.
type Result struct {
	Data map[string]any
	// Complete reports whether every selected field was available.
	// Network results are always complete.
	Complete bool
	// FromCache reports whether the data was read from the store.
	FromCache bool
	// Missing lists the response paths a cache read could not resolve.
	Missing []string
}

// Decode stores the result data in the value pointed to by v.
func (r *Result) Decode(v any) error {
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("client: encode result: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("client: decode result: %w", err)
	}
	return nil
}

// UpdateFunc applies the result of an operation to the store. data is the
// operation's root object as received, before normalization. It runs inside
// the transaction that wrote the result.
type UpdateFunc func(tx *store.Tx, data value.Object) error

// Client is a GraphQL client session. It is safe for concurrent use.
type Client struct {
	transport Transport
	store     *store.Store
	logger    *slog.Logger
	cache     gqlcache.Cache
	session   string

	group singleflight.Group

	docsMu sync.Mutex
	docs   map[string]*document

	seqMu sync.Mutex
	seq   map[string]uint64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithStore sets the store. The default is a new store using DefaultPolicies.
func WithStore(s *store.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithPersistence sets the cache Persist and Restore use.
func WithPersistence(cache gqlcache.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithSessionID sets the session id. The default is a random UUID.
func WithSessionID(id string) Option {
	return func(c *Client) {
		c.session = id
	}
}

// New returns a client session sending operations through t.
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		logger:    slog.Default(),
		docs:      make(map[string]*document),
		seq:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.New(store.WithPolicies(DefaultPolicies()), store.WithLogger(c.logger))
	}
	if c.session == "" {
		c.session = uuid.NewString()
	}
	return c
}

// Store returns the session's store.
func (c *Client) Store() *store.Store {
	return c.store
}

// SessionID returns the session id.
func (c *Client) SessionID() string {
	return c.session
}

func (c *Client) prepare(query string) (*document, error) {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	if d, ok := c.docs[query]; ok {
		return d, nil
	}
	d, err := parseDocument(query)
	if err != nil {
		return nil, err
	}
	c.docs[query] = d
	return d, nil
}

func (c *Client) operation(query string, vars map[string]any, root string) (*document, map[string]any, error) {
	d, err := c.prepare(query)
	if err != nil {
		return nil, nil, err
	}
	if d.root() != root {
		return nil, nil, fmt.Errorf("client: %s is not a %s operation", d.name(), root)
	}
	vars, err = d.variables(vars)
	if err != nil {
		return nil, nil, err
	}
	return d, vars, nil
}

// QueryOption configures a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	policy FetchPolicy
}

// WithFetchPolicy sets the fetch policy. The default is CacheFirst.
func WithFetchPolicy(p FetchPolicy) QueryOption {
	return func(o *queryOptions) {
		o.policy = p
	}
}

// Query runs a query operation.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, opts ...QueryOption) (*Result, error) {
	o := queryOptions{policy: CacheFirst}
	for _, opt := range opts {
		opt(&o)
	}
	d, vars, err := c.operation(query, vars, graph.TypeQuery)
	if err != nil {
		return nil, err
	}
	if o.policy != NetworkOnly {
		res, err := c.read(d, vars)
		if err != nil {
			return nil, err
		}
		if res.Complete || o.policy == CacheOnly {
			c.logger.DebugContext(ctx, "cache read", "operation", d.name(), "complete", res.Complete)
			return res, nil
		}
		c.logger.DebugContext(ctx, "cache miss", "operation", d.name(), "missing", res.Missing)
	}

	key := d.text + "\x00" + value.ArgsKey(vars)
	v, err, shared := c.group.Do(key, func() (any, error) {
		data, obj, err := c.exchange(ctx, d, vars)
		if err != nil {
			return nil, err
		}
		if err := c.store.Batch(func(tx *store.Tx) error {
			_, err := tx.Write(obj)
			return err
		}); err != nil {
			return nil, gqlcache.NewQueryError(d.name(), err)
		}
		return &Result{Data: data, Complete: true}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.DebugContext(ctx, "shared in-flight query", "operation", d.name())
	}
	return v.(*Result), nil
}

// Read answers a query from the store only.
func (c *Client) Read(query string, vars map[string]any) (*Result, error) {
	d, vars, err := c.operation(query, vars, graph.TypeQuery)
	if err != nil {
		return nil, err
	}
	return c.read(d, vars)
}

func (c *Client) read(d *document, vars map[string]any) (*Result, error) {
	var res *Result
	err := c.store.View(func(r store.Reader) error {
		rd := &cacheReader{r: r, policies: c.store.Policies(), vars: vars}
		root := d.root()
		data := rd.selection(d.op.SelectionSet, source{typename: root, ref: store.RootRef(root), record: true}, "")
		res = &Result{Data: data, Complete: len(rd.missing) == 0, FromCache: true, Missing: rd.missing}
		return nil
	})
	return res, err
}

// exchange sends the operation and converts the response into the root
// object to write.
func (c *Client) exchange(ctx context.Context, d *document, vars map[string]any) (map[string]any, value.Object, error) {
	resp, err := c.transport.Do(ctx, &Request{Query: d.text, OperationName: d.name(), Variables: vars})
	if err != nil {
		return nil, value.Object{}, gqlcache.NewQueryError(d.name(), err)
	}
	if len(resp.Errors) > 0 {
		return nil, value.Object{}, gqlcache.NewQueryError(d.name(), resp.Errors)
	}
	data, err := decodeData(resp.Data)
	if err != nil {
		return nil, value.Object{}, gqlcache.NewQueryError(d.name(), err)
	}
	if data == nil {
		return nil, value.Object{}, gqlcache.NewQueryError(d.name(), errors.New("response has no data"))
	}
	obj, err := toObject(d.op.SelectionSet, d.root(), data, vars)
	if err != nil {
		return nil, value.Object{}, gqlcache.NewQueryError(d.name(), err)
	}
	return data, obj, nil
}

// Mutate runs a mutation, writes its result and applies update in the same
// transaction. When the update fails the mutation has still happened on the
// server: the result is returned with a *gqlcache.MutationError and cached
// views should be refetched.
func (c *Client) Mutate(ctx context.Context, mutation string, vars map[string]any, update UpdateFunc) (*Result, error) {
	d, vars, err := c.operation(mutation, vars, graph.TypeMutation)
	if err != nil {
		return nil, err
	}
	data, obj, err := c.exchange(ctx, d, vars)
	if err != nil {
		return nil, err
	}
	res := &Result{Data: data, Complete: true}
	err = c.store.Batch(func(tx *store.Tx) error {
		if _, err := tx.Write(obj); err != nil {
			return err
		}
		if update == nil {
			return nil
		}
		return update(tx, obj)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "mutation cache update failed", "operation", d.name(), "error", err)
		return res, gqlcache.NewMutationError(d.name(), err)
	}
	return res, nil
}

// FetchMore fetches query with more merged over vars and applies update to
// merge the result into the cached views of vars. Each call takes a new
// sequencing token for (query, vars); a response that arrives after a newer
// call for the same location was issued is discarded with
// gqlcache.ErrStaleResponse and nothing is written.
func (c *Client) FetchMore(ctx context.Context, query string, vars, more map[string]any, update UpdateFunc) (*Result, error) {
	d, base, err := c.operation(query, vars, graph.TypeQuery)
	if err != nil {
		return nil, err
	}
	location := d.text + "\x00" + value.ArgsKey(base)
	token := c.nextToken(location)

	merged := maps.Clone(vars)
	if merged == nil {
		merged = make(map[string]any, len(more))
	}
	maps.Copy(merged, more)
	merged, err = d.variables(merged)
	if err != nil {
		return nil, err
	}

	data, obj, err := c.exchange(ctx, d, merged)
	if err != nil {
		return nil, err
	}
	err = c.store.Batch(func(tx *store.Tx) error {
		if !c.current(location, token) {
			return gqlcache.ErrStaleResponse
		}
		if _, err := tx.Write(obj); err != nil {
			return err
		}
		if update == nil {
			return nil
		}
		return update(tx, obj)
	})
	if errors.Is(err, gqlcache.ErrStaleResponse) {
		c.logger.DebugContext(ctx, "stale fetch more discarded", "operation", d.name())
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("client: fetch more %s: %w", d.name(), err)
	}
	return &Result{Data: data, Complete: true}, nil
}

func (c *Client) nextToken(location string) uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq[location]++
	return c.seq[location]
}

func (c *Client) current(location string, token uint64) bool {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.seq[location] == token
}

// Watch reads query from the store now and after every store change that
// alters its result. The channel is closed when ctx is done.
func (c *Client) Watch(ctx context.Context, query string, vars map[string]any) (<-chan *Result, error) {
	d, vars, err := c.operation(query, vars, graph.TypeQuery)
	if err != nil {
		return nil, err
	}
	changes, cancel := c.store.Subscribe()
	out := make(chan *Result, 1)
	go func() {
		defer close(out)
		defer cancel()

		var last *Result
		emit := func() bool {
			res, err := c.read(d, vars)
			if err != nil {
				c.logger.WarnContext(ctx, "watch read failed", "operation", d.name(), "error", err)
				return true
			}
			if last != nil && last.Complete == res.Complete && reflect.DeepEqual(last.Data, res.Data) {
				return true
			}
			last = res
			select {
			case out <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok || !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) cacheKey() gqlcache.CacheKey {
	return gqlcache.CacheKey{Namespace: PersistNamespace, Session: c.session}
}

// Persist saves a snapshot of the store. It is a no-op without a cache.
func (c *Client) Persist(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.store.Persist(ctx, c.cache, c.cacheKey())
}

// Restore loads the snapshot saved by Persist for this session. It reports
// false when there is none.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	if c.cache == nil {
		return false, nil
	}
	return c.store.Load(ctx, c.cache, c.cacheKey())
}
