// Package dataloader provides generic batch loading utilities for resolvers.
//
// A Loader collects the keys a resolver needs, loads the ones it has not
// seen yet with a single call to its BatchFunc and memoizes the results for
// the lifetime of the loader (usually one request).
//
// # Basic Usage
//
// Define a batch function over the repository:
//
//	func articleBatch(repo repository.Repository) dataloader.BatchFunc[string, repository.Article] {
//	    return func(ctx context.Context, ids []string) ([]repository.Article, []error) {
//	        articles, err := repo.ArticlesByID(ctx, ids)
//	        if err != nil {
//	            return nil, []error{err}
//	        }
//	        return dataloader.OrderByKeys("article", ids, articles, func(a repository.Article) string { return a.ID })
//	    }
//	}
//
// and attach a fresh loader to each request:
//
//	ctx = dataloader.WithLoaders(ctx, &Loaders{Article: dataloader.NewLoader(articleBatch(repo))})
//	article, err := dataloader.For[*Loaders](ctx).Article.Load(ctx, id)
package dataloader

import (
	"context"
	"sync"

	"github.com/syssam/gqlcache"
)

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads a batch of entities by their keys. The returned slices are
// aligned with keys. A single error with no values fails the whole batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// OrderByKeys reorders entities to match the order of requested keys.
// Missing entities are represented as zero values with a NotFoundError
// carrying label and the key.
func OrderByKeys[K comparable, V any](label string, keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}

	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = gqlcache.NewNotFoundErrorWithID(label, key)
		}
	}
	return result, errs
}

// GroupByKey groups entities by a key function, keeping their order.
// Useful for one-to-many relationships such as the comments of an article.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys reorders grouped entities to match the order of requested keys.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// CachePrimer primes a loader cache with known values.
type CachePrimer[K comparable, V any] interface {
	Prime(key K, value V)
}

// PrimeMany primes multiple values into a cache.
func PrimeMany[K comparable, V any](cache CachePrimer[K, V], values []V, keyFn KeyFunc[K, V]) {
	for _, v := range values {
		cache.Prime(keyFn(v), v)
	}
}

// CacheClearer clears values from a loader cache.
type CacheClearer[K comparable] interface {
	Clear(key K)
}

// ClearMany clears multiple keys from a cache.
func ClearMany[K comparable](cache CacheClearer[K], keys []K) {
	for _, key := range keys {
		cache.Clear(key)
	}
}

// BatchResult represents the result of loading one key.
type BatchResult[V any] struct {
	Value V
	Error error
}

// NewBatchResult creates a new BatchResult.
func NewBatchResult[V any](value V, err error) BatchResult[V] {
	return BatchResult[V]{Value: value, Error: err}
}

// Results converts separate value and error slices into BatchResult slice.
func Results[V any](values []V, errs []error) []BatchResult[V] {
	results := make([]BatchResult[V], len(values))
	for i := range values {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		results[i] = NewBatchResult(values[i], err)
	}
	return results
}

// Loader memoizes batch loads. It is safe for concurrent use.
type Loader[K comparable, V any] struct {
	batch BatchFunc[K, V]

	mu    sync.Mutex
	cache map[K]BatchResult[V]
	calls int
}

// NewLoader returns a loader backed by batch.
func NewLoader[K comparable, V any](batch BatchFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{batch: batch, cache: make(map[K]BatchResult[V])}
}

// Load returns the value for key, loading it if needed.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	values, errs := l.LoadMany(ctx, []K{key})
	return values[0], errs[0]
}

// LoadMany returns the values for keys in order. Keys not seen before are
// loaded with a single batch call; duplicates are loaded once.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing []K
	seen := make(map[K]bool)
	for _, key := range keys {
		if _, ok := l.cache[key]; !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		l.calls++
		values, errs := l.batch(ctx, missing)
		if len(values) == 0 && len(errs) == 1 && errs[0] != nil {
			// Batch failures are not memoized.
			out := make([]V, len(keys))
			fail := make([]error, len(keys))
			for i := range fail {
				fail[i] = errs[0]
			}
			return out, fail
		}
		for i, r := range Results(values, errs) {
			if i < len(missing) {
				l.cache[missing[i]] = r
			}
		}
	}

	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		r := l.cache[key]
		values[i], errs[i] = r.Value, r.Error
	}
	return values, errs
}

// Prime stores value for key unless key is already loaded.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; !ok {
		l.cache[key] = NewBatchResult(value, nil)
	}
}

// Clear removes key from the cache.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}

// Calls returns the number of batch calls made so far.
func (l *Loader[K, V]) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// ctxKey is the context key for storing loaders.
type ctxKey struct{}

// WithLoaders injects request-scoped loaders into the context.
func WithLoaders[T any](ctx context.Context, loaders T) context.Context {
	return context.WithValue(ctx, ctxKey{}, loaders)
}

// For extracts loaders from context.
func For[T any](ctx context.Context) T {
	v, _ := ctx.Value(ctxKey{}).(T)
	return v
}
