package dataloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/gqlcache"
)

type article struct {
	ID    string
	Title string
}

type comment struct {
	ID        string
	ArticleID string
}

func articleID(a article) string { return a.ID }

// =============================================================================
// OrderByKeys Tests
// =============================================================================

func TestOrderByKeys(t *testing.T) {
	t.Parallel()

	t.Run("all keys found", func(t *testing.T) {
		t.Parallel()
		keys := []string{"1", "2", "3"}
		values := []article{
			{ID: "3", Title: "Third article"},
			{ID: "1", Title: "First article"},
			{ID: "2", Title: "Second article"},
		}

		result, errs := OrderByKeys("article", keys, values, articleID)

		require.Len(t, result, 3)
		require.Len(t, errs, 3)
		assert.Equal(t, "First article", result[0].Title)
		assert.Equal(t, "Second article", result[1].Title)
		assert.Equal(t, "Third article", result[2].Title)
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})

	t.Run("some keys missing", func(t *testing.T) {
		t.Parallel()
		keys := []string{"1", "9"}
		values := []article{{ID: "1", Title: "First article"}}

		result, errs := OrderByKeys("article", keys, values, articleID)

		require.Len(t, result, 2)
		assert.Equal(t, "First article", result[0].Title)
		assert.Zero(t, result[1])
		assert.NoError(t, errs[0])
		assert.ErrorIs(t, errs[1], gqlcache.ErrNotFound)
		assert.Contains(t, errs[1].Error(), "article")
		assert.Contains(t, errs[1].Error(), "9")
	})

	t.Run("empty keys", func(t *testing.T) {
		t.Parallel()
		result, errs := OrderByKeys("article", nil, []article{{ID: "1"}}, articleID)
		assert.Empty(t, result)
		assert.Empty(t, errs)
	})
}

// =============================================================================
// Grouping Tests
// =============================================================================

func TestGroupByKey(t *testing.T) {
	t.Parallel()

	comments := []comment{
		{ID: "1", ArticleID: "1"},
		{ID: "6", ArticleID: "2"},
		{ID: "2", ArticleID: "1"},
	}
	grouped := GroupByKey(comments, func(c comment) string { return c.ArticleID })

	require.Len(t, grouped, 2)
	assert.Equal(t, []comment{{ID: "1", ArticleID: "1"}, {ID: "2", ArticleID: "1"}}, grouped["1"])
	assert.Equal(t, []comment{{ID: "6", ArticleID: "2"}}, grouped["2"])

	ordered := OrderGroupsByKeys([]string{"2", "3", "1"}, grouped)
	require.Len(t, ordered, 3)
	assert.Len(t, ordered[0], 1)
	assert.Nil(t, ordered[1])
	assert.Len(t, ordered[2], 2)
}

// =============================================================================
// Loader Tests
// =============================================================================

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) batch(articles ...article) BatchFunc[string, article] {
	return func(_ context.Context, ids []string) ([]article, []error) {
		r.mu.Lock()
		r.batches = append(r.batches, append([]string(nil), ids...))
		r.mu.Unlock()
		return OrderByKeys("article", ids, articles, articleID)
	}
}

func TestLoader(t *testing.T) {
	t.Parallel()

	t.Run("batches and dedupes", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		l := NewLoader(rec.batch(article{ID: "1"}, article{ID: "2"}))

		values, errs := l.LoadMany(context.Background(), []string{"1", "2", "1"})
		require.Len(t, values, 3)
		assert.Equal(t, "1", values[0].ID)
		assert.Equal(t, "2", values[1].ID)
		assert.Equal(t, "1", values[2].ID)
		assert.Equal(t, []error{nil, nil, nil}, errs)
		assert.Equal(t, [][]string{{"1", "2"}}, rec.batches)
	})

	t.Run("memoizes", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		l := NewLoader(rec.batch(article{ID: "1"}))

		_, err := l.Load(context.Background(), "1")
		require.NoError(t, err)
		_, err = l.Load(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, 1, l.Calls())

		_, err = l.Load(context.Background(), "7")
		assert.True(t, gqlcache.IsNotFound(err))
		_, err = l.Load(context.Background(), "7")
		assert.True(t, gqlcache.IsNotFound(err))
		assert.Equal(t, 2, l.Calls(), "not found results are memoized")
	})

	t.Run("batch failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		fail := true
		l := NewLoader(func(_ context.Context, ids []string) ([]article, []error) {
			if fail {
				return nil, []error{boom}
			}
			return OrderByKeys("article", ids, []article{{ID: "1"}}, articleID)
		})

		values, errs := l.LoadMany(context.Background(), []string{"1", "2"})
		require.Len(t, values, 2)
		assert.ErrorIs(t, errs[0], boom)
		assert.ErrorIs(t, errs[1], boom)

		fail = false
		got, err := l.Load(context.Background(), "1")
		require.NoError(t, err, "failures are retried")
		assert.Equal(t, "1", got.ID)
	})

	t.Run("prime and clear", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		l := NewLoader(rec.batch(article{ID: "1", Title: "loaded"}))

		PrimeMany[string](l, []article{{ID: "1", Title: "primed"}}, articleID)
		got, err := l.Load(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, "primed", got.Title)
		assert.Zero(t, l.Calls())

		ClearMany[string](l, []string{"1"})
		got, err = l.Load(context.Background(), "1")
		require.NoError(t, err)
		assert.Equal(t, "loaded", got.Title)
		assert.Equal(t, 1, l.Calls())
	})

	t.Run("concurrent", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		l := NewLoader(rec.batch(article{ID: "1"}, article{ID: "2"}))

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs := l.LoadMany(context.Background(), []string{"1", "2"})
				assert.Equal(t, []error{nil, nil}, errs)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, l.Calls())
	})
}

// =============================================================================
// Context Tests
// =============================================================================

type testLoaders struct {
	Article *Loader[string, article]
}

func TestWithLoaders(t *testing.T) {
	t.Parallel()

	loaders := &testLoaders{Article: NewLoader((&recorder{}).batch())}
	ctx := WithLoaders(context.Background(), loaders)

	retrieved := For[*testLoaders](ctx)
	require.NotNil(t, retrieved)
	assert.Same(t, loaders.Article, retrieved.Article)
}

func TestFor_NotFound(t *testing.T) {
	t.Parallel()

	retrieved := For[*testLoaders](context.Background())
	assert.Nil(t, retrieved)
}

// =============================================================================
// BatchResult Tests
// =============================================================================

func TestResults(t *testing.T) {
	t.Parallel()

	t.Run("converts values and errors", func(t *testing.T) {
		t.Parallel()
		values := []article{{ID: "1"}, {}}
		errs := []error{nil, gqlcache.ErrNotFound}

		results := Results(values, errs)

		require.Len(t, results, 2)
		assert.Equal(t, NewBatchResult(article{ID: "1"}, nil), results[0])
		assert.ErrorIs(t, results[1].Error, gqlcache.ErrNotFound)
	})

	t.Run("handles fewer errors than values", func(t *testing.T) {
		t.Parallel()
		results := Results([]article{{ID: "1"}, {ID: "2"}}, []error{nil})
		require.Len(t, results, 2)
		assert.NoError(t, results[1].Error)
	})
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkOrderByKeys(b *testing.B) {
	keys := make([]string, 100)
	values := make([]article, 100)
	for i := range 100 {
		keys[i] = string(rune('a' + i%26))
		values[i] = article{ID: keys[i]}
	}

	b.ResetTimer()
	for b.Loop() {
		OrderByKeys("article", keys, values, articleID)
	}
}
