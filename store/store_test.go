package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/policy"
	"github.com/syssam/gqlcache/value"
)

func comment(id, content string) value.Object {
	return value.NewObject("Comment",
		value.Field{Name: "id", Value: value.String(id)},
		value.Field{Name: "content", Value: value.String(content)},
	)
}

// =============================================================================
// Identify Tests
// =============================================================================

func TestIdentify(t *testing.T) {
	t.Parallel()

	key, err := Identify("Comment", "3")
	require.NoError(t, err)
	assert.Equal(t, Key("Comment:3"), key)

	key, err = Identify("Query", "")
	require.NoError(t, err)
	assert.Equal(t, RootQuery, key)

	_, err = Identify("", "3")
	assert.True(t, gqlcache.IsCacheIntegrity(err))

	_, err = Identify("Comment", "")
	assert.True(t, gqlcache.IsCacheIntegrity(err))

	// Distinct identities never collide.
	a, _ := Identify("Article", "1")
	c, _ := Identify("Comment", "1")
	assert.NotEqual(t, a, c)
}

// =============================================================================
// Write / Read Tests
// =============================================================================

func TestWriteMergesIntoOneRecord(t *testing.T) {
	t.Parallel()
	s := New()

	ref, err := s.Write(comment("1", "A"))
	require.NoError(t, err)
	assert.Equal(t, value.Reference{Typename: "Comment", ID: "1"}, ref)

	_, err = s.Write(value.NewObject("Comment",
		value.Field{Name: "id", Value: value.String("1")},
		value.Field{Name: "likes", Value: value.Int(2)},
	))
	require.NoError(t, err)
	_, err = s.Write(comment("1", "A2"))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())
	content, ok := s.Read(ref, "content", nil)
	require.True(t, ok)
	assert.Equal(t, value.String("A2"), content, "last write wins")
	likes, ok := s.Read(ref, "likes", nil)
	require.True(t, ok)
	assert.Equal(t, value.Int(2), likes, "untouched fields survive")
}

func TestWriteWithoutIdentity(t *testing.T) {
	t.Parallel()
	s := New()

	_, err := s.Write(value.NewObject("Comment", value.Field{Name: "content", Value: value.String("A")}))
	assert.True(t, gqlcache.IsCacheIntegrity(err))

	_, err = s.Write(value.NewObject("", value.Field{Name: "id", Value: value.String("1")}))
	assert.True(t, gqlcache.IsCacheIntegrity(err))

	_, err = s.Write(value.NewObject("Comment", value.Field{Name: "id", Value: value.Bool(true)}))
	assert.True(t, gqlcache.IsCacheIntegrity(err))

	assert.Equal(t, 0, s.Len())
}

func TestWriteTypenameField(t *testing.T) {
	t.Parallel()
	s := New()

	obj := value.NewObject("",
		value.Field{Name: "__typename", Value: value.String("Article")},
		value.Field{Name: "id", Value: value.String("1")},
	)
	ref, err := s.Write(obj)
	require.NoError(t, err)
	assert.Equal(t, "Article", ref.Typename)

	_, ok := s.Read(ref, "__typename", nil)
	assert.False(t, ok, "typename is part of the identity, not a stored field")
}

func TestWriteNormalizesNestedEntities(t *testing.T) {
	t.Parallel()
	s := New()

	args := map[string]any{"last": 3}
	conn := value.NewObject("CommentConnection",
		value.Field{Name: "count", Value: value.Int(1)},
		value.Field{Name: "edges", Value: value.List{
			value.NewObject("CommentEdge",
				value.Field{Name: "cursor", Value: value.String("1")},
				value.Field{Name: "node", Value: comment("1", "A")},
			),
		}},
	)
	article := value.NewObject("Article",
		value.Field{Name: "id", Value: value.String("1")},
		value.Field{Name: "comments", Args: args, Value: conn},
	)
	root := value.NewObject("Query",
		value.Field{Name: "article", Args: map[string]any{"id": "1"}, Value: article},
	)

	rootRef, err := s.Write(root)
	require.NoError(t, err)
	assert.Equal(t, RootRef("Query"), rootRef)

	got, ok := s.Read(rootRef, "article", map[string]any{"id": "1"})
	require.True(t, ok)
	articleRef, ok := value.AsReference(got)
	require.True(t, ok, "nested entity is stored as a reference")

	stored, ok := s.Read(articleRef, "comments", map[string]any{"last": int64(3), "before": nil})
	require.True(t, ok)
	obj, ok := value.AsObject(stored)
	require.True(t, ok, "connections have no identity and stay embedded")

	edges, _ := obj.Get("edges")
	list, _ := value.AsList(edges)
	edge, _ := value.AsObject(list[0])
	node, _ := edge.Get("node")
	assert.Equal(t, value.Reference{Typename: "Comment", ID: "1"}, node)

	assert.ElementsMatch(t, []Key{RootQuery, "Article:1", "Comment:1"}, s.Keys())

	_, ok = s.Read(articleRef, "comments", map[string]any{"last": 3, "before": "5"})
	assert.False(t, ok, "other argument variants are distinct")
}

func TestToReference(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.Write(comment("1", "A"))
	require.NoError(t, err)

	ref, ok := s.ToReference("Comment", "1")
	assert.True(t, ok)
	assert.Equal(t, value.Reference{Typename: "Comment", ID: "1"}, ref)
	assert.True(t, s.Has(ref))

	_, ok = s.ToReference("Comment", "2")
	assert.False(t, ok)
	_, ok = s.ToReference("Comment", "")
	assert.False(t, ok)

	obj, ok := s.Entity(ref)
	require.True(t, ok)
	assert.Equal(t, "Comment", obj.Typename)
	_, ok = s.Entity(value.Reference{Typename: "Comment", ID: "2"})
	assert.False(t, ok)
}

// =============================================================================
// Merge Policy Tests
// =============================================================================

func TestWriteUsesMergePolicy(t *testing.T) {
	t.Parallel()

	reg := policy.New()
	var seen []policy.MergeContext
	reg.Register("Comment", "likes", policy.Funcs{
		OnMerge: func(existing value.Value, ctx policy.MergeContext) (value.Value, error) {
			seen = append(seen, ctx)
			prev, _ := value.AsInt(existing)
			inc, _ := value.AsInt(ctx.Incoming)
			return value.Int(max(prev, inc)), nil
		},
	})
	s := New(WithPolicies(reg))
	assert.Same(t, reg, s.Policies())

	write := func(likes int64) {
		_, err := s.Write(value.NewObject("Comment",
			value.Field{Name: "id", Value: value.String("1")},
			value.Field{Name: "likes", Value: value.Int(likes)},
		))
		require.NoError(t, err)
	}
	write(5)
	write(3)

	got, _ := s.Read(value.Reference{Typename: "Comment", ID: "1"}, "likes", nil)
	assert.Equal(t, value.Int(5), got)
	require.Len(t, seen, 2)
	assert.Equal(t, "Comment", seen[0].Typename)
	assert.NotNil(t, seen[0].Helpers)
}

func TestMergeErrorAbortsWholeWrite(t *testing.T) {
	t.Parallel()

	reg := policy.New()
	reg.Register("Article", "comments", policy.Funcs{
		OnMerge: func(value.Value, policy.MergeContext) (value.Value, error) {
			return nil, gqlcache.NewMalformedError("CommentConnection", "edges")
		},
	})
	s := New(WithPolicies(reg))

	_, err := s.Write(value.NewObject("Article",
		value.Field{Name: "id", Value: value.String("1")},
		value.Field{Name: "title", Value: value.String("First")},
		value.Field{Name: "comments", Value: value.Null{}},
	))
	require.Error(t, err)
	assert.True(t, gqlcache.IsMalformed(err))
	assert.Equal(t, 0, s.Len(), "no partial record")
}

// =============================================================================
// Modify / Batch Tests
// =============================================================================

func TestModifyExposesArgs(t *testing.T) {
	t.Parallel()
	s := New()

	root := value.NewObject("Query",
		value.Field{Name: "comments", Args: map[string]any{"articleId": "1", "last": 3}, Value: value.Int(1)},
		value.Field{Name: "comments", Args: map[string]any{"articleId": "2", "last": 3}, Value: value.Int(2)},
		value.Field{Name: "articles", Value: value.Int(0)},
	)
	_, err := s.Write(root)
	require.NoError(t, err)

	var seenArgs []map[string]any
	n, err := s.Modify(RootRef("Query"), "comments", func(args map[string]any, current value.Value) (value.Value, error) {
		seenArgs = append(seenArgs, args)
		if args["articleId"] != "1" {
			return current, nil
		}
		return value.Int(10), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, seenArgs, 2)

	got, _ := s.Read(RootRef("Query"), "comments", map[string]any{"articleId": "1", "last": 3})
	assert.Equal(t, value.Int(10), got)
	got, _ = s.Read(RootRef("Query"), "comments", map[string]any{"articleId": "2", "last": 3})
	assert.Equal(t, value.Int(2), got)
}

func TestModifyMissing(t *testing.T) {
	t.Parallel()
	s := New()

	n, err := s.Modify(value.Reference{Typename: "Article", ID: "1"}, "comments", func(map[string]any, value.Value) (value.Value, error) {
		t.Fatal("modifier must not run")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Modify(value.Reference{Typename: "Article"}, "comments", nil)
	assert.True(t, gqlcache.IsCacheIntegrity(err))
}

func TestModifyNilResult(t *testing.T) {
	t.Parallel()
	s := New()
	ref, err := s.Write(comment("1", "A"))
	require.NoError(t, err)

	_, err = s.Modify(ref, "content", func(map[string]any, value.Value) (value.Value, error) {
		return nil, nil
	})
	assert.True(t, gqlcache.IsCacheIntegrity(err))
}

func TestBatchRollback(t *testing.T) {
	t.Parallel()
	s := New()
	ref, err := s.Write(comment("1", "A"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Batch(func(tx *Tx) error {
		if _, err := tx.Write(comment("2", "B")); err != nil {
			return err
		}
		if _, err := tx.Modify(ref, "content", func(map[string]any, value.Value) (value.Value, error) {
			return value.String("changed"), nil
		}); err != nil {
			return err
		}
		// The transaction sees its own writes.
		v, ok := tx.Read(ref, "content", nil)
		require.True(t, ok)
		assert.Equal(t, value.String("changed"), v)
		_, ok = tx.ToReference("Comment", "2")
		assert.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, s.Len())
	v, _ := s.Read(ref, "content", nil)
	assert.Equal(t, value.String("A"), v)
}

func TestBatchIsAtomicForReaders(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.Write(comment("1", "v0"))
	require.NoError(t, err)
	_, err = s.Write(comment("2", "v0"))
	require.NoError(t, err)

	one := value.Reference{Typename: "Comment", ID: "1"}
	two := value.Reference{Typename: "Comment", ID: "2"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			v := fmt.Sprintf("v%d", i)
			_ = s.Batch(func(tx *Tx) error {
				if _, err := tx.Write(comment("1", v)); err != nil {
					return err
				}
				_, err := tx.Write(comment("2", v))
				return err
			})
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				err := s.View(func(r Reader) error {
					a, _ := r.Read(one, "content", nil)
					b, _ := r.Read(two, "content", nil)
					if !value.Equal(a, b) {
						return fmt.Errorf("torn read: %v %v", a, b)
					}
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// Subscribe / Snapshot Tests
// =============================================================================

func TestSubscribe(t *testing.T) {
	t.Parallel()
	s := New()

	ch, cancel := s.Subscribe()
	_, err := s.Write(comment("1", "A"))
	require.NoError(t, err)

	change := <-ch
	assert.Equal(t, []Key{"Comment:1"}, change.Keys)

	// Writing identical data changes nothing and notifies nobody.
	_, err = s.Write(comment("1", "A"))
	require.NoError(t, err)
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %v", c)
	default:
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	cancel()
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	s := New()

	_, err := s.Write(value.NewObject("Query",
		value.Field{Name: "article", Args: map[string]any{"id": "1"}, Value: value.NewObject("Article",
			value.Field{Name: "id", Value: value.String("1")},
			value.Field{Name: "title", Value: value.String("First article")},
			value.Field{Name: "comments", Args: map[string]any{"last": 3}, Value: value.NewObject("CommentConnection",
				value.Field{Name: "count", Value: value.Int(5)},
				value.Field{Name: "pageInfo", Value: value.NewObject("PageInfo",
					value.Field{Name: "startCursor", Value: value.Null{}},
					value.Field{Name: "hasPreviousPage", Value: value.Bool(false)},
				)},
				value.Field{Name: "edges", Value: value.List{}},
			)},
		)},
	))
	require.NoError(t, err)

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := New()
	ch, cancel := restored.Subscribe()
	defer cancel()
	require.NoError(t, restored.Restore(data))
	<-ch

	require.Equal(t, s.Keys(), restored.Keys())
	for _, key := range s.Keys() {
		var ref value.Reference
		switch key {
		case RootQuery:
			ref = RootRef("Query")
		default:
			ref = value.Reference{Typename: "Article", ID: "1"}
		}
		want, _ := s.Entity(ref)
		got, _ := restored.Entity(ref)
		assert.True(t, value.Equal(want, got), "record %s", key)
	}

	assert.Error(t, restored.Restore([]byte("not msgpack")))
}

func TestPersistLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := gqlcache.NewMemoryCache()
	key := gqlcache.CacheKey{Namespace: "store", Session: "s1"}

	s := New()
	_, err := s.Write(comment("1", "A"))
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, cache, key))

	restored := New()
	ok, err := restored.Load(ctx, cache, key)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ := restored.Read(value.Reference{Typename: "Comment", ID: "1"}, "content", nil)
	assert.Equal(t, value.String("A"), v)

	ok, err = New().Load(ctx, cache, gqlcache.CacheKey{Namespace: "store", Session: "none"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "articles", FieldKey("articles", nil))
	assert.Equal(t, `comments({"last":3})`, FieldKey("comments", map[string]any{"last": 3, "before": nil}))
}
