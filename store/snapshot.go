package store

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/gqlcache"
	"github.com/syssam/gqlcache/value"
)

// snapshot is the serialisable representation of the store.
type snapshot struct {
	Version int              `msgpack:"v"`
	Records []snapshotRecord `msgpack:"r"`
}

type snapshotRecord struct {
	Key      string          `msgpack:"k"`
	Typename string          `msgpack:"t"`
	ID       string          `msgpack:"i"`
	Fields   []snapshotField `msgpack:"f"`
}

type snapshotField struct {
	Name  string         `msgpack:"n"`
	Args  map[string]any `msgpack:"a,omitempty"`
	Value wireValue      `msgpack:"v"`
}

type wireValue struct {
	Kind     value.Kind      `msgpack:"k"`
	Scalar   any             `msgpack:"s"`
	List     []wireValue     `msgpack:"l,omitempty"`
	Typename string          `msgpack:"t,omitempty"`
	ID       string          `msgpack:"i,omitempty"`
	Fields   []snapshotField `msgpack:"f,omitempty"`
}

const snapshotVersion = 1

// Snapshot encodes every record of the store with msgpack.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	snap := snapshot{Version: snapshotVersion}
	for _, key := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[key]
		sr := snapshotRecord{Key: string(key), Typename: rec.typename, ID: rec.id}
		for _, e := range rec.entries {
			sr.Fields = append(sr.Fields, snapshotField{Name: e.name, Args: e.args, Value: toWire(e.value)})
		}
		snap.Records = append(snap.Records, sr)
	}
	s.mu.RUnlock()

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("store: encode snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the content of the store with a snapshot produced by
// Snapshot. On error the store is left unchanged.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("store: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("store: unsupported snapshot version %d", snap.Version)
	}
	records := make(map[Key]*record, len(snap.Records))
	for _, sr := range snap.Records {
		key, err := Identify(sr.Typename, sr.ID)
		if err != nil {
			return fmt.Errorf("store: restore %q: %w", sr.Key, err)
		}
		rec := &record{typename: sr.Typename, id: sr.ID}
		for _, f := range sr.Fields {
			v, err := fromWire(f.Value)
			if err != nil {
				return fmt.Errorf("store: restore %s.%s: %w", key, f.Name, err)
			}
			rec.entries = append(rec.entries, entry{name: f.Name, args: f.Args, value: v})
		}
		records[key] = rec
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.notify(Change{Keys: slices.Sorted(maps.Keys(records))})
	return nil
}

// Persist writes a snapshot of the store to cache under key.
func (s *Store) Persist(ctx context.Context, cache gqlcache.Cache, key gqlcache.CacheKey) error {
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	return cache.Set(ctx, key.String(), data, 0)
}

// Load restores the store from the snapshot stored in cache under key.
// It reports false when there is no snapshot.
func (s *Store) Load(ctx context.Context, cache gqlcache.Cache, key gqlcache.CacheKey) (bool, error) {
	data, err := cache.Get(ctx, key.String())
	if err != nil {
		return false, fmt.Errorf("store: load snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}
	return true, s.Restore(data)
}

func toWire(v value.Value) wireValue {
	switch x := v.(type) {
	case nil, value.Null:
		return wireValue{Kind: value.KindNull}
	case value.Scalar:
		return wireValue{Kind: value.KindScalar, Scalar: x.Interface()}
	case value.List:
		w := wireValue{Kind: value.KindList, List: make([]wireValue, len(x))}
		for i, item := range x {
			w.List[i] = toWire(item)
		}
		return w
	case value.Reference:
		return wireValue{Kind: value.KindReference, Typename: x.Typename, ID: x.ID}
	case value.Object:
		w := wireValue{Kind: value.KindObject, Typename: x.Typename}
		for _, f := range x.Fields() {
			w.Fields = append(w.Fields, snapshotField{Name: f.Name, Args: f.Args, Value: toWire(f.Value)})
		}
		return w
	default:
		panic(fmt.Sprintf("store: unexpected value %T", v))
	}
}

func fromWire(w wireValue) (value.Value, error) {
	switch w.Kind {
	case value.KindNull:
		return value.Null{}, nil
	case value.KindScalar:
		s, ok := value.ScalarOf(w.Scalar)
		if !ok {
			return nil, fmt.Errorf("unsupported scalar %T", w.Scalar)
		}
		return s, nil
	case value.KindList:
		list := make(value.List, len(w.List))
		for i, item := range w.List {
			v, err := fromWire(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case value.KindReference:
		return value.Reference{Typename: w.Typename, ID: w.ID}, nil
	case value.KindObject:
		fields := make([]value.Field, 0, len(w.Fields))
		for _, f := range w.Fields {
			v, err := fromWire(f.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, value.Field{Name: f.Name, Args: f.Args, Value: v})
		}
		return value.NewObject(w.Typename, fields...), nil
	default:
		return nil, fmt.Errorf("unknown kind %d", w.Kind)
	}
}
