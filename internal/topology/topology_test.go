package topology

import (
	"context"
	"iter"
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4nti5/mongolocust/internal/store"
)

// fakeCatalog は固定のトポロジを返すカタログ
type fakeCatalog struct {
	collections map[string]store.CollectionEntry
	chunks      []store.ChunkDescriptor
	shards      []store.ShardDescriptor
	// ignoreFilter が true なら ShardsExcept が所有者も返す
	ignoreFilter bool
	chunkErr     error
	reads        int
}

func (f *fakeCatalog) FindCollection(_ context.Context, ns store.Namespace) (store.CollectionEntry, error) {
	f.reads++
	e, ok := f.collections[ns.String()]
	if !ok {
		return store.CollectionEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeCatalog) Chunks(_ context.Context, uuid string) iter.Seq2[store.ChunkDescriptor, error] {
	return func(yield func(store.ChunkDescriptor, error) bool) {
		if f.chunkErr != nil {
			yield(store.ChunkDescriptor{}, f.chunkErr)
			return
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (f *fakeCatalog) ShardsExcept(_ context.Context, shardID string) iter.Seq2[store.ShardDescriptor, error] {
	return func(yield func(store.ShardDescriptor, error) bool) {
		for _, s := range f.shards {
			if s.ID == shardID && !f.ignoreFilter {
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

var ns = store.Namespace{Database: "sample", Collection: "documents"}

func newCatalog(shards ...string) *fakeCatalog {
	f := &fakeCatalog{
		collections: map[string]store.CollectionEntry{
			ns.String(): {Namespace: ns.String(), UUID: "uuid-1", ShardKey: "id"},
		},
	}
	for i, s := range shards {
		f.shards = append(f.shards, store.ShardDescriptor{ID: s})
		f.chunks = append(f.chunks, store.ChunkDescriptor{ID: s + "-c", Shard: s, Min: int64(i), Max: int64(i + 1)})
	}
	return f
}

func TestPlanNeverTargetsOwner(t *testing.T) {
	f := newCatalog("shard-1", "shard-2", "shard-3")
	r := NewReader(f)
	rng := rand.New(rand.NewPCG(1, 1))

	for range 500 {
		m, err := r.Plan(context.Background(), ns, rng)
		require.NoError(t, err)
		assert.NotEqual(t, m.From, m.To)
		assert.Equal(t, m.Chunk.Shard, m.From)
	}
}

func TestPlanFiltersOwnerWhenCatalogDoesNot(t *testing.T) {
	f := newCatalog("shard-1", "shard-2")
	f.ignoreFilter = true
	r := NewReader(f)
	rng := rand.New(rand.NewPCG(5, 5))

	for range 200 {
		m, err := r.Plan(context.Background(), ns, rng)
		require.NoError(t, err)
		assert.NotEqual(t, m.From, m.To)
	}
}

func TestPlanSingleShard(t *testing.T) {
	r := NewReader(newCatalog("shard-1"))

	_, err := r.Plan(context.Background(), ns, rand.New(rand.NewPCG(1, 2)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingleShard))
	assert.True(t, errors.Is(err, ErrMisconfigured))
}

func TestPlanNoChunks(t *testing.T) {
	f := newCatalog("shard-1", "shard-2")
	f.chunks = nil

	_, err := NewReader(f).Plan(context.Background(), ns, rand.New(rand.NewPCG(1, 2)))
	assert.True(t, errors.Is(err, ErrNoChunks))
	assert.True(t, errors.Is(err, ErrMisconfigured))
}

func TestPlanUnknownCollection(t *testing.T) {
	r := NewReader(newCatalog("shard-1", "shard-2"))
	other := store.Namespace{Database: "sample", Collection: "missing"}

	_, err := r.Plan(context.Background(), other, rand.New(rand.NewPCG(1, 2)))
	assert.True(t, errors.Is(err, ErrCollectionNotFound))
}

func TestChunkReadErrorIsNotMisconfiguration(t *testing.T) {
	f := newCatalog("shard-1", "shard-2")
	f.chunkErr = errors.New("connection reset")

	_, err := NewReader(f).Plan(context.Background(), ns, rand.New(rand.NewPCG(1, 2)))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMisconfigured))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPlanRereadsCatalog(t *testing.T) {
	f := newCatalog("shard-1", "shard-2")
	r := NewReader(f)
	rng := rand.New(rand.NewPCG(1, 2))

	_, err := r.Plan(context.Background(), ns, rng)
	require.NoError(t, err)
	_, err = r.Plan(context.Background(), ns, rng)
	require.NoError(t, err)

	assert.Equal(t, 2, f.reads)
}

func TestShardsExcept(t *testing.T) {
	f := newCatalog("shard-1", "shard-2", "shard-3")
	f.ignoreFilter = true

	got, err := NewReader(f).ShardsExcept(context.Background(), "shard-2")
	require.NoError(t, err)

	want := []store.ShardDescriptor{{ID: "shard-1"}, {ID: "shard-3"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ShardsExcept mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveRequest(t *testing.T) {
	m := Move{
		Namespace: ns,
		Chunk:     store.ChunkDescriptor{ID: "c1", Shard: "shard-1", Min: int64(-5), Max: int64(5)},
		From:      "shard-1",
		To:        "shard-2",
	}

	want := store.MoveChunkRequest{Namespace: ns, Min: int64(-5), Max: int64(5), To: "shard-2"}
	if diff := cmp.Diff(want, m.Request()); diff != "" {
		t.Errorf("Request mismatch (-want +got):\n%s", diff)
	}
}
