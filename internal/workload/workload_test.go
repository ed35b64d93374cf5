package workload

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4nti5/mongolocust/internal/catalog"
	"github.com/m4nti5/mongolocust/internal/memstore"
	"github.com/m4nti5/mongolocust/internal/migration"
	"github.com/m4nti5/mongolocust/internal/store"
	"github.com/m4nti5/mongolocust/internal/topology"
)

type fakeCollection struct {
	mu       sync.Mutex
	inserted []store.Document
	bulks    [][]store.Document
	finds    []int64
	updates  []int64
	concerns []store.WriteConcern
	err      error
}

func (f *fakeCollection) InsertOne(_ context.Context, doc store.Document, wc store.WriteConcern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, doc)
	f.concerns = append(f.concerns, wc)
	return nil
}

func (f *fakeCollection) InsertMany(_ context.Context, docs []store.Document, wc store.WriteConcern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bulks = append(f.bulks, docs)
	f.concerns = append(f.concerns, wc)
	return nil
}

func (f *fakeCollection) FindOne(_ context.Context, id int64) (store.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, id)
	return store.Document{ID: id}, true, f.err
}

func (f *fakeCollection) UpdateOne(_ context.Context, id int64, update store.Update) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := update.Set["updated"]; !ok || v != true {
		return 0, errors.New("unexpected update")
	}
	f.updates = append(f.updates, id)
	return 1, f.err
}

type emptyCatalog struct{}

func (emptyCatalog) FindCollection(context.Context, store.Namespace) (store.CollectionEntry, error) {
	return store.CollectionEntry{}, store.ErrNotFound
}

func (emptyCatalog) Chunks(context.Context, string) iter.Seq2[store.ChunkDescriptor, error] {
	return func(func(store.ChunkDescriptor, error) bool) {}
}

func (emptyCatalog) ShardsExcept(context.Context, string) iter.Seq2[store.ShardDescriptor, error] {
	return func(func(store.ShardDescriptor, error) bool) {}
}

type fakeStore struct {
	coll      *fakeCollection
	provision error
	ensured   int
	moves     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{coll: &fakeCollection{}}
}

func (s *fakeStore) EnsureShardedCollection(context.Context, store.Namespace, string) (store.Collection, store.Collection, error) {
	s.ensured++
	if s.provision != nil {
		return nil, nil, s.provision
	}
	return s.coll, s.coll, nil
}

func (s *fakeStore) MoveChunk(context.Context, store.MoveChunkRequest) error {
	s.moves++
	return nil
}

func (s *fakeStore) Catalog() store.Catalog       { return emptyCatalog{} }
func (s *fakeStore) Close(context.Context) error { return nil }

type record struct {
	op      string
	outcome Outcome
	err     error
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []record
}

func (r *fakeRecorder) Record(op string, _ time.Duration, outcome Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{op: op, outcome: outcome, err: err})
}

func (r *fakeRecorder) snapshot() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func seeded(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

func startedClient(t *testing.T, st store.Store, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := New("user-1", st, migration.New(), cfg, append([]Option{seeded(1)}, opts...)...)
	require.NoError(t, c.OnStart(context.Background()))
	return c
}

func onlyCatalog(t *testing.T, ops ...catalog.Operation) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(ops...)
	require.NoError(t, err)
	return cat
}

func newMemCluster(t *testing.T, shards int) *memstore.Cluster {
	t.Helper()
	cfg := memstore.DefaultConfig()
	cfg.MoveDelay = 0
	c := memstore.New(cfg)
	require.NoError(t, c.CreateShards(shards, "shard"))
	require.NoError(t, c.StartAll())
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestExecuteBeforeStart(t *testing.T) {
	st := newFakeStore()
	c := New("user-1", st, migration.New(), DefaultConfig(), seeded(1))

	_, err := c.Execute(context.Background(), catalog.Operation{Kind: catalog.Insert, Weight: 1})
	assert.True(t, errors.Is(err, ErrNotStarted))
	assert.True(t, IsFatal(err))
	assert.Empty(t, st.coll.inserted)
}

func TestOnStartProvisionsAndResetsCache(t *testing.T) {
	st := newFakeStore()
	c := startedClient(t, st, DefaultConfig())
	c.Cache().Record(1)

	require.NoError(t, c.OnStart(context.Background()))
	assert.Equal(t, 2, st.ensured)
	assert.Zero(t, c.Cache().Len())
	assert.NotNil(t, c.Secondary())
}

func TestOnStartWrapsProvisionError(t *testing.T) {
	st := newFakeStore()
	st.provision = errors.New("not authorized")
	c := New("user-1", st, migration.New(), DefaultConfig(), seeded(1))

	err := c.OnStart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample.documents")
	assert.Contains(t, err.Error(), "not authorized")
}

func TestFindAndUpdateSkipOnEmptyCache(t *testing.T) {
	st := newFakeStore()
	c := startedClient(t, st, DefaultConfig())
	ctx := context.Background()

	outcome, err := c.FindOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)

	outcome, err = c.UpdateOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)

	assert.Empty(t, st.coll.finds)
	assert.Empty(t, st.coll.updates)
}

func TestInsertRecordsIDAndFindUsesIt(t *testing.T) {
	st := newFakeStore()
	c := startedClient(t, st, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.InsertOne(ctx))
	require.Len(t, st.coll.inserted, 1)
	id := st.coll.inserted[0].ID
	assert.True(t, c.Cache().Contains(id))
	assert.Equal(t, []store.WriteConcern{store.Majority}, st.coll.concerns)

	outcome, err := c.FindOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)
	assert.Equal(t, []int64{id}, st.coll.finds)

	outcome, err = c.UpdateOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)
	assert.Equal(t, []int64{id}, st.coll.updates)
}

func TestFailedInsertIsNotCached(t *testing.T) {
	st := newFakeStore()
	c := startedClient(t, st, DefaultConfig())
	st.coll.err = errors.New("duplicate key")

	err := c.InsertOne(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), catalog.Insert.String())
	assert.False(t, IsFatal(err))
	assert.Zero(t, c.Cache().Len())
}

func TestInsertBulkDoesNotFeedCache(t *testing.T) {
	st := newFakeStore()
	c := startedClient(t, st, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.InsertBulk(ctx, 25))
	require.Len(t, st.coll.bulks, 1)
	assert.Len(t, st.coll.bulks[0], 25)
	assert.Equal(t, []store.WriteConcern{store.Majority}, st.coll.concerns)
	assert.Zero(t, c.Cache().Len())

	assert.Error(t, c.InsertBulk(ctx, 0))
}

func TestCacheStaysBounded(t *testing.T) {
	st := newFakeStore()
	cfg := DefaultConfig()
	cfg.CacheCapacity = 8
	c := startedClient(t, st, cfg)

	for range 50 {
		require.NoError(t, c.InsertOne(context.Background()))
	}
	assert.Equal(t, 8, c.Cache().Len())
}

func TestMigrateSkippedWhileAnotherUserHoldsLock(t *testing.T) {
	st := newFakeStore()
	coord := migration.New()
	c := New("user-2", st, coord, DefaultConfig(), seeded(1))
	require.NoError(t, c.OnStart(context.Background()))

	require.True(t, coord.TryAcquire())
	outcome, err := c.MigrateChunk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
	assert.Zero(t, st.moves)
	assert.True(t, coord.Migrating())

	coord.Release()
	assert.EqualValues(t, 1, coord.Stats().Skipped)
}

func TestMigrateWithoutShardedCollectionIsFatal(t *testing.T) {
	st := newFakeStore()
	coord := migration.New()
	c := New("user-1", st, coord, DefaultConfig(), seeded(1))
	require.NoError(t, c.OnStart(context.Background()))

	_, err := c.MigrateChunk(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, topology.ErrCollectionNotFound))
	assert.True(t, IsFatal(err))
	assert.False(t, coord.Migrating())
	assert.Zero(t, st.moves)
}

func TestMigrateOnSingleShardClusterIsFatal(t *testing.T) {
	cluster := newMemCluster(t, 1)
	c := startedClient(t, cluster, DefaultConfig())

	_, err := c.MigrateChunk(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, topology.ErrSingleShard))
	assert.True(t, IsFatal(err))
}

func TestMigrateMovesChunkToAnotherShard(t *testing.T) {
	cluster := newMemCluster(t, 3)
	coord := migration.New()
	c := New("user-1", cluster, coord, DefaultConfig(), seeded(3))
	require.NoError(t, c.OnStart(context.Background()))

	outcome, err := c.MigrateChunk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)
	assert.EqualValues(t, 1, cluster.Stats().Moves)
	assert.EqualValues(t, 1, coord.Stats().Completed)
	assert.False(t, coord.Migrating())
}

func TestTickReportsToRecorder(t *testing.T) {
	st := newFakeStore()
	rec := &fakeRecorder{}
	cfg := DefaultConfig()
	cfg.Catalog = onlyCatalog(t,
		catalog.Operation{Kind: catalog.Find, Weight: 1},
	)
	c := startedClient(t, st, cfg, WithRecorder(rec))

	op, outcome, err := c.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.Find, op.Kind)
	assert.Equal(t, Skipped, outcome)

	records := rec.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "find_document", records[0].op)
	assert.Equal(t, Skipped, records[0].outcome)
	assert.NoError(t, records[0].err)
}

func TestRunAbortsOnFatalError(t *testing.T) {
	cluster := newMemCluster(t, 1)
	rec := &fakeRecorder{}
	cfg := DefaultConfig()
	cfg.Catalog = onlyCatalog(t, catalog.Operation{Kind: catalog.Migrate, Weight: 1})
	c := New("user-1", cluster, migration.New(), cfg, seeded(1), WithRecorder(rec))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Len(t, rec.snapshot(), 1)
}

func TestRunContinuesPastStoreErrors(t *testing.T) {
	st := newFakeStore()
	st.coll.err = errors.New("network timeout")
	rec := &fakeRecorder{}
	cfg := DefaultConfig()
	cfg.Catalog = onlyCatalog(t, catalog.Operation{Kind: catalog.Insert, Weight: 1})
	c := startedClient(t, st, cfg, WithRecorder(rec))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, c.Run(ctx))
	records := rec.snapshot()
	require.Greater(t, len(records), 1)
	for _, r := range records {
		assert.Error(t, r.err)
	}
}

func TestRunAgainstMemoryCluster(t *testing.T) {
	cluster := newMemCluster(t, 3)
	coord := migration.New()
	rec := &fakeRecorder{}
	cfg := DefaultConfig()
	cfg.Catalog = catalog.Default(10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		c := New("user", cluster, coord, cfg, seeded(uint64(i+1)), WithRecorder(rec))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, r := range rec.snapshot() {
		assert.NoError(t, r.err, r.op)
		seen[r.op] = true
	}
	for _, kind := range catalog.Kinds() {
		assert.True(t, seen[kind.String()], "%s never ran", kind)
	}
	assert.False(t, coord.Migrating())
	assert.Equal(t, coord.Stats().Completed, cluster.Stats().Moves)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(errors.Wrap(topology.ErrNoChunks, "plan")))
	assert.True(t, IsFatal(errors.Wrap(catalog.ErrZeroWeight, "load")))
	assert.False(t, IsFatal(errors.New("connection reset")))
	assert.False(t, IsFatal(context.Canceled))
}
