package memstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/store"
)

// Config はインメモリクラスタの設定
type Config struct {
	Shards         int           // シャード数
	ChunksPerShard int           // シャーディング時に各シャードへ割り当てる初期チャンク数
	MoveDelay      time.Duration // moveChunk のクローン段階の所要時間
	ShardLatency   time.Duration // 各CRUD操作に加える遅延
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Shards:         3,
		ChunksPerShard: 2, // hashed シャードキーの既定値と同じ
		MoveDelay:      50 * time.Millisecond,
	}
}

// Ensure Cluster implements store.Store
var _ store.Store = (*Cluster)(nil)

type chunk struct {
	id    string
	min   int64 // 含む
	max   int64 // 含まない（最後のチャンクは MaxInt64 を含む）
	shard string
}

func (c *chunk) contains(h int64) bool {
	return h >= c.min && (h < c.max || (c.max == math.MaxInt64 && h == math.MaxInt64))
}

type collection struct {
	ns       store.Namespace
	uuid     string
	shardKey string
	chunks   []*chunk
}

// Stats はクラスタの統計情報
type Stats struct {
	Shards         []ShardStats
	Moves          uint64
	MajorityWrites uint64
}

// ShardStats はシャードごとの統計情報
type ShardStats struct {
	ID        string
	Status    string
	Documents int
	Chunks    int
}

// Cluster はハッシュシャーディングされたドキュメントストアをプロセス内で再現する
// メタデータカタログ（collections, chunks, shards）と moveChunk を持つ
type Cluster struct {
	config Config

	mu          sync.RWMutex
	shards      map[string]*Shard
	order       []string
	collections map[string]*collection

	// moveMu はストア側でも moveChunk を直列化する
	moveMu   sync.Mutex
	moveHook func(req store.MoveChunkRequest) error

	moves          atomic.Uint64
	majorityWrites atomic.Uint64
}

// New は新しいクラスタを作成する（シャードは CreateShards で追加）
func New(config Config) *Cluster {
	if config.ChunksPerShard <= 0 {
		config.ChunksPerShard = 2
	}
	return &Cluster{
		config:      config,
		shards:      make(map[string]*Shard),
		collections: make(map[string]*collection),
	}
}

// AddShard はクラスタにシャードを追加する
func (c *Cluster) AddShard(s *Shard) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.shards[s.ID()]; exists {
		return errors.Newf("shard %s already exists in cluster", s.ID())
	}
	s.SetLatency(c.config.ShardLatency)
	c.shards[s.ID()] = s
	c.order = append(c.order, s.ID())
	logger.Debug("", "Shard %s added to cluster", s.ID())
	return nil
}

// CreateShards は指定された数のシャードを作成してクラスタに追加する
func (c *Cluster) CreateShards(count int, prefix string) error {
	for i := range count {
		if err := c.AddShard(NewShard(fmt.Sprintf("%s-%d", prefix, i+1))); err != nil {
			return err
		}
	}
	logger.Info("", "Created %d shards with prefix '%s'", count, prefix)
	return nil
}

// GetShard はシャードIDでシャードを取得する
func (c *Cluster) GetShard(id string) (*Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shards[id]
	return s, ok
}

// Shards は追加順に全シャードを返す
func (c *Cluster) Shards() []*Shard {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Shard, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.shards[id])
	}
	return out
}

// StartAll は全てのシャードを起動する
func (c *Cluster) StartAll() error {
	var errs error
	for _, s := range c.Shards() {
		if s.Status() == StatusRunning {
			continue
		}
		if err := s.Start(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// StopAll は全てのシャードを停止する
func (c *Cluster) StopAll() {
	for _, s := range c.Shards() {
		if s.Status() == StatusRunning {
			_ = s.Stop()
		}
	}
}

// Close は store.Store の実装。全シャードを停止する
func (c *Cluster) Close(_ context.Context) error {
	c.StopAll()
	return nil
}

// SetMoveHook は moveChunk の直前に呼ばれるフックを設定する（障害注入用）
func (c *Cluster) SetMoveHook(hook func(req store.MoveChunkRequest) error) {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()
	c.moveHook = hook
}

// hashKey はシャードキー値をハッシュ空間へ写像する
func hashKey(id int64) int64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// splitHashSpace は int64 全体を total 個の連続範囲に等分する
func splitHashSpace(total int) [][2]int64 {
	step := math.MaxUint64 / uint64(total)
	bounds := make([][2]int64, total)
	lo := int64(math.MinInt64)
	for i := range total {
		hi := int64(math.MaxInt64)
		if i < total-1 {
			hi = int64(uint64(lo) + step)
		}
		bounds[i] = [2]int64{lo, hi}
		lo = hi
	}
	return bounds
}

// EnsureShardedCollection は store.Store の実装
// 既にシャーディング済みなら既存のコレクションを返す
func (c *Cluster) EnsureShardedCollection(ctx context.Context, ns store.Namespace, shardKey string) (store.Collection, store.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if shardKey != "id" {
		return nil, nil, errors.Newf("unsupported shard key %q (only \"id\")", shardKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.collections[ns.String()]; !exists {
		if len(c.order) == 0 {
			return nil, nil, errors.New("cannot shard a collection without shards")
		}
		coll := &collection{ns: ns, uuid: uuid.NewString(), shardKey: shardKey}
		for i, b := range splitHashSpace(len(c.order) * c.config.ChunksPerShard) {
			coll.chunks = append(coll.chunks, &chunk{
				id:    fmt.Sprintf("%s-%d", coll.uuid[:8], i),
				min:   b[0],
				max:   b[1],
				shard: c.order[i%len(c.order)],
			})
		}
		c.collections[ns.String()] = coll
		logger.Info("", "Sharded %s on {%s: hashed} with %d chunks", ns, shardKey, len(coll.chunks))
	}

	return &collectionHandle{cluster: c, ns: ns},
		&collectionHandle{cluster: c, ns: ns, secondary: true},
		nil
}

// route はIDを保持するシャードを返す。呼び出し側が c.mu を保持していること
func (c *Cluster) route(ns store.Namespace, id int64) (*Shard, error) {
	coll, ok := c.collections[ns.String()]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "collection %s", ns)
	}
	h := hashKey(id)
	for _, ch := range coll.chunks {
		if ch.contains(h) {
			return c.shards[ch.shard], nil
		}
	}
	return nil, errors.AssertionFailedf("no chunk of %s covers hashed key %d", ns, h)
}

// Catalog は store.Store の実装
func (c *Cluster) Catalog() store.Catalog {
	return (*catalogView)(c)
}

// MoveChunk は store.Store の実装
// クローン段階（MoveDelay）の間はCRUDを止めず、コミット時のみ排他する
func (c *Cluster) MoveChunk(ctx context.Context, req store.MoveChunkRequest) error {
	c.moveMu.Lock()
	defer c.moveMu.Unlock()

	if c.moveHook != nil {
		if err := c.moveHook(req); err != nil {
			return err
		}
	}

	lo, okLo := req.Min.(int64)
	hi, okHi := req.Max.(int64)
	if !okLo || !okHi {
		return errors.Newf("moveChunk bounds must be int64, got %T/%T", req.Min, req.Max)
	}

	c.mu.RLock()
	_, _, err := c.lookupMove(req.Namespace, lo, hi, req.To)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if c.config.MoveDelay > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "moveChunk aborted during clone")
		case <-time.After(c.config.MoveDelay):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch, dest, err := c.lookupMove(req.Namespace, lo, hi, req.To)
	if err != nil {
		return err
	}
	src := c.shards[ch.shard]
	docs := src.extract(req.Namespace.String(), func(id int64) bool {
		return ch.contains(hashKey(id))
	})
	if err := dest.load(req.Namespace.String(), docs); err != nil {
		// 受け取れなかった分は元のシャードへ戻す
		_ = src.load(req.Namespace.String(), docs)
		return errors.Wrapf(err, "moveChunk %s", ch.id)
	}

	logger.Debug("", "Chunk %s of %s moved %s -> %s (%d documents)", ch.id, req.Namespace, ch.shard, dest.ID(), len(docs))
	ch.shard = dest.ID()
	c.moves.Add(1)
	return nil
}

// lookupMove は移動要求を検証する。呼び出し側が c.mu を保持していること
func (c *Cluster) lookupMove(ns store.Namespace, lo, hi int64, to string) (*chunk, *Shard, error) {
	coll, ok := c.collections[ns.String()]
	if !ok {
		return nil, nil, errors.Wrapf(store.ErrNotFound, "collection %s", ns)
	}
	idx := slices.IndexFunc(coll.chunks, func(ch *chunk) bool {
		return ch.min == lo && ch.max == hi
	})
	if idx < 0 {
		return nil, nil, errors.Newf("no chunk of %s with bounds [%d, %d)", ns, lo, hi)
	}
	ch := coll.chunks[idx]

	dest, ok := c.shards[to]
	if !ok {
		return nil, nil, errors.Wrapf(store.ErrNotFound, "shard %s", to)
	}
	if ch.shard == to {
		return nil, nil, errors.Newf("chunk %s is already on shard %s", ch.id, to)
	}
	if dest.Status() != StatusRunning {
		return nil, nil, errors.Wrapf(ErrShardNotRunning, "%s", to)
	}
	return ch, dest, nil
}

// Stats は統計情報を返す
func (c *Cluster) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chunkCount := make(map[string]int)
	for _, coll := range c.collections {
		for _, ch := range coll.chunks {
			chunkCount[ch.shard]++
		}
	}

	stats := Stats{
		Moves:          c.moves.Load(),
		MajorityWrites: c.majorityWrites.Load(),
	}
	for _, id := range c.order {
		s := c.shards[id]
		docs := 0
		for ns := range c.collections {
			docs += s.Count(ns)
		}
		stats.Shards = append(stats.Shards, ShardStats{
			ID:        id,
			Status:    s.Status().String(),
			Documents: docs,
			Chunks:    chunkCount[id],
		})
	}
	return stats
}

// catalogView は store.Catalog の実装
type catalogView Cluster

func (v *catalogView) FindCollection(ctx context.Context, ns store.Namespace) (store.CollectionEntry, error) {
	if err := ctx.Err(); err != nil {
		return store.CollectionEntry{}, err
	}
	c := (*Cluster)(v)
	c.mu.RLock()
	defer c.mu.RUnlock()

	coll, ok := c.collections[ns.String()]
	if !ok {
		return store.CollectionEntry{}, store.ErrNotFound
	}
	return store.CollectionEntry{Namespace: ns.String(), UUID: coll.uuid, ShardKey: coll.shardKey}, nil
}

func (v *catalogView) Chunks(ctx context.Context, collectionUUID string) iter.Seq2[store.ChunkDescriptor, error] {
	c := (*Cluster)(v)
	return func(yield func(store.ChunkDescriptor, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(store.ChunkDescriptor{}, err)
			return
		}
		c.mu.RLock()
		var snapshot []store.ChunkDescriptor
		for _, coll := range c.collections {
			if coll.uuid != collectionUUID {
				continue
			}
			for _, ch := range coll.chunks {
				snapshot = append(snapshot, store.ChunkDescriptor{ID: ch.id, Shard: ch.shard, Min: ch.min, Max: ch.max})
			}
		}
		c.mu.RUnlock()

		for _, d := range snapshot {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func (v *catalogView) ShardsExcept(ctx context.Context, shardID string) iter.Seq2[store.ShardDescriptor, error] {
	c := (*Cluster)(v)
	return func(yield func(store.ShardDescriptor, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(store.ShardDescriptor{}, err)
			return
		}
		c.mu.RLock()
		snapshot := make([]store.ShardDescriptor, 0, len(c.order))
		for _, id := range c.order {
			if id != shardID {
				snapshot = append(snapshot, store.ShardDescriptor{ID: id, Host: c.shards[id].Host()})
			}
		}
		c.mu.RUnlock()

		for _, d := range snapshot {
			if !yield(d, nil) {
				return
			}
		}
	}
}
