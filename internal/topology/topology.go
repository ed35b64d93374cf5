// Package topology reads chunk and shard placement from the store's
// metadata catalog and plans a single chunk move.
package topology

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/m4nti5/mongolocust/internal/store"
)

var (
	// ErrMisconfigured はテスト環境が移動に対応していないことを表す（リトライしない）
	ErrMisconfigured = errors.New("cluster topology not ready for migrations")
	// ErrCollectionNotFound は対象コレクションがカタログに無い
	ErrCollectionNotFound = errors.Mark(errors.New("collection is not sharded"), ErrMisconfigured)
	// ErrNoChunks はコレクションのチャンクが1つも無い
	ErrNoChunks = errors.Mark(errors.New("collection has no chunks"), ErrMisconfigured)
	// ErrSingleShard は移動先となる別シャードが無い
	ErrSingleShard = errors.Mark(errors.New("no shard other than the chunk owner"), ErrMisconfigured)
)

// Rand は選択に使う乱数源
type Rand interface {
	IntN(n int) int
}

// Move は計画されたチャンク移動
type Move struct {
	Namespace store.Namespace
	Chunk     store.ChunkDescriptor
	From      string
	To        string
}

// Request は Move を moveChunk の引数に変換する
func (m Move) Request() store.MoveChunkRequest {
	return store.MoveChunkRequest{
		Namespace: m.Namespace,
		Min:       m.Chunk.Min,
		Max:       m.Chunk.Max,
		To:        m.To,
	}
}

// Reader はメタデータカタログの読み取り専用アクセサ
// チャンクの所有者は移動のたびに変わるため、結果はキャッシュしない
type Reader struct {
	catalog store.Catalog
}

// NewReader は新しいReaderを作成する
func NewReader(catalog store.Catalog) *Reader {
	return &Reader{catalog: catalog}
}

// Collection は名前空間からコレクション情報を取得する
func (r *Reader) Collection(ctx context.Context, ns store.Namespace) (store.CollectionEntry, error) {
	entry, err := r.catalog.FindCollection(ctx, ns)
	if errors.Is(err, store.ErrNotFound) {
		return entry, errors.Wrapf(ErrCollectionNotFound, "%s", ns)
	}
	if err != nil {
		return entry, errors.Wrapf(err, "read collection %s", ns)
	}
	return entry, nil
}

// Chunks はコレクションの全チャンクを返す
func (r *Reader) Chunks(ctx context.Context, collectionUUID string) ([]store.ChunkDescriptor, error) {
	chunks, err := drain(r.catalog.Chunks(ctx, collectionUUID))
	if err != nil {
		return nil, errors.Wrapf(err, "read chunks of %s", collectionUUID)
	}
	return chunks, nil
}

// ShardsExcept は shardID 以外の全シャードを返す
func (r *Reader) ShardsExcept(ctx context.Context, shardID string) ([]store.ShardDescriptor, error) {
	shards, err := drain(r.catalog.ShardsExcept(ctx, shardID))
	if err != nil {
		return nil, errors.Wrapf(err, "read shards")
	}
	// カタログ側のフィルタに依存せず、所有者自身は必ず除外する
	return slices.DeleteFunc(shards, func(s store.ShardDescriptor) bool {
		return s.ID == shardID
	}), nil
}

// Plan はランダムなチャンクと、その所有者以外のランダムなシャードを選ぶ
func (r *Reader) Plan(ctx context.Context, ns store.Namespace, rng Rand) (Move, error) {
	entry, err := r.Collection(ctx, ns)
	if err != nil {
		return Move{}, err
	}

	chunks, err := r.Chunks(ctx, entry.UUID)
	if err != nil {
		return Move{}, err
	}
	if len(chunks) == 0 {
		return Move{}, errors.Wrapf(ErrNoChunks, "%s", ns)
	}
	chunk := chunks[rng.IntN(len(chunks))]

	shards, err := r.ShardsExcept(ctx, chunk.Shard)
	if err != nil {
		return Move{}, err
	}
	if len(shards) == 0 {
		return Move{}, errors.Wrapf(ErrSingleShard, "chunk %s on %s", chunk.ID, chunk.Shard)
	}
	dest := shards[rng.IntN(len(shards))]

	return Move{
		Namespace: ns,
		Chunk:     chunk,
		From:      chunk.Shard,
		To:        dest.ID,
	}, nil
}

func drain[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
