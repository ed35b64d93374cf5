// Package store defines the boundary between the workload and the
// partitioned document store it exercises.
package store

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound はカタログ上に対象が存在しない場合のエラー
	ErrNotFound = errors.New("not found")
	// ErrAlreadySharded はコレクションが既にシャーディング済みであることを表す
	// EnsureShardedCollection の実装はこれを呼び出し側に返さず成功として扱う
	ErrAlreadySharded = errors.New("collection already sharded")
)

// Namespace は "db.collection" 形式の名前空間
type Namespace struct {
	Database   string
	Collection string
}

func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// Document はワークロードが書き込むドキュメント
// ID がシャードキーで、挿入後は変更しない
type Document struct {
	ID          int64   `bson:"id" json:"id"`
	FirstName   string  `bson:"first_name" json:"first_name"`
	LastName    string  `bson:"last_name" json:"last_name"`
	Address     string  `bson:"address" json:"address"`
	City        string  `bson:"city" json:"city"`
	TotalAssets float64 `bson:"total_assets" json:"total_assets"`
	Updated     bool    `bson:"updated,omitempty" json:"updated,omitempty"`
}

// WriteConcern は書き込み確認レベル
type WriteConcern int

const (
	Acknowledged WriteConcern = iota
	Majority
)

func (w WriteConcern) String() string {
	switch w {
	case Acknowledged:
		return "acknowledged"
	case Majority:
		return "majority"
	default:
		return "unknown"
	}
}

// Update は $set 相当のフィールド更新
type Update struct {
	Set map[string]any
}

// Collection はシャーディングされたコレクションへのCRUD操作
type Collection interface {
	InsertOne(ctx context.Context, doc Document, wc WriteConcern) error
	InsertMany(ctx context.Context, docs []Document, wc WriteConcern) error
	// FindOne は id による点検索。見つからなければ false を返す
	FindOne(ctx context.Context, id int64) (Document, bool, error)
	// UpdateOne は upsert しない。一致件数を返す（0件は正常）
	UpdateOne(ctx context.Context, id int64, update Update) (int64, error)
}

// CollectionEntry はメタデータカタログ上のコレクション情報
type CollectionEntry struct {
	Namespace string
	UUID      string
	ShardKey  string
}

// ChunkDescriptor はチャンク（シャードキー空間の連続範囲）を表す
// Min/Max はストア固有の境界値で、MoveChunk にそのまま渡す
type ChunkDescriptor struct {
	ID    string
	Shard string
	Min   any
	Max   any
}

// ShardDescriptor はチャンクを受け取れるシャードを表す
type ShardDescriptor struct {
	ID   string
	Host string
}

// Catalog はストアのメタデータカタログ（collections, chunks, shards）
// Chunks と ShardsExcept は遅延評価で、range するたびに読み直す
type Catalog interface {
	FindCollection(ctx context.Context, ns Namespace) (CollectionEntry, error)
	Chunks(ctx context.Context, collectionUUID string) iter.Seq2[ChunkDescriptor, error]
	ShardsExcept(ctx context.Context, shardID string) iter.Seq2[ShardDescriptor, error]
}

// MoveChunkRequest は moveChunk 管理コマンドの引数
type MoveChunkRequest struct {
	Namespace Namespace
	Min       any
	Max       any
	To        string
}

// Mover はチャンク移動を同期的に実行する
type Mover interface {
	MoveChunk(ctx context.Context, req MoveChunkRequest) error
}

// Store はワークロードが必要とするストア機能の最小集合
type Store interface {
	Mover

	// EnsureShardedCollection は shardKey でハッシュシャーディングされた
	// コレクションを用意する。冪等で、並行呼び出しにも安全
	// プライマリ読み取り用とセカンダリ読み取り用のハンドルを返す
	EnsureShardedCollection(ctx context.Context, ns Namespace, shardKey string) (primary, secondary Collection, err error)
	Catalog() Catalog
	Close(ctx context.Context) error
}
