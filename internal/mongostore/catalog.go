package mongostore

import (
	"context"
	"iter"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/m4nti5/mongolocust/internal/store"
)

type collectionDoc struct {
	ID   string           `bson:"_id"`
	UUID primitive.Binary `bson:"uuid"`
	Key  bson.D           `bson:"key"`
}

type chunkDoc struct {
	ID    bson.RawValue `bson:"_id"`
	Shard string        `bson:"shard"`
	Min   bson.Raw      `bson:"min"`
	Max   bson.Raw      `bson:"max"`
}

type shardDoc struct {
	ID   string `bson:"_id"`
	Host string `bson:"host"`
}

// configCatalog は config データベースを読む store.Catalog
type configCatalog struct {
	db *mongo.Database

	// uuid から名前空間を引く（ns しか持たない古いチャンク用）
	mu         sync.RWMutex
	namespaces map[string]string
}

func newConfigCatalog(db *mongo.Database) *configCatalog {
	return &configCatalog{
		db:         db,
		namespaces: make(map[string]string),
	}
}

func (c *configCatalog) FindCollection(ctx context.Context, ns store.Namespace) (store.CollectionEntry, error) {
	var doc collectionDoc
	err := c.db.Collection("collections").FindOne(ctx, bson.D{{Key: "_id", Value: ns.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.CollectionEntry{}, errors.Wrapf(store.ErrNotFound, "config.collections %s", ns)
	}
	if err != nil {
		return store.CollectionEntry{}, errors.Wrap(err, "read config.collections")
	}

	entry := store.CollectionEntry{
		Namespace: doc.ID,
		UUID:      uuidString(doc.UUID, doc.ID),
		ShardKey:  shardKeyName(doc.Key),
	}

	c.mu.Lock()
	c.namespaces[entry.UUID] = entry.Namespace
	c.mu.Unlock()

	return entry, nil
}

// uuidString はコレクションUUIDを文字列にする。UUIDが無い古いカタログでは名前空間を使う
func uuidString(b primitive.Binary, ns string) string {
	if u, err := uuid.FromBytes(b.Data); err == nil {
		return u.String()
	}
	return ns
}

func shardKeyName(key bson.D) string {
	if len(key) == 0 {
		return ""
	}
	return key[0].Key
}

// chunkFilter は uuid と ns のどちらで記録されたチャンクにも一致するフィルタを作る
func (c *configCatalog) chunkFilter(collectionUUID string) bson.D {
	c.mu.RLock()
	ns, known := c.namespaces[collectionUUID]
	c.mu.RUnlock()

	var clauses bson.A
	if u, err := uuid.Parse(collectionUUID); err == nil {
		clauses = append(clauses, bson.D{{Key: "uuid", Value: primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}}})
	}
	if known {
		clauses = append(clauses, bson.D{{Key: "ns", Value: ns}})
	}
	if len(clauses) == 0 {
		// 名前空間そのものが渡された場合
		return bson.D{{Key: "ns", Value: collectionUUID}}
	}
	return bson.D{{Key: "$or", Value: clauses}}
}

func (c *configCatalog) Chunks(ctx context.Context, collectionUUID string) iter.Seq2[store.ChunkDescriptor, error] {
	return cursorSeq(ctx, "config.chunks", func() (*mongo.Cursor, error) {
		opts := options.Find().SetSort(bson.D{{Key: "min", Value: 1}})
		return c.db.Collection("chunks").Find(ctx, c.chunkFilter(collectionUUID), opts)
	}, chunkDoc.descriptor)
}

func (c *configCatalog) ShardsExcept(ctx context.Context, shardID string) iter.Seq2[store.ShardDescriptor, error] {
	return cursorSeq(ctx, "config.shards", func() (*mongo.Cursor, error) {
		filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$ne", Value: shardID}}}}
		return c.db.Collection("shards").Find(ctx, filter)
	}, shardDoc.descriptor)
}

func (d chunkDoc) descriptor() store.ChunkDescriptor {
	return store.ChunkDescriptor{
		ID:    rawID(d.ID),
		Shard: d.Shard,
		Min:   d.Min,
		Max:   d.Max,
	}
}

func (d shardDoc) descriptor() store.ShardDescriptor {
	return store.ShardDescriptor{ID: d.ID, Host: d.Host}
}

// rawID はチャンクの _id を文字列にする（5.0以降は ObjectId、それ以前は文字列）
func rawID(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	default:
		return v.String()
	}
}

// cursorSeq は検索結果を遅延シーケンスにする。range するたびにクエリを発行する
func cursorSeq[D, T any](ctx context.Context, source string, find func() (*mongo.Cursor, error), convert func(D) T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		cur, err := find()
		if err != nil {
			yield(zero, errors.Wrapf(err, "read %s", source))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc D
			if err := cur.Decode(&doc); err != nil {
				yield(zero, errors.Wrapf(err, "decode %s", source))
				return
			}
			if !yield(convert(doc), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(zero, errors.Wrapf(err, "read %s", source))
		}
	}
}
