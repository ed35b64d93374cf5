package mongostore

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/m4nti5/mongolocust/internal/store"
)

// collection は書き込み確認レベルごとのハンドルを持つ
type collection struct {
	base     *mongo.Collection
	majority *mongo.Collection
}

func newCollections(base *mongo.Collection) (store.Collection, store.Collection, error) {
	majority, err := base.Clone(options.Collection().SetWriteConcern(writeconcern.Majority()))
	if err != nil {
		return nil, nil, errors.Wrap(err, "clone with majority write concern")
	}
	secondaryBase, err := base.Clone(options.Collection().SetReadPreference(readpref.SecondaryPreferred()))
	if err != nil {
		return nil, nil, errors.Wrap(err, "clone with secondary read preference")
	}
	secondaryMajority, err := secondaryBase.Clone(options.Collection().SetWriteConcern(writeconcern.Majority()))
	if err != nil {
		return nil, nil, errors.Wrap(err, "clone with majority write concern")
	}

	primary := &collection{base: base, majority: majority}
	secondary := &collection{base: secondaryBase, majority: secondaryMajority}
	return primary, secondary, nil
}

func (c *collection) writer(wc store.WriteConcern) *mongo.Collection {
	if wc == store.Majority {
		return c.majority
	}
	return c.base
}

func idFilter(id int64) bson.D {
	return bson.D{{Key: "id", Value: id}}
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document, wc store.WriteConcern) error {
	_, err := c.writer(wc).InsertOne(ctx, doc)
	return err
}

func (c *collection) InsertMany(ctx context.Context, docs []store.Document, wc store.WriteConcern) error {
	if len(docs) == 0 {
		return errors.New("insert many: empty batch")
	}
	batch := make([]any, len(docs))
	for i := range docs {
		batch[i] = docs[i]
	}
	_, err := c.writer(wc).InsertMany(ctx, batch, options.InsertMany().SetOrdered(true))
	return err
}

func (c *collection) FindOne(ctx context.Context, id int64) (store.Document, bool, error) {
	var doc store.Document
	err := c.base.FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, err
	}
	return doc, true, nil
}

func (c *collection) UpdateOne(ctx context.Context, id int64, update store.Update) (int64, error) {
	set, err := setDocument(update)
	if err != nil {
		return 0, err
	}
	res, err := c.base.UpdateOne(ctx, idFilter(id), set, options.Update().SetUpsert(false))
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// setDocument は Update を $set ドキュメントに変換する
func setDocument(update store.Update) (bson.D, error) {
	if len(update.Set) == 0 {
		return nil, errors.New("update: no fields to set")
	}
	if _, ok := update.Set["id"]; ok {
		return nil, errors.New("update: shard key id is immutable")
	}
	return bson.D{{Key: "$set", Value: bson.M(update.Set)}}, nil
}
