package mongostore

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/store"
)

// mongod のエラーコード
const (
	codeIllegalOperation   = 20
	codeAlreadyInitialized = 23
)

var _ store.Store = (*Client)(nil)

// Config は接続設定
type Config struct {
	URI            string
	AppName        string
	ConnectTimeout time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig(uri string) Config {
	return Config{
		URI:            uri,
		AppName:        "mongolocust",
		ConnectTimeout: 10 * time.Second,
	}
}

// Client は mongos に接続したストア
type Client struct {
	client  *mongo.Client
	admin   *mongo.Database
	catalog *configCatalog
}

// Connect は mongos に接続し、プライマリへの疎通を確認する
func Connect(ctx context.Context, config Config) (*Client, error) {
	if config.URI == "" {
		return nil, errors.New("mongostore: empty cluster URI")
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetAppName(config.AppName)
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping")
	}

	logger.Info("", "Connected to %s", redactURI(config.URI))

	return &Client{
		client:  client,
		admin:   client.Database("admin"),
		catalog: newConfigCatalog(client.Database("config")),
	}, nil
}

// EnsureShardedCollection はデータベースとコレクションのシャーディングを有効にする
func (c *Client) EnsureShardedCollection(ctx context.Context, ns store.Namespace, shardKey string) (store.Collection, store.Collection, error) {
	if err := c.runTolerant(ctx, bson.D{{Key: "enableSharding", Value: ns.Database}}); err != nil {
		return nil, nil, errors.Wrapf(err, "enableSharding %s", ns.Database)
	}

	cmd := bson.D{
		{Key: "shardCollection", Value: ns.String()},
		{Key: "key", Value: bson.D{{Key: shardKey, Value: "hashed"}}},
	}
	if err := c.runTolerant(ctx, cmd); err != nil {
		return nil, nil, errors.Wrapf(err, "shardCollection %s", ns)
	}

	return newCollections(c.client.Database(ns.Database).Collection(ns.Collection))
}

func (c *Client) runTolerant(ctx context.Context, cmd bson.D) error {
	err := c.admin.RunCommand(ctx, cmd).Err()
	if err != nil && isAlreadySharded(err) {
		logger.Debug("", "%s: %v", cmd[0].Key, err)
		return nil
	}
	return err
}

// isAlreadySharded は既にシャーディング済みであることを表す応答かどうかを返す
func isAlreadySharded(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	switch cmdErr.Code {
	case codeAlreadyInitialized:
		return true
	case codeIllegalOperation:
		return strings.Contains(strings.ToLower(cmdErr.Message), "already")
	default:
		return false
	}
}

// MoveChunk は moveChunk 管理コマンドを実行し、完了まで待つ
func (c *Client) MoveChunk(ctx context.Context, req store.MoveChunkRequest) error {
	return c.admin.RunCommand(ctx, moveChunkCommand(req)).Err()
}

func moveChunkCommand(req store.MoveChunkRequest) bson.D {
	return bson.D{
		{Key: "moveChunk", Value: req.Namespace.String()},
		{Key: "bounds", Value: bson.A{req.Min, req.Max}},
		{Key: "to", Value: req.To},
	}
}

// Catalog は config データベースのビューを返す
func (c *Client) Catalog() store.Catalog {
	return c.catalog
}

// Close は接続を閉じる
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// redactURI はログ用に認証情報を伏せる
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}
	return scheme + "://***@" + rest[at+1:]
}
