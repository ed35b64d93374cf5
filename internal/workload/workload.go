package workload

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/catalog"
	"github.com/m4nti5/mongolocust/internal/docgen"
	"github.com/m4nti5/mongolocust/internal/keycache"
	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/migration"
	"github.com/m4nti5/mongolocust/internal/store"
	"github.com/m4nti5/mongolocust/internal/topology"
)

// ErrNotStarted は OnStart 前に操作を実行した場合のエラー
var ErrNotStarted = errors.New("workload client not started")

// Outcome は1ティックの結果
type Outcome int

const (
	// Done は操作を実行した
	Done Outcome = iota
	// Skipped は正当な no-op（キャッシュが空、または他ユーザーがマイグレーション中）
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Config は全ユーザーで共有する不変の設定
type Config struct {
	Namespace     store.Namespace
	ShardKey      string
	Catalog       *catalog.Catalog
	CacheCapacity int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Namespace:     store.Namespace{Database: "sample", Collection: "documents"},
		ShardKey:      "id",
		Catalog:       catalog.Default(catalog.DefaultDocsPerBatch),
		CacheCapacity: keycache.DefaultCapacity,
	}
}

// DocumentSource は新しいドキュメントを返す
type DocumentSource interface {
	Document() store.Document
}

// Recorder は操作ごとのレイテンシと結果を受け取る
type Recorder interface {
	Record(op string, latency time.Duration, outcome Outcome, err error)
}

// Option は Client の任意設定
type Option func(*Client)

// WithRand は乱数源を指定する
func WithRand(rng *rand.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// WithDocuments はドキュメント生成器を指定する
func WithDocuments(src DocumentSource) Option {
	return func(c *Client) { c.docs = src }
}

// WithRecorder は操作ごとの計測先を指定する
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// Client は1人の模擬ユーザー
// ティックは常に逐次実行され、キーキャッシュはこのユーザー専用
type Client struct {
	id          string
	config      Config
	store       store.Store
	coordinator *migration.Coordinator
	topology    *topology.Reader

	rng      *rand.Rand
	docs     DocumentSource
	recorder Recorder
	cache    *keycache.Cache

	primary   store.Collection
	secondary store.Collection
}

// New は新しい Client を作成する
func New(id string, st store.Store, coordinator *migration.Coordinator, config Config, opts ...Option) *Client {
	c := &Client{
		id:          id,
		config:      config,
		store:       st,
		coordinator: coordinator,
		topology:    topology.NewReader(st.Catalog()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.docs == nil {
		c.docs = docgen.New(c.rng.Uint64())
	}
	c.cache = keycache.New(config.CacheCapacity, c.rng)
	return c
}

// ID はユーザーIDを返す
func (c *Client) ID() string {
	return c.id
}

// Cache はキーキャッシュを返す
func (c *Client) Cache() *keycache.Cache {
	return c.cache
}

// Secondary はセカンダリ優先で読むコレクションハンドルを返す（OnStart 前は nil）
func (c *Client) Secondary() store.Collection {
	return c.secondary
}

// OnStart はティック開始前に1度だけ呼ばれる
// シャーディング済みコレクションを用意し、キャッシュを空にする
func (c *Client) OnStart(ctx context.Context) error {
	primary, secondary, err := c.store.EnsureShardedCollection(ctx, c.config.Namespace, c.config.ShardKey)
	if err != nil {
		return errors.Wrapf(err, "provision %s", c.config.Namespace)
	}
	c.primary, c.secondary = primary, secondary
	c.cache.Reset()

	logger.Debug(c.id, "Collection %s ready", c.config.Namespace)
	return nil
}

// Tick は重みに従って操作を1つ選んで実行し、Recorder に報告する
func (c *Client) Tick(ctx context.Context) (catalog.Operation, Outcome, error) {
	op := c.config.Catalog.Pick(c.rng)

	start := time.Now()
	outcome, err := c.Execute(ctx, op)
	// 実行終了による中断は記録しない
	if c.recorder != nil && (err == nil || ctx.Err() == nil) {
		c.recorder.Record(op.Name(), time.Since(start), outcome, err)
	}
	return op, outcome, err
}

// Execute は指定された操作を実行する
func (c *Client) Execute(ctx context.Context, op catalog.Operation) (Outcome, error) {
	if c.primary == nil {
		return Done, ErrNotStarted
	}

	switch op.Kind {
	case catalog.Insert:
		return Done, c.InsertOne(ctx)
	case catalog.Find:
		return c.FindOne(ctx)
	case catalog.Update:
		return c.UpdateOne(ctx)
	case catalog.BulkInsert:
		return Done, c.InsertBulk(ctx, op.BatchSize)
	case catalog.Migrate:
		return c.MigrateChunk(ctx)
	default:
		return Done, errors.Newf("unknown operation kind %d", int(op.Kind))
	}
}

// InsertOne は1件挿入し、成功したら id をキャッシュする
func (c *Client) InsertOne(ctx context.Context) error {
	doc := c.docs.Document()
	if err := c.primary.InsertOne(ctx, doc, store.Majority); err != nil {
		return errors.Wrapf(err, "%s", catalog.Insert)
	}
	c.cache.Record(doc.ID)
	return nil
}

// FindOne はキャッシュからランダムな id を選んで点検索する
// キャッシュが空ならストアを呼ばずに Skipped
func (c *Client) FindOne(ctx context.Context) (Outcome, error) {
	id, ok := c.cache.Sample()
	if !ok {
		return Skipped, nil
	}
	if _, _, err := c.primary.FindOne(ctx, id); err != nil {
		return Done, errors.Wrapf(err, "%s", catalog.Find)
	}
	return Done, nil
}

// UpdateOne はキャッシュからランダムな id を選んで updated フラグを立てる
// upsert はしない。一致0件も正常
func (c *Client) UpdateOne(ctx context.Context) (Outcome, error) {
	id, ok := c.cache.Sample()
	if !ok {
		return Skipped, nil
	}
	update := store.Update{Set: map[string]any{"updated": true}}
	if _, err := c.primary.UpdateOne(ctx, id, update); err != nil {
		return Done, errors.Wrapf(err, "%s", catalog.Update)
	}
	return Done, nil
}

// InsertBulk は n 件をまとめて挿入する
// 一括挿入の id はキャッシュしない
func (c *Client) InsertBulk(ctx context.Context, n int) error {
	if n <= 0 {
		return errors.Newf("%s: batch size must be positive, got %d", catalog.BulkInsert, n)
	}
	docs := make([]store.Document, n)
	for i := range docs {
		docs[i] = c.docs.Document()
	}
	if err := c.primary.InsertMany(ctx, docs, store.Majority); err != nil {
		return errors.Wrapf(err, "%s", catalog.BulkInsert)
	}
	return nil
}

// MigrateChunk は他のユーザーが移動中でなければチャンクを1つ別シャードへ移す
func (c *Client) MigrateChunk(ctx context.Context) (Outcome, error) {
	res, err := c.coordinator.Run(ctx, c.id, c.config.Namespace, c.topology, c.store, c.rng)
	if err != nil {
		return Done, errors.Wrapf(err, "%s", catalog.Migrate)
	}
	if res.Skipped {
		return Skipped, nil
	}
	return Done, nil
}

// Run は ctx が終わるまでティックを繰り返す
// ストアのエラーは Recorder に報告して続行し、設定エラーなら中断して返す
func (c *Client) Run(ctx context.Context) error {
	if c.primary == nil {
		if err := c.OnStart(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		op, _, err := c.Tick(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if IsFatal(err) {
			logger.Error(c.id, "Aborting: %v", err)
			return err
		}
		logger.Debug(c.id, "%s failed: %v", op.Name(), err)
	}
}

// IsFatal はテスト環境の設定ミスを表すエラーかどうかを返す
// 該当するエラーはリトライせず実行全体を止める
func IsFatal(err error) bool {
	return errors.IsAny(err, topology.ErrMisconfigured, catalog.ErrInvalidCatalog, ErrNotStarted)
}
