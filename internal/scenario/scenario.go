package scenario

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/m4nti5/mongolocust/internal/catalog"
	"github.com/m4nti5/mongolocust/internal/events"
	"github.com/m4nti5/mongolocust/internal/keycache"
	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/memstore"
	"github.com/m4nti5/mongolocust/internal/metrics"
	"github.com/m4nti5/mongolocust/internal/migration"
	"github.com/m4nti5/mongolocust/internal/store"
	"github.com/m4nti5/mongolocust/internal/worker"
	"github.com/m4nti5/mongolocust/internal/workload"
)

// Weights は操作ごとの選択重み
type Weights struct {
	Insert     int
	Find       int
	Update     int
	BulkInsert int
	Migration  int
}

// DefaultWeights は標準の重みを返す
func DefaultWeights() Weights {
	return Weights{Insert: 3, Find: 1, Update: 3, BulkInsert: 2, Migration: 1}
}

// Catalog は重みから操作カタログを作る
func (w Weights) Catalog(docsPerBatch int) (*catalog.Catalog, error) {
	return catalog.New(
		catalog.Operation{Kind: catalog.Insert, Weight: w.Insert},
		catalog.Operation{Kind: catalog.Find, Weight: w.Find},
		catalog.Operation{Kind: catalog.Update, Weight: w.Update},
		catalog.Operation{Kind: catalog.BulkInsert, Weight: w.BulkInsert, BatchSize: docsPerBatch},
		catalog.Operation{Kind: catalog.Migrate, Weight: w.Migration},
	)
}

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Duration    time.Duration // 実行時間

	// ユーザー設定
	Users     int     // 同時ユーザー数
	SpawnRate float64 // 1秒あたりのユーザー起動数
	Seed      uint64  // 0以外ならユーザーごとの乱数を固定する

	// ストア設定
	Backend    Backend         // memory または mongo
	ClusterURL string          // mongo バックエンドの接続先
	Namespace  store.Namespace // 対象コレクション
	Memory     memstore.Config // memory バックエンドの設定

	// ワークロード設定
	Weights       Weights
	DocsPerBatch  int // 一括挿入の件数
	CacheCapacity int // ユーザーごとのキーキャッシュ容量
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		Description:   "Mixed CRUD workload with chunk migrations",
		Duration:      30 * time.Second,
		Users:         10,
		SpawnRate:     10,
		Backend:       BackendMemory,
		ClusterURL:    "mongodb://localhost:27017",
		Namespace:     store.Namespace{Database: "sample", Collection: "documents"},
		Memory:        memstore.DefaultConfig(),
		Weights:       DefaultWeights(),
		DocsPerBatch:  catalog.DefaultDocsPerBatch,
		CacheCapacity: keycache.DefaultCapacity,
	}
}

// Result はシナリオ実行結果
type Result struct {
	RunID        string
	ScenarioName string
	Backend      Backend
	Namespace    string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Users        int

	// メトリクス
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	SkippedRequests uint64
	ErrorRate       float64
	AvgLatency      time.Duration
	P99Latency      time.Duration
	OverallRPS      float64
	Ops             []metrics.OpSnapshot

	// マイグレーション統計
	Migrations migration.Stats

	// シャード状態（memory バックエンドのみ）
	Shards []memstore.ShardStats

	// 実行を止めた致命的エラー
	Err error
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	ownBus   bool

	store       store.Store
	coordinator *migration.Coordinator
	metrics     *metrics.Metrics
	pool        *worker.Pool
	eventsDone  chan struct{}
	subscribed  <-chan events.Event

	mu      sync.RWMutex
	running bool
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する。未設定なら Run のたびに内部で作る
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// Run はシナリオを実行する
// 致命的エラーで止まった場合も、それまでの結果と一緒にエラーを返す
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Info("", "=== Scenario '%s' started ===", e.config.Name)
	logger.Info("", "Description: %s", e.config.Description)

	result := &Result{
		RunID:        uuid.NewString(),
		ScenarioName: e.config.Name,
		Backend:      e.config.Backend,
		Namespace:    e.config.Namespace.String(),
		StartTime:    time.Now(),
		Users:        e.config.Users,
	}

	// セットアップ
	if err := e.setup(ctx); err != nil {
		e.teardown()
		return nil, errors.Wrap(err, "setup failed")
	}
	defer e.teardown()

	// シナリオ実行
	scenarioCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	result.Err = e.runScenario(scenarioCtx)

	// 結果収集
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result)

	logger.Info("", "=== Scenario '%s' completed ===", e.config.Name)

	return result, result.Err
}

// setup はシナリオ実行前のセットアップ
func (e *Engine) setup(ctx context.Context) error {
	cat, err := e.config.Weights.Catalog(e.config.DocsPerBatch)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, e.config)
	if err != nil {
		return errors.Wrapf(err, "open %s backend", e.config.Backend)
	}
	e.store = st

	// イベントバス
	if e.eventBus == nil {
		e.eventBus = events.NewBus()
		e.ownBus = true
	}
	e.subscribed = e.eventBus.Subscribe()
	e.eventsDone = make(chan struct{})
	go logEvents(e.subscribed, e.eventsDone)

	e.coordinator = migration.New()
	e.coordinator.SetEventBus(e.eventBus)
	e.metrics = metrics.New()

	wcfg := workload.Config{
		Namespace:     e.config.Namespace,
		ShardKey:      "id",
		Catalog:       cat,
		CacheCapacity: e.config.CacheCapacity,
	}

	e.pool = worker.NewPool(
		worker.PoolConfig{Users: e.config.Users, SpawnRate: e.config.SpawnRate},
		func(i int) (worker.User, error) {
			opts := []workload.Option{workload.WithRecorder(e.metrics)}
			if e.config.Seed != 0 {
				seed := e.config.Seed + uint64(i)
				opts = append(opts, workload.WithRand(rand.New(rand.NewPCG(seed, seed))))
			}
			return workload.New(fmt.Sprintf("user-%d", i+1), e.store, e.coordinator, wcfg, opts...), nil
		},
		worker.WithFatal(workload.IsFatal),
	)

	return nil
}

// logEvents はマイグレーションイベントをログに出す
func logEvents(ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		switch ev.Type {
		case events.EventMigrationFailed:
			logger.Warn(ev.UserID, "Migration of %s failed: %s", ev.Data.Namespace, ev.Data.Error)
		case events.EventMigrationSuccess:
			logger.Debug(ev.UserID, "Migration event: chunk %s %s -> %s in %s", ev.Data.ChunkID, ev.Data.From, ev.Data.To, ev.Data.Duration)
		default:
			logger.Debug(ev.UserID, "Migration event: %s %s", ev.Type, ev.Data.Namespace)
		}
	}
}

// teardown はシナリオ実行後のクリーンアップ
func (e *Engine) teardown() {
	if e.pool != nil {
		e.pool.Stop()
	}
	if e.subscribed != nil {
		if e.ownBus {
			e.eventBus.Close()
			e.eventBus = nil
			e.ownBus = false
		} else {
			e.eventBus.Unsubscribe(e.subscribed)
		}
		<-e.eventsDone
		e.subscribed = nil
	}
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Close(ctx); err != nil {
			logger.Warn("", "Failed to close store: %v", err)
		}
		e.store = nil
	}
	e.pool = nil
}

// runScenario はシナリオのメイン処理
// 時間切れ、または全ユーザーの終了まで待つ
func (e *Engine) runScenario(ctx context.Context) error {
	e.pool.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info("", "Scenario duration completed, stopping users...")
	case <-e.pool.Done():
		logger.Info("", "All users stopped before the scenario ended")
	}

	e.pool.Stop()
	return e.pool.Err()
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result) {
	snapshot := e.metrics.Snapshot()
	result.TotalRequests = snapshot.TotalRequests
	result.SuccessRequests = snapshot.SuccessRequests
	result.FailedRequests = snapshot.FailedRequests
	result.SkippedRequests = snapshot.SkippedRequests
	result.ErrorRate = snapshot.ErrorRate
	result.AvgLatency = snapshot.AverageLatency
	result.P99Latency = snapshot.P99Latency
	result.OverallRPS = snapshot.OverallRPS
	result.Ops = snapshot.Ops

	result.Migrations = e.coordinator.Stats()

	if cluster, ok := e.store.(*memstore.Cluster); ok {
		result.Shards = cluster.Stats().Shards
	}
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Backend:        %s
  Namespace:      %s
  Users:          %d
  Start Time:     %s
  End Time:       %s
  Duration:       %v

TRAFFIC METRICS
---------------
  Total Requests:   %d
  Success:          %d
  Failed:           %d
  Skipped:          %d
  Error Rate:       %.2f%%
  Avg Latency:      %v
  P99 Latency:      %v
  Throughput:       %.1f req/s

OPERATIONS
----------
`,
		r.ScenarioName,
		r.RunID,
		r.Backend,
		r.Namespace,
		r.Users,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.TotalRequests,
		r.SuccessRequests,
		r.FailedRequests,
		r.SkippedRequests,
		r.ErrorRate*100,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
		r.OverallRPS,
	)

	fmt.Fprintf(&b, "  %-24s %10s %8s %8s %12s %12s\n", "NAME", "REQUESTS", "FAILED", "SKIPPED", "AVG", "P99")
	for _, op := range r.Ops {
		fmt.Fprintf(&b, "  %-24s %10d %8d %8d %12v %12v\n",
			op.Name, op.Requests, op.Failures, op.Skipped,
			op.AverageLatency.Round(time.Microsecond), op.P99Latency.Round(time.Microsecond))
	}

	fmt.Fprintf(&b, `
MIGRATION STATISTICS
--------------------
  Attempts:         %d
  Completed:        %d
  Failed:           %d
  Skipped (busy):   %d
`,
		r.Migrations.Attempts,
		r.Migrations.Completed,
		r.Migrations.Failed,
		r.Migrations.Skipped,
	)

	if len(r.Shards) > 0 {
		b.WriteString("\nFINAL SHARD STATUS\n------------------\n")
		for _, s := range r.Shards {
			fmt.Fprintf(&b, "  %-20s %-8s chunks=%-4d documents=%d\n", s.ID+":", s.Status, s.Chunks, s.Documents)
		}
	}

	if r.Err != nil {
		fmt.Fprintf(&b, "\nABORTED\n-------\n  %v\n", r.Err)
	}

	b.WriteString("\n================================================================================")

	return b.String()
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// MigrationStats はマイグレーション統計を返す
func (e *Engine) MigrationStats() *migration.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.coordinator == nil {
		return nil
	}
	stats := e.coordinator.Stats()
	return &stats
}

// Metrics はメトリクスのスナップショットを返す
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metrics == nil {
		return nil
	}
	snapshot := e.metrics.Snapshot()
	return &snapshot
}
