package migration

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/events"
	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/store"
	"github.com/m4nti5/mongolocust/internal/topology"
)

// State はマイグレーションロックの状態
type State int

const (
	StateIdle State = iota
	StateMigrating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMigrating:
		return "migrating"
	default:
		return "unknown"
	}
}

// Planner は移動するチャンクと移動先を決める
type Planner interface {
	Plan(ctx context.Context, ns store.Namespace, rng topology.Rand) (topology.Move, error)
}

// Ensure topology.Reader implements Planner
var _ Planner = (*topology.Reader)(nil)

// Stats はマイグレーションの統計情報
type Stats struct {
	Attempts  uint64 `json:"attempts"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
}

// Result は Run の結果
type Result struct {
	Skipped bool
	Move    topology.Move
	Took    time.Duration
}

// Coordinator はプロセス全体で同時に1つのマイグレーションだけを許可する
type Coordinator struct {
	busy     atomic.Bool
	eventBus *events.Bus

	attempts  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// New は新しいCoordinatorを作成する
func New() *Coordinator {
	return &Coordinator{}
}

// SetEventBus はイベントバスを設定する
func (c *Coordinator) SetEventBus(bus *events.Bus) {
	c.eventBus = bus
}

// publishEvent はイベントを発行する
func (c *Coordinator) publishEvent(event events.Event) {
	if c.eventBus != nil {
		c.eventBus.Publish(event)
	}
}

// TryAcquire は Idle → Migrating への遷移を試みる
// CAS なので、同時に呼んでも成功するのは1つだけ
func (c *Coordinator) TryAcquire() bool {
	return c.busy.CompareAndSwap(false, true)
}

// Release はロックを Idle に戻す
func (c *Coordinator) Release() {
	c.busy.Store(false)
}

// Migrating はマイグレーション中かどうかを返す
func (c *Coordinator) Migrating() bool {
	return c.busy.Load()
}

// State は現在の状態を返す
func (c *Coordinator) State() State {
	if c.busy.Load() {
		return StateMigrating
	}
	return StateIdle
}

// Run はロックが空いていればチャンクを1つ移動する
// ロック取得済みなら何もせず Skipped を返す（エラーではない）
// ロックはどの経路で戻っても必ず解放される
func (c *Coordinator) Run(
	ctx context.Context,
	userID string,
	ns store.Namespace,
	planner Planner,
	mover store.Mover,
	rng topology.Rand,
) (Result, error) {
	if !c.TryAcquire() {
		c.skipped.Add(1)
		c.publishEvent(events.NewMigrationSkippedEvent(userID, ns.String()))
		return Result{Skipped: true}, nil
	}
	defer c.Release()

	c.attempts.Add(1)
	c.publishEvent(events.NewMigrationStartEvent(userID, ns.String()))

	start := time.Now()
	move, err := planner.Plan(ctx, ns, rng)
	if err != nil {
		c.fail(userID, ns, err)
		return Result{}, errors.Wrap(err, "plan chunk migration")
	}

	logger.Debug(userID, "Moving chunk %s of %s: %s -> %s", move.Chunk.ID, ns, move.From, move.To)

	if err := mover.MoveChunk(ctx, move.Request()); err != nil {
		c.fail(userID, ns, err)
		return Result{Move: move, Took: time.Since(start)},
			errors.Wrapf(err, "moveChunk %s %s -> %s", move.Chunk.ID, move.From, move.To)
	}

	took := time.Since(start)
	c.completed.Add(1)
	c.publishEvent(events.NewMigrationSuccessEvent(userID, ns.String(), move.Chunk.ID, move.From, move.To, took))
	logger.Info(userID, "Moved chunk %s of %s: %s -> %s (%v)", move.Chunk.ID, ns, move.From, move.To, took.Round(time.Millisecond))

	return Result{Move: move, Took: took}, nil
}

func (c *Coordinator) fail(userID string, ns store.Namespace, err error) {
	c.failed.Add(1)
	c.publishEvent(events.NewMigrationFailedEvent(userID, ns.String(), err))
}

// Stats は統計情報を返す
func (c *Coordinator) Stats() Stats {
	return Stats{
		Attempts:  c.attempts.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
	}
}
