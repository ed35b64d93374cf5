package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/logger"
)

// User はプールが実行する長寿命のユーザー
// Run は ctx が終わるまで戻らないのが通常で、戻り値のエラーは致命的かどうかで扱いが変わる
type User interface {
	Run(ctx context.Context) error
}

// UserFunc は関数を User として使うためのアダプタ
type UserFunc func(ctx context.Context) error

// Run は f(ctx) を呼ぶ
func (f UserFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Factory は i 番目（0始まり）のユーザーを作成する
type Factory func(i int) (User, error)

// PoolConfig はプールの設定
type PoolConfig struct {
	Users     int     // ユーザー数
	SpawnRate float64 // 1秒あたりの起動数（0以下で一斉に起動）
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Users:     10,
		SpawnRate: 10,
	}
}

// Option はプールの任意設定
type Option func(*Pool)

// WithFatal は実行全体を止めるエラーの判定関数を指定する
// 指定しない場合、ユーザーのエラーはすべて致命的として扱う
func WithFatal(isFatal func(error) bool) Option {
	return func(p *Pool) { p.isFatal = isFatal }
}

// Pool はユーザーのゴルーチンを管理する
type Pool struct {
	config  PoolConfig
	factory Factory
	isFatal func(error) bool

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu      sync.Mutex

	spawned atomic.Int64
	active  atomic.Int64

	err error
}

// NewPool は新しいプールを作成する
func NewPool(config PoolConfig, factory Factory, opts ...Option) *Pool {
	if config.Users < 0 {
		config.Users = 0
	}
	p := &Pool{
		config:  config,
		factory: factory,
		isFatal: func(error) bool { return true },
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start はユーザーの起動を開始する。起動は SpawnRate に従って非同期に進む
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	p.wg.Add(1)
	go p.spawn()
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	logger.Info("", "Spawning %d users at %.1f users/s", p.config.Users, p.config.SpawnRate)
}

// spawnInterval はユーザー起動の間隔を返す
func (p *Pool) spawnInterval() time.Duration {
	if p.config.SpawnRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.config.SpawnRate)
}

func (p *Pool) spawn() {
	defer p.wg.Done()

	interval := p.spawnInterval()
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for i := range p.config.Users {
		if i > 0 && ticker != nil {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
			}
		} else if p.ctx.Err() != nil {
			return
		}

		u, err := p.factory(i)
		if err != nil {
			p.fail(errors.Wrapf(err, "create user %d", i))
			return
		}

		p.spawned.Add(1)
		p.wg.Add(1)
		go p.run(i, u)
	}

	logger.Debug("", "All %d users spawned", p.spawned.Load())
}

func (p *Pool) run(i int, u User) {
	defer p.wg.Done()
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.fail(errors.Newf("user %d panicked: %v", i, r))
		}
	}()

	err := u.Run(p.ctx)
	if err == nil {
		return
	}
	if p.isFatal(err) {
		p.fail(err)
		return
	}
	logger.Warn(fmt.Sprintf("user-%d", i+1), "Stopped: %v", err)
}

// fail は最初の致命的エラーを記録し、全ユーザーを止める
func (p *Pool) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
		logger.Error("", "Stopping all users: %v", err)
	}
	p.mu.Unlock()
	p.cancel()
}

// Done は全ユーザーが終了したら閉じられるチャネルを返す
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Wait は全ユーザーの終了を待ち、最初の致命的エラーを返す
func (p *Pool) Wait() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	<-p.done
	return p.Err()
}

// Err は記録された致命的エラーを返す
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop は全ユーザーを止めて終了を待つ
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done

	logger.Info("", "Stopped %d users", p.spawned.Load())
}

// Users は設定されたユーザー数を返す
func (p *Pool) Users() int {
	return p.config.Users
}

// Spawned は起動済みのユーザー数を返す
func (p *Pool) Spawned() int {
	return int(p.spawned.Load())
}

// Active は実行中のユーザー数を返す
func (p *Pool) Active() int {
	return int(p.active.Load())
}
