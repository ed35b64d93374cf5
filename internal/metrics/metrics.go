package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"

	"github.com/m4nti5/mongolocust/internal/workload"
)

var _ workload.Recorder = (*Metrics)(nil)

// Config はメトリクスの設定
type Config struct {
	// MaxLatencySamples は P99 計算用に保持するサンプル数（操作ごと）
	MaxLatencySamples int
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxLatencySamples: 1000}
}

// opStats は1操作分の統計
type opStats struct {
	requests  uint64
	failures  uint64
	skipped   uint64
	latencyNs uint64
	latencies []time.Duration
	lastError string
}

// Metrics はリクエストのメトリクスを収集する
type Metrics struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	skippedRequests atomic.Uint64
	totalLatencyNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
	ops               map[string]*opStats
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	if config.MaxLatencySamples <= 0 {
		config.MaxLatencySamples = DefaultConfig().MaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, config.MaxLatencySamples),
		maxLatencySamples: config.MaxLatencySamples,
		ops:               make(map[string]*opStats),
	}
}

// Record は1ティックの結果を記録する
func (m *Metrics) Record(op string, latency time.Duration, outcome workload.Outcome, err error) {
	switch {
	case err != nil:
		m.RecordFailure(op, latency, err)
	case outcome == workload.Skipped:
		m.RecordSkip(op)
	default:
		m.RecordSuccess(op, latency)
	}
}

// opLocked は操作の統計を返す。呼び出し側で mu を保持すること
func (m *Metrics) opLocked(op string) *opStats {
	s, ok := m.ops[op]
	if !ok {
		s = &opStats{}
		m.ops[op] = s
	}
	return s
}

// RecordSuccess は成功したリクエストを記録する
func (m *Metrics) RecordSuccess(op string, latency time.Duration) {
	m.totalRequests.Add(1)
	m.successRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}

	s := m.opLocked(op)
	s.requests++
	s.latencyNs += uint64(latency.Nanoseconds())
	if len(s.latencies) < m.maxLatencySamples {
		s.latencies = append(s.latencies, latency)
	}
}

// RecordFailure は失敗したリクエストを記録する
func (m *Metrics) RecordFailure(op string, latency time.Duration, err error) {
	m.totalRequests.Add(1)
	m.failedRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests++

	s := m.opLocked(op)
	s.requests++
	s.failures++
	s.latencyNs += uint64(latency.Nanoseconds())
	if err != nil {
		s.lastError = err.Error()
	}
}

// RecordSkip は実行されなかったティックを記録する
func (m *Metrics) RecordSkip(op string) {
	m.skippedRequests.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opLocked(op).skipped++
}

// TotalRequests は総リクエスト数を返す（スキップは含まない）
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功リクエスト数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗リクエスト数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// SkippedRequests はスキップされたティック数を返す
func (m *Metrics) SkippedRequests() uint64 {
	return m.skippedRequests.Load()
}

// RPS は現在のRequests Per Secondを返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均RPSを返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return p99(m.latencies)
}

func p99(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// OpSnapshot は1操作分のスナップショット
type OpSnapshot struct {
	Name           string
	Requests       uint64
	Failures       uint64
	Skipped        uint64
	AverageLatency time.Duration
	P99Latency     time.Duration
	LastError      string
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalRequests   uint64
	SuccessRequests uint64
	FailedRequests  uint64
	SkippedRequests uint64
	RPS             float64
	OverallRPS      float64
	AverageLatency  time.Duration
	P99Latency      time.Duration
	ErrorRate       float64
	Elapsed         time.Duration
	Ops             []OpSnapshot
}

// Op は名前で操作のスナップショットを探す
func (s Snapshot) Op(name string) (OpSnapshot, bool) {
	for _, op := range s.Ops {
		if op.Name == name {
			return op, true
		}
	}
	return OpSnapshot{}, false
}

// Snapshot は現在のメトリクスのスナップショットを返す
// Ops は操作名の順に並ぶ
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		SkippedRequests: m.SkippedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(m.startTime),
		Ops:             m.opSnapshots(),
	}
}

func (m *Metrics) opSnapshots() []OpSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]OpSnapshot, 0, len(m.ops))
	for name, s := range m.ops {
		snap := OpSnapshot{
			Name:       name,
			Requests:   s.requests,
			Failures:   s.failures,
			Skipped:    s.skipped,
			P99Latency: p99(s.latencies),
			LastError:  s.lastError,
		}
		if s.requests > 0 {
			snap.AverageLatency = time.Duration(s.latencyNs / s.requests)
		}
		ops = append(ops, snap)
	}
	slices.SortFunc(ops, func(a, b OpSnapshot) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return ops
}
