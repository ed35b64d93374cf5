package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/store"
)

// Status はシャードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// ErrShardNotRunning は停止中のシャードへの操作を表す
var ErrShardNotRunning = errors.New("shard is not running")

// Shard はドキュメントを保持する1つのデータノード
type Shard struct {
	id      string
	host    string
	status  Status
	latency time.Duration

	mu   sync.RWMutex
	data map[string]map[int64]store.Document // namespace -> id -> document
}

// NewShard は新しいシャードを作成する
func NewShard(id string) *Shard {
	return &Shard{
		id:     id,
		host:   id + ".local:27018",
		status: StatusStopped,
		data:   make(map[string]map[int64]store.Document),
	}
}

// ID はシャードIDを返す
func (s *Shard) ID() string {
	return s.id
}

// Host はシャードのホスト名を返す
func (s *Shard) Host() string {
	return s.host
}

// Start はシャードを起動する
func (s *Shard) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return errors.Newf("shard %s is already running", s.id)
	}
	s.status = StatusRunning

	logger.Debug(s.id, "Shard started")
	return nil
}

// Stop はシャードを停止する
func (s *Shard) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStopped {
		return errors.Newf("shard %s is already stopped", s.id)
	}
	s.status = StatusStopped

	logger.Debug(s.id, "Shard stopped")
	return nil
}

// Status はシャードの現在のステータスを返す
func (s *Shard) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetLatency は各操作に加える遅延を設定する
func (s *Shard) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// applyLatency は設定された遅延を適用する
func (s *Shard) applyLatency(ctx context.Context) error {
	s.mu.RLock()
	d := s.latency
	s.mu.RUnlock()

	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// put はドキュメントを書き込む（同じ id は上書き）
func (s *Shard) put(ctx context.Context, ns string, doc store.Document) error {
	if err := s.applyLatency(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return errors.Wrapf(ErrShardNotRunning, "%s", s.id)
	}
	docs, ok := s.data[ns]
	if !ok {
		docs = make(map[int64]store.Document)
		s.data[ns] = docs
	}
	docs[doc.ID] = doc
	return nil
}

// get は id でドキュメントを取得する
func (s *Shard) get(ctx context.Context, ns string, id int64) (store.Document, bool, error) {
	if err := s.applyLatency(ctx); err != nil {
		return store.Document{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != StatusRunning {
		return store.Document{}, false, errors.Wrapf(ErrShardNotRunning, "%s", s.id)
	}
	doc, ok := s.data[ns][id]
	return doc, ok, nil
}

// update は一致するドキュメントがあれば更新する。upsert はしない
func (s *Shard) update(ctx context.Context, ns string, id int64, set map[string]any) (bool, error) {
	if err := s.applyLatency(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return false, errors.Wrapf(ErrShardNotRunning, "%s", s.id)
	}
	doc, ok := s.data[ns][id]
	if !ok {
		return false, nil
	}
	if err := applySet(&doc, set); err != nil {
		return false, err
	}
	s.data[ns][id] = doc
	return true, nil
}

// extract は範囲内のドキュメントを取り出して削除する
func (s *Shard) extract(ns string, inRange func(id int64) bool) []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Document
	for id, doc := range s.data[ns] {
		if inRange(id) {
			out = append(out, doc)
			delete(s.data[ns], id)
		}
	}
	return out
}

// load はドキュメントをまとめて受け取る
func (s *Shard) load(ns string, docs []store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return errors.Wrapf(ErrShardNotRunning, "%s", s.id)
	}
	m, ok := s.data[ns]
	if !ok {
		m = make(map[int64]store.Document, len(docs))
		s.data[ns] = m
	}
	for _, doc := range docs {
		m[doc.ID] = doc
	}
	return nil
}

// Count は名前空間内のドキュメント数を返す
func (s *Shard) Count(ns string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[ns])
}

// applySet は $set をドキュメントに適用する
func applySet(doc *store.Document, set map[string]any) error {
	for field, value := range set {
		var ok bool
		switch field {
		case "id":
			return errors.New("shard key field id is immutable")
		case "first_name":
			doc.FirstName, ok = value.(string)
		case "last_name":
			doc.LastName, ok = value.(string)
		case "address":
			doc.Address, ok = value.(string)
		case "city":
			doc.City, ok = value.(string)
		case "total_assets":
			doc.TotalAssets, ok = value.(float64)
		case "updated":
			doc.Updated, ok = value.(bool)
		default:
			return errors.Newf("unsupported field %q", field)
		}
		if !ok {
			return errors.Newf("field %q: unexpected value type %T", field, value)
		}
	}
	return nil
}
