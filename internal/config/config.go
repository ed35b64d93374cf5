package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/scenario"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Workload WorkloadConfig `yaml:"workload" json:"workload"`
}

// WorkloadConfig はワークロード設定
// 数値の 0 と空文字列は「未指定」として扱う（重みだけは 0 を指定できる）
type WorkloadConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Duration    string  `yaml:"duration" json:"duration"`
	Users       int     `yaml:"users" json:"users"`
	SpawnRate   float64 `yaml:"spawn_rate" json:"spawn_rate"`
	Seed        uint64  `yaml:"seed" json:"seed"`
	LogLevel    string  `yaml:"log_level" json:"log_level"`

	Backend        string `yaml:"backend" json:"backend"`
	ClusterURL     string `yaml:"cluster_url" json:"cluster_url"`
	DBName         string `yaml:"db_name" json:"db_name"`
	CollectionName string `yaml:"collection_name" json:"collection_name"`

	DocsPerBatch  int `yaml:"docs_per_batch" json:"docs_per_batch"`
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`

	Weights WeightsConfig `yaml:"weights" json:"weights"`
	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
}

// WeightsConfig は操作ごとの重み。nil は未指定
type WeightsConfig struct {
	Insert     *int `yaml:"insert" json:"insert"`
	Find       *int `yaml:"find" json:"find"`
	Update     *int `yaml:"update" json:"update"`
	BulkInsert *int `yaml:"bulk_insert" json:"bulk_insert"`
	Migration  *int `yaml:"migration" json:"migration"`
}

// MemoryConfig はインメモリクラスタの設定
type MemoryConfig struct {
	Shards         int    `yaml:"shards" json:"shards"`
	ChunksPerShard int    `yaml:"chunks_per_shard" json:"chunks_per_shard"`
	MoveDelay      string `yaml:"move_delay" json:"move_delay"`
	ShardLatency   string `yaml:"shard_latency" json:"shard_latency"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML")
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON")
		}
	default:
		return nil, errors.Newf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// LookupFunc は環境変数の参照関数（os.LookupEnv と同じ形）
type LookupFunc func(key string) (string, bool)

// 環境変数名
const (
	EnvDBName           = "DB_NAME"
	EnvCollectionName   = "COLLECTION_NAME"
	EnvClusterURL       = "CLUSTER_URL"
	EnvDocsPerBatch     = "DOCS_PER_BATCH"
	EnvInsertWeight     = "INSERT_WEIGHT"
	EnvFindWeight       = "FIND_WEIGHT"
	EnvBulkInsertWeight = "BULK_INSERT_WEIGHT"
	EnvUpdateWeight     = "UPDATE_WEIGHT"
	EnvMigrationWeight  = "MIGRATION_WEIGHT"
)

// ApplyEnv は環境変数で設定を上書きする。空の値は無視する
// 起動時に1度だけ呼び、以後の設定は不変として扱う
func (f *FileConfig) ApplyEnv(lookup LookupFunc) error {
	w := &f.Workload
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strs := []struct {
		key string
		dst *string
	}{
		{EnvDBName, &w.DBName},
		{EnvCollectionName, &w.CollectionName},
		{EnvClusterURL, &w.ClusterURL},
	}
	for _, s := range strs {
		if v, ok := get(s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := get(EnvDocsPerBatch); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvDocsPerBatch)
		}
		w.DocsPerBatch = n
	}

	weights := []struct {
		key string
		dst **int
	}{
		{EnvInsertWeight, &w.Weights.Insert},
		{EnvFindWeight, &w.Weights.Find},
		{EnvBulkInsertWeight, &w.Weights.BulkInsert},
		{EnvUpdateWeight, &w.Weights.Update},
		{EnvMigrationWeight, &w.Weights.Migration},
	}
	for _, wt := range weights {
		v, ok := get(wt.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", wt.key)
		}
		*wt.dst = &n
	}

	return nil
}

// ToScenarioConfig はFileConfigをデフォルト設定に重ねてscenario.Configに変換する
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	return f.Apply(scenario.DefaultConfig())
}

// Apply は指定された項目だけを base に上書きする
func (f *FileConfig) Apply(base scenario.Config) (scenario.Config, error) {
	wc := f.Workload
	config := base

	if wc.Name != "" {
		config.Name = wc.Name
	}
	if wc.Description != "" {
		config.Description = wc.Description
	}
	if wc.Duration != "" {
		d, err := time.ParseDuration(wc.Duration)
		if err != nil {
			return config, errors.Wrap(err, "invalid duration")
		}
		config.Duration = d
	}
	if wc.Users > 0 {
		config.Users = wc.Users
	}
	if wc.SpawnRate > 0 {
		config.SpawnRate = wc.SpawnRate
	}
	if wc.Seed != 0 {
		config.Seed = wc.Seed
	}

	// ストア設定
	if wc.Backend != "" {
		b, err := scenario.ParseBackend(wc.Backend)
		if err != nil {
			return config, err
		}
		config.Backend = b
	}
	if wc.ClusterURL != "" {
		config.ClusterURL = wc.ClusterURL
	}
	if wc.DBName != "" {
		config.Namespace.Database = wc.DBName
	}
	if wc.CollectionName != "" {
		config.Namespace.Collection = wc.CollectionName
	}

	// ワークロード設定
	if wc.DocsPerBatch > 0 {
		config.DocsPerBatch = wc.DocsPerBatch
	}
	if wc.CacheCapacity > 0 {
		config.CacheCapacity = wc.CacheCapacity
	}
	applyWeight(&config.Weights.Insert, wc.Weights.Insert)
	applyWeight(&config.Weights.Find, wc.Weights.Find)
	applyWeight(&config.Weights.Update, wc.Weights.Update)
	applyWeight(&config.Weights.BulkInsert, wc.Weights.BulkInsert)
	applyWeight(&config.Weights.Migration, wc.Weights.Migration)

	// Memory設定
	if wc.Memory.Shards > 0 {
		config.Memory.Shards = wc.Memory.Shards
	}
	if wc.Memory.ChunksPerShard > 0 {
		config.Memory.ChunksPerShard = wc.Memory.ChunksPerShard
	}
	if wc.Memory.MoveDelay != "" {
		d, err := time.ParseDuration(wc.Memory.MoveDelay)
		if err != nil {
			return config, errors.Wrap(err, "invalid memory.move_delay")
		}
		config.Memory.MoveDelay = d
	}
	if wc.Memory.ShardLatency != "" {
		d, err := time.ParseDuration(wc.Memory.ShardLatency)
		if err != nil {
			return config, errors.Wrap(err, "invalid memory.shard_latency")
		}
		config.Memory.ShardLatency = d
	}

	return config, nil
}

func applyWeight(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	wc := f.Workload

	if wc.Users < 0 {
		return errors.New("users must be non-negative")
	}
	if wc.SpawnRate < 0 {
		return errors.New("spawn_rate must be non-negative")
	}
	if wc.DocsPerBatch < 0 {
		return errors.New("docs_per_batch must be non-negative")
	}
	if wc.CacheCapacity < 0 {
		return errors.New("cache_capacity must be non-negative")
	}
	if wc.Memory.Shards < 0 {
		return errors.New("memory.shards must be non-negative")
	}
	if wc.Memory.ChunksPerShard < 0 {
		return errors.New("memory.chunks_per_shard must be non-negative")
	}

	weights := []struct {
		name string
		v    *int
	}{
		{"weights.insert", wc.Weights.Insert},
		{"weights.find", wc.Weights.Find},
		{"weights.update", wc.Weights.Update},
		{"weights.bulk_insert", wc.Weights.BulkInsert},
		{"weights.migration", wc.Weights.Migration},
	}
	for _, w := range weights {
		if w.v != nil && *w.v < 0 {
			return errors.Newf("%s must be non-negative", w.name)
		}
	}

	if wc.Backend != "" {
		if _, err := scenario.ParseBackend(wc.Backend); err != nil {
			return err
		}
	}
	if wc.LogLevel != "" {
		if _, err := logger.ParseLevel(wc.LogLevel); err != nil {
			return err
		}
	}

	return nil
}
