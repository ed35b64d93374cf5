package scenario

import (
	"time"

	"golang.org/x/exp/slices"
)

// ReadHeavyScenario は読み取り中心のシナリオを返す
// マイグレーション中の点検索を多く発生させる
func ReadHeavyScenario() Config {
	c := DefaultConfig()
	c.Name = "read-heavy"
	c.Description = "Point reads dominate while chunks keep moving"
	c.Weights = Weights{Insert: 2, Find: 6, Update: 1, BulkInsert: 0, Migration: 1}
	return c
}

// WriteHeavyScenario は書き込み中心のシナリオを返す
func WriteHeavyScenario() Config {
	c := DefaultConfig()
	c.Name = "write-heavy"
	c.Description = "Single and bulk majority writes during migrations"
	c.Users = 20
	c.Weights = Weights{Insert: 4, Find: 1, Update: 2, BulkInsert: 4, Migration: 1}
	return c
}

// MigrationStormScenario はマイグレーションを頻繁に要求するシナリオを返す
// 大半のティックは他ユーザーの移動中でスキップされる
func MigrationStormScenario() Config {
	c := DefaultConfig()
	c.Name = "migration-storm"
	c.Description = "Many users contend for the migration lock"
	c.Users = 30
	c.SpawnRate = 30
	c.Weights = Weights{Insert: 3, Find: 1, Update: 1, BulkInsert: 1, Migration: 5}
	c.Memory.Shards = 4
	c.Memory.ChunksPerShard = 4
	return c
}

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() Config {
	c := DefaultConfig()
	c.Name = "quick"
	c.Description = "Quick test for verification"
	c.Duration = 5 * time.Second
	c.Users = 3
	c.SpawnRate = 3
	c.DocsPerBatch = 10
	c.Memory.MoveDelay = 10 * time.Millisecond
	return c
}

var presets = map[string]func() Config{
	"default":         DefaultConfig,
	"read-heavy":      ReadHeavyScenario,
	"write-heavy":     WriteHeavyScenario,
	"migration-storm": MigrationStormScenario,
	"quick":           QuickScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
