// Package main is the entry point for mongolocust.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/config"
	"github.com/m4nti5/mongolocust/internal/logger"
	"github.com/m4nti5/mongolocust/internal/scenario"
)

var (
	version = "dev"
)

// options はコマンドラインフラグの値
type options struct {
	configFile string
	presetName string
	duration   time.Duration
	users      int
	spawnRate  float64
	backend    string
	uri        string
	logLevel   string
}

func main() {
	// フラグ定義
	var (
		opts        options
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
	)
	flag.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&opts.presetName, "preset", "", "プリセットシナリオ名 (default, read-heavy, write-heavy, migration-storm, quick)")
	flag.DurationVar(&opts.duration, "duration", 0, "シナリオ実行時間 (例: 30s, 5m)")
	flag.IntVar(&opts.users, "users", 0, "同時ユーザー数")
	flag.Float64Var(&opts.spawnRate, "spawn-rate", 0, "1秒あたりのユーザー起動数")
	flag.StringVar(&opts.backend, "backend", "", "ストア (memory, mongo)")
	flag.StringVar(&opts.uri, "uri", "", "mongos の接続URI (CLUSTER_URL より優先)")
	flag.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `mongolocust - Sharded Document Store Workload Driver

Usage:
  mongolocust [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment:
  DB_NAME, COLLECTION_NAME, CLUSTER_URL, DOCS_PER_BATCH,
  INSERT_WEIGHT, FIND_WEIGHT, BULK_INSERT_WEIGHT, UPDATE_WEIGHT, MIGRATION_WEIGHT

Examples:
  # インメモリクラスタでプリセットを実行
  mongolocust --preset quick

  # 実クラスタに対して実行
  CLUSTER_URL=mongodb://mongos:27017 mongolocust --backend mongo --users 20

  # 設定ファイルから実行
  mongolocust --config workload.yaml

  # プリセット一覧を表示
  mongolocust --list-presets
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("mongolocust version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	// シナリオ設定の決定
	scenarioConfig, level, err := buildScenarioConfig(opts, os.LookupEnv)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	logger.Default.SetLevel(level)

	// シナリオ実行
	if err := runScenario(scenarioConfig); err != nil {
		logger.Error("", "シナリオ実行エラー: %v", err)
		os.Exit(1)
	}
}

// buildScenarioConfig はシナリオ設定を構築する
// プリセット、設定ファイル、環境変数、フラグの順に上書きする
func buildScenarioConfig(opts options, lookup config.LookupFunc) (scenario.Config, logger.Level, error) {
	// 1. プリセット（未指定なら default）
	cfg := scenario.DefaultConfig()
	if opts.presetName != "" {
		preset, ok := scenario.GetPreset(opts.presetName)
		if !ok {
			return cfg, logger.LevelInfo, errors.Newf("不明なプリセット: %s (利用可能: %v)", opts.presetName, scenario.ListPresets())
		}
		cfg = preset
	}

	// 2. 設定ファイル
	fileConfig := &config.FileConfig{}
	if opts.configFile != "" {
		loaded, err := config.LoadFile(opts.configFile)
		if err != nil {
			return cfg, logger.LevelInfo, errors.Wrap(err, "設定ファイル読み込みエラー")
		}
		fileConfig = loaded
	}

	// 3. 環境変数
	if err := fileConfig.ApplyEnv(lookup); err != nil {
		return cfg, logger.LevelInfo, errors.Wrap(err, "環境変数エラー")
	}
	if err := fileConfig.Validate(); err != nil {
		return cfg, logger.LevelInfo, errors.Wrap(err, "設定検証エラー")
	}
	cfg, err := fileConfig.Apply(cfg)
	if err != nil {
		return cfg, logger.LevelInfo, errors.Wrap(err, "設定変換エラー")
	}

	// 4. フラグでオーバーライド
	if opts.duration > 0 {
		cfg.Duration = opts.duration
	}
	if opts.users > 0 {
		cfg.Users = opts.users
	}
	if opts.spawnRate > 0 {
		cfg.SpawnRate = opts.spawnRate
	}
	if opts.backend != "" {
		b, err := scenario.ParseBackend(opts.backend)
		if err != nil {
			return cfg, logger.LevelInfo, err
		}
		cfg.Backend = b
	}
	if opts.uri != "" {
		cfg.ClusterURL = opts.uri
	}

	levelName := fileConfig.Workload.LogLevel
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return cfg, logger.LevelInfo, err
	}

	return cfg, level, nil
}

// runScenario はシナリオを実行する
func runScenario(cfg scenario.Config) error {
	fmt.Println("mongolocust - Sharded Document Store Workload Driver")
	fmt.Println("====================================================")
	fmt.Printf("Scenario: %s\n", cfg.Name)
	fmt.Printf("Duration: %v\n", cfg.Duration)
	fmt.Printf("Backend: %s, Namespace: %s\n", cfg.Backend, cfg.Namespace)
	fmt.Printf("Users: %d (spawn rate %.1f/s)\n", cfg.Users, cfg.SpawnRate)
	fmt.Printf("Weights: insert=%d find=%d update=%d bulk=%d migration=%d\n",
		cfg.Weights.Insert, cfg.Weights.Find, cfg.Weights.Update, cfg.Weights.BulkInsert, cfg.Weights.Migration)
	fmt.Println("====================================================")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、シナリオを終了中...")
		cancel()
	}()

	// シナリオ実行
	engine := scenario.New(cfg)
	result, err := engine.Run(ctx)

	// 中断された場合もレポートを出力する
	if result != nil {
		fmt.Println(result.Report())
	}

	return err
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセットシナリオ:")
	fmt.Println()

	for _, name := range scenario.ListPresets() {
		preset, _ := scenario.GetPreset(name)
		fmt.Printf("  %-16s %s\n", name, preset.Description)
	}

	fmt.Println()
	fmt.Println("使用例: mongolocust --preset quick")
}
