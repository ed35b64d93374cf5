// Package scenario は負荷シナリオの実行機能を提供する。
//
// シナリオエンジンはストア（memory または mongo）、MigrationCoordinator、
// ユーザープール、メトリクスを組み立て、指定時間だけワークロードを流す。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成（操作別統計、マイグレーション統計、シャード状態）
//
// # プリセットシナリオ
//
// - default: 標準の重み（3/1/3/2/1）
// - read-heavy: 点検索中心
// - write-heavy: 単発・一括の majority 書き込み中心
// - migration-storm: 多数のユーザーがマイグレーションのロックを奪い合う
// - quick: 短時間の動作確認
//
// # 使用例
//
//	config := scenario.MigrationStormScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if result != nil {
//	    fmt.Println(result.Report())
//	}
//	if err != nil {
//	    log.Fatal(err)
//	}
package scenario
