package scenario

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/m4nti5/mongolocust/internal/memstore"
	"github.com/m4nti5/mongolocust/internal/mongostore"
	"github.com/m4nti5/mongolocust/internal/store"
)

// Backend はワークロードの対象ストア
type Backend string

const (
	// BackendMemory はプロセス内のシャードクラスタ
	BackendMemory Backend = "memory"
	// BackendMongo は mongos 経由の実クラスタ
	BackendMongo Backend = "mongo"
)

// ParseBackend は名前からバックエンドを返す
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendMemory, BackendMongo:
		return b, nil
	case "mongodb":
		return BackendMongo, nil
	default:
		return "", errors.Newf("unknown backend %q", s)
	}
}

func openStore(ctx context.Context, config Config) (store.Store, error) {
	switch config.Backend {
	case BackendMemory, "":
		cluster := memstore.New(config.Memory)
		if err := cluster.CreateShards(config.Memory.Shards, "shard"); err != nil {
			return nil, err
		}
		if err := cluster.StartAll(); err != nil {
			return nil, err
		}
		return cluster, nil
	case BackendMongo:
		client, err := mongostore.Connect(ctx, mongostore.DefaultConfig(config.ClusterURL))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, errors.Newf("unknown backend %q", config.Backend)
	}
}
