// Package catalog holds the weighted table of workload operations.
package catalog

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidCatalog は操作テーブルの設定ミスを表す（致命的）
	ErrInvalidCatalog = errors.New("invalid operation catalog")
	// ErrZeroWeight は全操作の重みが0の場合のエラー
	ErrZeroWeight = errors.Mark(errors.New("total operation weight must be positive"), ErrInvalidCatalog)
)

// DefaultDocsPerBatch は一括挿入のドキュメント数の既定値
const DefaultDocsPerBatch = 100

// Kind は操作の種類を表す
type Kind int

const (
	Insert Kind = iota
	Find
	Update
	BulkInsert
	Migrate
)

// Kinds は全操作種別を宣言順で返す
func Kinds() []Kind {
	return []Kind{Insert, Find, Update, BulkInsert, Migrate}
}

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert_single_document"
	case Find:
		return "find_document"
	case Update:
		return "update_document"
	case BulkInsert:
		return "insert_documents_bulk"
	case Migrate:
		return "migrate_chunk"
	default:
		return "unknown"
	}
}

// ParseKind は操作名または短縮名（insert, find, update, bulk_insert, migration）から種別を返す
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert", "insert_single_document":
		return Insert, nil
	case "find", "find_document":
		return Find, nil
	case "update", "update_document":
		return Update, nil
	case "bulk_insert", "insert_documents_bulk":
		return BulkInsert, nil
	case "migration", "migrate", "migrate_chunk":
		return Migrate, nil
	default:
		return 0, errors.Newf("unknown operation kind: %q", s)
	}
}

// Operation は重み付きの操作定義
type Operation struct {
	Kind      Kind
	Weight    int
	BatchSize int // BulkInsert のみ使用
}

// Name は操作名を返す
func (o Operation) Name() string {
	return o.Kind.String()
}

// Rand は選択に使う乱数源
type Rand interface {
	IntN(n int) int
}

// Catalog は実行中に変化しない操作テーブル
type Catalog struct {
	ops        []Operation
	selectable []Operation
	cumulative []int
	total      int
}

// New は操作テーブルを構築する
// 重み0の操作は選択されない。全体の重みが0ならエラー
func New(ops ...Operation) (*Catalog, error) {
	c := &Catalog{ops: make([]Operation, 0, len(ops))}
	seen := make(map[Kind]bool, len(ops))

	for _, op := range ops {
		if op.Kind < Insert || op.Kind > Migrate {
			return nil, errors.Mark(errors.Newf("unknown operation kind %d", int(op.Kind)), ErrInvalidCatalog)
		}
		if seen[op.Kind] {
			return nil, errors.Mark(errors.Newf("duplicate operation %s", op.Kind), ErrInvalidCatalog)
		}
		seen[op.Kind] = true

		if op.Weight < 0 {
			return nil, errors.Mark(errors.Newf("operation %s has negative weight %d", op.Kind, op.Weight), ErrInvalidCatalog)
		}
		if op.Kind == BulkInsert && op.Weight > 0 && op.BatchSize <= 0 {
			return nil, errors.Mark(errors.Newf("operation %s needs a positive batch size, got %d", op.Kind, op.BatchSize), ErrInvalidCatalog)
		}

		c.ops = append(c.ops, op)
		if op.Weight == 0 {
			continue
		}
		c.total += op.Weight
		c.selectable = append(c.selectable, op)
		c.cumulative = append(c.cumulative, c.total)
	}

	if c.total == 0 {
		return nil, ErrZeroWeight
	}
	return c, nil
}

// Default は標準の重み（insert 3, find 1, update 3, bulk 2, migrate 1）のテーブルを返す
func Default(docsPerBatch int) *Catalog {
	if docsPerBatch <= 0 {
		docsPerBatch = DefaultDocsPerBatch
	}
	c, err := New(
		Operation{Kind: Insert, Weight: 3},
		Operation{Kind: Find, Weight: 1},
		Operation{Kind: Update, Weight: 3},
		Operation{Kind: BulkInsert, Weight: 2, BatchSize: docsPerBatch},
		Operation{Kind: Migrate, Weight: 1},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Pick は重みに従って操作を1つ選ぶ
// [0, total) の一様乱数を累積重みテーブルで二分探索する
func (c *Catalog) Pick(r Rand) Operation {
	target := r.IntN(c.total)
	idx := sort.Search(len(c.cumulative), func(i int) bool {
		return c.cumulative[i] > target
	})
	return c.selectable[idx]
}

// Operations は登録された全操作（重み0を含む）を返す
func (c *Catalog) Operations() []Operation {
	out := make([]Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

// Lookup は種別から操作定義を返す
func (c *Catalog) Lookup(kind Kind) (Operation, bool) {
	for _, op := range c.ops {
		if op.Kind == kind {
			return op, true
		}
	}
	return Operation{}, false
}

// TotalWeight は重みの総和を返す
func (c *Catalog) TotalWeight() int {
	return c.total
}

// Probability は種別が選ばれる確率を返す
func (c *Catalog) Probability(kind Kind) float64 {
	op, ok := c.Lookup(kind)
	if !ok {
		return 0
	}
	return float64(op.Weight) / float64(c.total)
}
