// Package docgen generates random sample documents.
package docgen

import (
	"math"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/m4nti5/mongolocust/internal/store"
)

// Generator はランダムなドキュメントを生成する
// 1ユーザー専用で、並行利用には対応しない
type Generator struct {
	faker *gofakeit.Faker
}

// New は新しいGeneratorを作成する。seed が 0 ならランダムなシードを使う
func New(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Document は新しいサンプルドキュメントを返す
// id は符号付き64bit全域から選ぶので、1回の実行内では実質的に一意になる
func (g *Generator) Document() store.Document {
	return store.Document{
		ID:          g.faker.Int64(),
		FirstName:   g.faker.FirstName(),
		LastName:    g.faker.LastName(),
		Address:     g.faker.Street(),
		City:        g.faker.City(),
		TotalAssets: math.Round(g.faker.Float64Range(100, 1000)*100) / 100,
	}
}

// Documents は n 件のドキュメントを返す
func (g *Generator) Documents(n int) []store.Document {
	docs := make([]store.Document, n)
	for i := range docs {
		docs[i] = g.Document()
	}
	return docs
}
