// Package keycache provides the bounded reservoir of shard key values a
// simulated user keeps to target its reads and updates.
package keycache

// DefaultCapacity はキャッシュするIDの既定数
const DefaultCapacity = 10000

// Rand はキャッシュが使う乱数源（math/rand/v2 の *rand.Rand を想定）
type Rand interface {
	IntN(n int) int
}

// Cache は固定容量のIDリザーバ
// 満杯後の Record はランダムなスロットを上書きする
// 1ユーザー専用で、並行利用には対応しない
type Cache struct {
	ids      []int64
	capacity int
	rng      Rand
}

// New は新しいキャッシュを作成する
// capacity が 0 以下の場合は DefaultCapacity を使用
func New(capacity int, rng Rand) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		ids:      make([]int64, 0, capacity),
		capacity: capacity,
		rng:      rng,
	}
}

// Record はIDを記録する
func (c *Cache) Record(id int64) {
	if len(c.ids) < c.capacity {
		c.ids = append(c.ids, id)
		return
	}
	c.ids[c.rng.IntN(c.capacity)] = id
}

// Sample はランダムに1つIDを返す。空なら false
func (c *Cache) Sample() (int64, bool) {
	if len(c.ids) == 0 {
		return 0, false
	}
	return c.ids[c.rng.IntN(len(c.ids))], true
}

// Len は現在の要素数を返す
func (c *Cache) Len() int {
	return len(c.ids)
}

// Cap は容量を返す
func (c *Cache) Cap() int {
	return c.capacity
}

// Reset は全要素を破棄する
func (c *Cache) Reset() {
	c.ids = c.ids[:0]
}

// Contains はIDが含まれているかを返す
func (c *Cache) Contains(id int64) bool {
	for _, v := range c.ids {
		if v == id {
			return true
		}
	}
	return false
}
