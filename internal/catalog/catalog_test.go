package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{Insert, "insert_single_document"},
		{Find, "find_document"},
		{Update, "update_document"},
		{BulkInsert, "insert_documents_bulk"},
		{Migrate, "migrate_chunk"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.kind.String())
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("Bulk_Insert")
	require.NoError(t, err)
	assert.Equal(t, BulkInsert, got)

	got, err = ParseKind("migration")
	require.NoError(t, err)
	assert.Equal(t, Migrate, got)

	_, err = ParseKind("aggregate")
	assert.Error(t, err)
}

func TestNewRejectsZeroTotal(t *testing.T) {
	_, err := New(
		Operation{Kind: Insert, Weight: 0},
		Operation{Kind: Find, Weight: 0},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrZeroWeight))
	assert.True(t, errors.Is(err, ErrInvalidCatalog))

	_, err = New()
	assert.True(t, errors.Is(err, ErrZeroWeight))
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
	}{
		{"negative weight", []Operation{{Kind: Insert, Weight: -1}, {Kind: Find, Weight: 1}}},
		{"duplicate", []Operation{{Kind: Insert, Weight: 1}, {Kind: Insert, Weight: 2}}},
		{"bulk without batch", []Operation{{Kind: BulkInsert, Weight: 1}}},
		{"unknown kind", []Operation{{Kind: Kind(42), Weight: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ops...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCatalog))
		})
	}
}

func TestZeroWeightNeverPicked(t *testing.T) {
	c, err := New(
		Operation{Kind: Insert, Weight: 1},
		Operation{Kind: Migrate, Weight: 0},
		Operation{Kind: BulkInsert, Weight: 0},
	)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 7))
	for range 1000 {
		assert.Equal(t, Insert, c.Pick(rng).Kind)
	}
	assert.Len(t, c.Operations(), 3)
	assert.Zero(t, c.Probability(Migrate))
}

func TestWeightedSelectionConverges(t *testing.T) {
	c := Default(100)
	require.Equal(t, 10, c.TotalWeight())

	const ticks = 100000
	rng := rand.New(rand.NewPCG(42, 1))
	counts := make(map[Kind]int)
	for range ticks {
		counts[c.Pick(rng).Kind]++
	}

	for _, op := range c.Operations() {
		want := float64(op.Weight) / float64(c.TotalWeight())
		got := float64(counts[op.Kind]) / ticks
		assert.InDelta(t, want, got, 0.01, "%s share", op.Kind)
	}
}

func TestInsertShareScenario(t *testing.T) {
	c := Default(100)
	rng := rand.New(rand.NewPCG(3, 9))

	inserts := 0
	for range 10000 {
		if c.Pick(rng).Kind == Insert {
			inserts++
		}
	}
	assert.InDelta(t, 0.30, float64(inserts)/10000, 0.03)
}

func TestDeclarationOrderDoesNotMatter(t *testing.T) {
	forward, err := New(
		Operation{Kind: Insert, Weight: 1},
		Operation{Kind: Find, Weight: 1},
	)
	require.NoError(t, err)
	backward, err := New(
		Operation{Kind: Find, Weight: 1},
		Operation{Kind: Insert, Weight: 1},
	)
	require.NoError(t, err)

	share := func(c *Catalog) float64 {
		rng := rand.New(rand.NewPCG(11, 13))
		n := 0
		for range 20000 {
			if c.Pick(rng).Kind == Insert {
				n++
			}
		}
		return float64(n) / 20000
	}

	assert.InDelta(t, 0.5, share(forward), 0.02)
	assert.InDelta(t, 0.5, share(backward), 0.02)
}

func TestLookup(t *testing.T) {
	c := Default(25)

	op, ok := c.Lookup(BulkInsert)
	require.True(t, ok)
	assert.Equal(t, 25, op.BatchSize)
	assert.Equal(t, "insert_documents_bulk", op.Name())
	assert.InDelta(t, 0.2, c.Probability(BulkInsert), 1e-9)
}
