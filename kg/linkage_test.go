package kg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "Stockholm Chair", b: "Stockholm Chair", want: 1.0},
		{name: "case and whitespace folded", a: "Stockholm Chair", b: "  stockholm chair ", want: 1.0},
		{name: "empty left", a: "", b: "chair", want: 0},
		{name: "empty right", a: "chair", b: "   ", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, similarity(tc.a, tc.b), 1e-9)
		})
	}

	t.Run("close strings score high but below one", func(t *testing.T) {
		score := similarity("Stockholm Chair", "Stockholm Chairs")
		assert.Greater(t, score, 0.9)
		assert.Less(t, score, 1.0)
	})

	t.Run("unrelated strings score low", func(t *testing.T) {
		assert.Less(t, similarity("Stockholm Chair", "Oslo Desk Lamp"), 0.6)
	})
}

func TestMatchValue(t *testing.T) {
	t.Run("configured field wins", func(t *testing.T) {
		e := LinkedEntity{Props: map[string]any{"product_name": "Chair", "name": "ignored"}}
		assert.Equal(t, "Chair", matchValue(e, "product_name"))
	})

	t.Run("falls through to field_name", func(t *testing.T) {
		e := LinkedEntity{Props: map[string]any{"product_name": "Chair"}}
		assert.Equal(t, "Chair", matchValue(e, "product"))
	})

	t.Run("falls back to name", func(t *testing.T) {
		e := LinkedEntity{Props: map[string]any{"name": "Chair"}}
		assert.Equal(t, "Chair", matchValue(e, "product_name"))
	})

	t.Run("empty when nothing matches", func(t *testing.T) {
		e := LinkedEntity{Props: map[string]any{"sku": "X1"}}
		assert.Equal(t, "", matchValue(e, "product_name"))
	})
}

func TestResolveType(t *testing.T) {
	ctx := context.Background()

	t.Run("adopts the best candidate above threshold", func(t *testing.T) {
		store := newFakeGraphStore().
			on("MATCH (n:`__Entity__`)",
				entityRecord("s1", map[string]any{"name": "Stockholm Chair"}),
				entityRecord("s2", map[string]any{"name": "Uppsala Desk"}),
			).
			on("AND NOT n:`__Entity__`",
				entityRecord("d1", map[string]any{"product_name": "stockholm chair "}),
				entityRecord("d2", map[string]any{"product_name": "Malmo Table"}),
			)

		engine := NewLinkageEngine(store, 0.9)
		result, err := engine.ResolveType(ctx, "Product")
		require.NoError(t, err)

		assert.Equal(t, 1, result.Resolved)
		assert.Equal(t, 1, result.Unresolved)
		assert.Empty(t, result.Errors)

		merges := store.queriesContaining("MERGE (subject)-[r:CORRESPONDS_TO]->(object)")
		require.Len(t, merges, 1)
		assert.Equal(t, "s1", merges[0].params["subject_id"])
		assert.Equal(t, "d1", merges[0].params["object_id"])
		assert.InDelta(t, 1.0, merges[0].params["score"].(float64), 1e-9)
	})

	t.Run("no subjects is a no-op", func(t *testing.T) {
		store := newFakeGraphStore()
		engine := NewLinkageEngine(store, 0)

		result, err := engine.ResolveType(ctx, "Product")
		require.NoError(t, err)
		assert.Equal(t, 0, result.Resolved)
		assert.Equal(t, 0, result.Unresolved)
	})

	t.Run("no domain candidates leaves all subjects unresolved", func(t *testing.T) {
		store := newFakeGraphStore().
			on("MATCH (n:`__Entity__`)",
				entityRecord("s1", map[string]any{"name": "Chair"}),
				entityRecord("s2", map[string]any{"name": "Desk"}),
			)
		engine := NewLinkageEngine(store, 0)

		result, err := engine.ResolveType(ctx, "Product")
		require.NoError(t, err)
		assert.Equal(t, 2, result.Unresolved)
		assert.Empty(t, store.queriesContaining("CORRESPONDS_TO"))
	})

	t.Run("below threshold stays unresolved without an edge", func(t *testing.T) {
		store := newFakeGraphStore().
			on("MATCH (n:`__Entity__`)",
				entityRecord("s1", map[string]any{"name": "Stockholm Chair"}),
			).
			on("AND NOT n:`__Entity__`",
				entityRecord("d1", map[string]any{"name": "Oslo Desk Lamp"}),
			)

		engine := NewLinkageEngine(store, 0.6)
		result, err := engine.ResolveType(ctx, "Product")
		require.NoError(t, err)

		assert.Equal(t, 0, result.Resolved)
		assert.Equal(t, 1, result.Unresolved)
		assert.Empty(t, result.Errors)
		assert.Empty(t, store.queriesContaining("CORRESPONDS_TO"))
	})

	t.Run("write failure is recorded as an error only", func(t *testing.T) {
		writeErr := errors.New("boom")
		store := newFakeGraphStore().
			on("MATCH (n:`__Entity__`)",
				entityRecord("s1", map[string]any{"name": "Chair"}),
			).
			on("AND NOT n:`__Entity__`",
				entityRecord("d1", map[string]any{"name": "Chair"}),
			).
			failOn("MERGE (subject)-[r:CORRESPONDS_TO]->(object)", writeErr)

		engine := NewLinkageEngine(store, 0)
		result, err := engine.ResolveType(ctx, "Product")
		require.NoError(t, err)
		assert.Equal(t, 0, result.Resolved)
		assert.Equal(t, 0, result.Unresolved)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "boom")
	})

	t.Run("nil store", func(t *testing.T) {
		engine := &LinkageEngine{}
		_, err := engine.ResolveType(ctx, "Product")
		assert.ErrorIs(t, err, ErrGraphStoreNotConfigured)
	})
}

func TestResolveAll(t *testing.T) {
	store := newFakeGraphStore().
		on("MATCH (n:`__Entity__`)",
			entityRecord("s1", map[string]any{"name": "Acme Corp"}),
		).
		on("AND NOT n:`__Entity__`",
			entityRecord("d1", map[string]any{"name": "Acme Corp"}),
		)

	engine := NewLinkageEngine(store, 0)
	result, err := engine.ResolveAll(context.Background(), []string{"Supplier", "Part"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalCorrespondences)
	assert.Equal(t, 1, result.ResolvedByType["Supplier"])
	assert.Equal(t, 1, result.ResolvedByType["Part"])
	assert.Len(t, result.Types, 2)
}

func TestRemoveAllCorrespondences(t *testing.T) {
	store := newFakeGraphStore().
		on("IN TRANSACTIONS OF 1000 ROWS", countRecord("total", 7))

	engine := NewLinkageEngine(store, 0)
	removed, err := engine.RemoveAllCorrespondences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
}

func TestLinkageStatistics(t *testing.T) {
	store := newFakeGraphStore().
		on("RETURN count(r) AS total_correspondences", Record{
			"total_correspondences": int64(3),
			"avg_similarity":        0.87,
			"min_similarity":        0.62,
			"max_similarity":        1.0,
		}).
		on("WHERE NOT (n)-[:CORRESPONDS_TO]->()",
			Record{"label": "Product", "count": int64(4)},
			Record{"label": "Supplier", "count": int64(1)},
		)

	engine := NewLinkageEngine(store, 0)
	stats, err := engine.Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Correspondences)
	assert.InDelta(t, 0.87, stats.AvgSimilarity, 1e-9)
	assert.InDelta(t, 0.62, stats.MinSimilarity, 1e-9)
	assert.InDelta(t, 1.0, stats.MaxSimilarity, 1e-9)
	assert.Equal(t, int64(4), stats.UnresolvedByType["Product"])
	assert.Equal(t, int64(1), stats.UnresolvedByType["Supplier"])
}
