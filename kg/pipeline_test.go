package kg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePipelineFixtures populates a data directory with a small supply chain
// dataset: two entity tables, an association table, and a product review.
func writePipelineFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "products.csv",
		"product_id,product_name,price\n"+
			"p-1,Stockholm Chair,149.00\n"+
			"p-2,Uppsala Desk,299.00\n")
	writeTestFile(t, dir, "suppliers.csv",
		"supplier_id,name,city\n"+
			"s-1,Nordic Wood,Stockholm\n"+
			"s-2,Baltic Timber,Riga\n")
	writeTestFile(t, dir, "assemblies.csv",
		"assembly_id,assembly_name\n"+
			"a-1,Chair Frame\n"+
			"a-2,Desk Top\n")
	writeTestFile(t, dir, "product_to_supplier_mapping.csv",
		"product_id,supplier_id,lead_time_days\n"+
			"p-1,s-1,14\n"+
			"p-2,s-2,30\n")
	writeTestFile(t, dir, "chair_review.md",
		"# Stockholm Chair Review\n\nRating: 2 stars. The product arrived with a quality defect in one leg.\n")
	return dir
}

func reviewExtraction() *Extraction {
	return &Extraction{
		Entities: []ExtractedEntity{
			{Type: "Issue", Name: "wobbly leg"},
		},
		ChunkEntities: map[string][]string{},
	}
}

func TestPipelineBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("full run succeeds and persists artifacts", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		store := newFakeGraphStore()
		artifacts := &LocalArtifactStore{Root: t.TempDir()}
		ledger := &ArtifactRunLedger{Store: artifacts}
		extractor := &stubExtractor{extraction: reviewExtraction()}

		p := NewPipeline(store, dataDir, artifacts,
			WithExtractor(extractor),
			WithLedger(ledger),
		)

		result, err := p.Build(ctx, BuildRequest{})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, "success", result.Status)
		assert.Equal(t, PhaseComplete, result.Phase)
		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, DiscoveredFiles{TabularCount: 4, TextCount: 1}, result.DiscoveredFiles)

		require.NotNil(t, result.Goal)
		assert.Equal(t, "supply chain analysis", result.Goal.KindOfGraph)

		require.NotNil(t, result.FileSelection)
		assert.Equal(t, 4, result.FileSelection.SelectedTabular)
		assert.Equal(t, 1, result.FileSelection.SelectedText)

		require.NotNil(t, result.Schema)
		assert.Equal(t, 3, result.Schema.NodesPlanned)
		assert.Equal(t, 1, result.Schema.RelationshipsPlanned)

		require.NotNil(t, result.Domain)
		assert.Equal(t, []string{"Assembly", "Product", "Supplier"}, result.Domain.NodesCreated)
		assert.Equal(t, []string{"SUPPLIED_BY"}, result.Domain.RelationshipsCreated)

		require.NotNil(t, result.Subject)
		assert.Len(t, result.Subject.FilesProcessed, 1)
		assert.Equal(t, 1, extractor.calls)

		require.NotNil(t, result.Resolution)
		require.NotNil(t, result.FinalStatistics)
		assert.False(t, result.EndTime.Before(result.StartTime))
		assert.GreaterOrEqual(t, result.ExecutionSeconds, 0.0)

		for _, key := range []string{ArtifactGoal, ArtifactFileSelection, ArtifactConstructionPlan, ArtifactExtractionPlan} {
			exists, err := ArtifactExists(ctx, artifacts, key)
			require.NoError(t, err)
			assert.True(t, exists, key)
		}

		doc, err := ledger.Get(ctx, result.RunID)
		require.NoError(t, err)
		assert.Equal(t, "success", doc.Result.Status)
		assert.Equal(t, result.RunID, doc.Result.RunID)
	})

	t.Run("persisted goal is reused on the next run", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		artifacts := &LocalArtifactStore{Root: t.TempDir()}

		seeded := Goal{
			KindOfGraph:     "warranty claim analysis",
			PrimaryEntities: []string{"Product", "Supplier"},
			Timestamp:       time.Now().UTC(),
		}
		_, err := SaveArtifact(ctx, artifacts, ArtifactGoal, seeded)
		require.NoError(t, err)

		p := NewPipeline(newFakeGraphStore(), dataDir, artifacts)
		result, err := p.Build(ctx, BuildRequest{})
		require.NoError(t, err)

		assert.Equal(t, "success", result.Status)
		assert.Equal(t, "warranty claim analysis", result.Goal.KindOfGraph)
	})

	t.Run("force regenerate ignores persisted plans", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		artifacts := &LocalArtifactStore{Root: t.TempDir()}

		_, err := SaveArtifact(ctx, artifacts, ArtifactGoal, Goal{KindOfGraph: "warranty claim analysis"})
		require.NoError(t, err)

		p := NewPipeline(newFakeGraphStore(), dataDir, artifacts)
		result, err := p.Build(ctx, BuildRequest{ForceRegeneratePlans: true})
		require.NoError(t, err)

		assert.Equal(t, "supply chain analysis", result.Goal.KindOfGraph)

		var persisted Goal
		_, err = LoadArtifact(ctx, artifacts, ArtifactGoal, &persisted)
		require.NoError(t, err)
		assert.Equal(t, "supply chain analysis", persisted.KindOfGraph)
	})

	t.Run("held lease blocks the build", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		mgr := NewInMemoryRunLeaseManager()

		p := NewPipeline(newFakeGraphStore(), dataDir, &LocalArtifactStore{Root: t.TempDir()},
			WithLeaseManager(mgr),
		)

		_, err := mgr.Acquire(ctx, p.DatasetID, time.Minute)
		require.NoError(t, err)

		result, err := p.Build(ctx, BuildRequest{})
		assert.ErrorIs(t, err, ErrRunLeaseConflict)
		assert.Nil(t, result)
	})

	t.Run("lease is released after the build", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		mgr := NewInMemoryRunLeaseManager()

		p := NewPipeline(newFakeGraphStore(), dataDir, &LocalArtifactStore{Root: t.TempDir()},
			WithLeaseManager(mgr),
		)

		_, err := p.Build(ctx, BuildRequest{})
		require.NoError(t, err)

		lease, err := mgr.Acquire(ctx, p.DatasetID, time.Minute)
		require.NoError(t, err)
		require.NoError(t, mgr.Release(ctx, lease))
	})

	t.Run("limit text files caps subject ingestion", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		writeTestFile(t, dataDir, "desk_review.md",
			"# Uppsala Desk Review\n\nRating: 4 stars. Solid desk, minor scratch on the product surface.\n")

		extractor := &stubExtractor{extraction: reviewExtraction()}
		p := NewPipeline(newFakeGraphStore(), dataDir, &LocalArtifactStore{Root: t.TempDir()},
			WithExtractor(extractor),
		)

		result, err := p.Build(ctx, BuildRequest{LimitTextFiles: 1})
		require.NoError(t, err)

		assert.Equal(t, 2, result.FileSelection.SelectedText)
		require.NotNil(t, result.Subject)
		assert.Len(t, result.Subject.FilesProcessed, 1)
		assert.Equal(t, 1, extractor.calls)
	})

	t.Run("phase failure is recorded not returned", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		store := newFakeGraphStore()
		store.failOn("MATCH (n) RETURN count(n)", assert.AnError)
		artifacts := &LocalArtifactStore{Root: t.TempDir()}
		ledger := &ArtifactRunLedger{Store: artifacts}

		p := NewPipeline(store, dataDir, artifacts, WithLedger(ledger))
		result, err := p.Build(ctx, BuildRequest{})
		require.NoError(t, err)

		assert.Equal(t, "error", result.Status)
		assert.Contains(t, result.Error, "final statistics")
		assert.NotEmpty(t, result.Trace)
		assert.Equal(t, PhaseEntitiesResolved, result.Phase)

		doc, err := ledger.Get(ctx, result.RunID)
		require.NoError(t, err)
		assert.Equal(t, "error", doc.Result.Status)
	})

	t.Run("reset wipes schema and data first", func(t *testing.T) {
		dataDir := writePipelineFixtures(t)
		store := newFakeGraphStore()
		store.on("SHOW CONSTRAINTS YIELD name", Record{"name": "old_constraint"})
		store.on("SHOW INDEXES YIELD name", Record{"name": "old_index"})

		p := NewPipeline(store, dataDir, &LocalArtifactStore{Root: t.TempDir()})
		_, err := p.Build(ctx, BuildRequest{Reset: true})
		require.NoError(t, err)

		assert.Len(t, store.queriesContaining("DROP CONSTRAINT `old_constraint` IF EXISTS"), 1)
		assert.Len(t, store.queriesContaining("DROP INDEX `old_index` IF EXISTS"), 1)
		assert.Len(t, store.queriesContaining("IN TRANSACTIONS OF 10000 ROWS"), 1)
	})
}

func TestResetGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("requires confirmation", func(t *testing.T) {
		p := NewPipeline(newFakeGraphStore(), t.TempDir(), &LocalArtifactStore{Root: t.TempDir()})
		assert.ErrorIs(t, p.ResetGraph(ctx, false), ErrResetNotConfirmed)
	})

	t.Run("requires a store", func(t *testing.T) {
		p := &Pipeline{}
		assert.ErrorIs(t, p.ResetGraph(ctx, true), ErrGraphStoreNotConfigured)
	})
}
