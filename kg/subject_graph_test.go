package kg

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExtractor returns a fixed extraction for any chunk batch.
type stubExtractor struct {
	extraction *Extraction
	err        error
	calls      int
}

func (s *stubExtractor) Extract(ctx context.Context, chunks []TextChunk, plan ExtractionPlan) (*Extraction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.extraction, nil
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "Stockholm Chair Review",
		documentTitle("reviews/chair.md", "# Stockholm Chair Review\n\nBody text."))
	assert.Equal(t, "chair",
		documentTitle("reviews/chair.md", "No heading at all."))
}

func TestSubjectGraphBuilder(t *testing.T) {
	ctx := context.Background()
	plan := ExtractionPlan{
		EntityTypes: []string{"Product", "Issue"},
		FactTypes: map[string]FactType{
			"has_issue": {SubjectLabel: "Product", PredicateLabel: "has_issue", ObjectLabel: "Issue"},
		},
	}

	t.Run("writes documents, chunks, entities, and facts", func(t *testing.T) {
		dir := t.TempDir()
		review := writeTestFile(t, dir, "chair_review.md",
			"# Stockholm Chair Review\n\nThe Stockholm Chair arrived with a wobbly leg. Support replaced it quickly.\n")

		store := newFakeGraphStore().
			on("MATCH (n:`__Entity__`)",
				Record{"label": "Product", "count": int64(1)},
				Record{"label": "Issue", "count": int64(1)},
			).
			on("MATCH (c:Chunk) RETURN count(c)", countRecord("count", 1)).
			on("MATCH (d:Document) RETURN count(d)", countRecord("count", 1))

		extractor := &stubExtractor{extraction: &Extraction{
			Entities: []ExtractedEntity{
				{Type: "Product", Name: "Stockholm Chair"},
				{Type: "Issue", Name: "wobbly leg", Properties: map[string]any{"severity": "minor"}},
			},
			Facts: []ExtractedFact{
				{Subject: "Stockholm Chair", Predicate: "has_issue", Object: "wobbly leg"},
			},
			ChunkEntities: map[string][]string{
				"chair_review.md-chunk-000": {"Stockholm Chair", "wobbly leg"},
			},
		}}

		builder := SubjectGraphBuilder{Store: store, Chunker: TextChunker{ChunkSize: 500}, Extractor: extractor}
		result, err := builder.Build(ctx, []string{review}, plan)
		require.NoError(t, err)

		assert.Equal(t, []string{review}, result.FilesProcessed)
		assert.Empty(t, result.FilesFailed)
		assert.Equal(t, 1, extractor.calls)

		// document + 1 chunk + 2 entities
		assert.Equal(t, 4, result.NodesCreated)
		// HAS_CHUNK + 2 MENTIONED_IN + 1 fact
		assert.Equal(t, 4, result.RelationshipsCreated)

		docs := store.queriesContaining("MERGE (d:Document { path: $path })")
		require.Len(t, docs, 1)
		assert.Equal(t, "Stockholm Chair Review", docs[0].params["title"])

		fact := store.queriesContaining("MERGE (s)-[r:`HAS_ISSUE`]->(o)")
		require.Len(t, fact, 1)
		assert.Equal(t, "Stockholm Chair", fact[0].params["subject"])

		entityMerges := store.queriesContaining("MERGE (e:`__Entity__`:`Issue` { name: $name })")
		require.Len(t, entityMerges, 1)
		props := entityMerges[0].params["props"].(map[string]any)
		assert.Equal(t, "minor", props["severity"])
		assert.Equal(t, "chair_review.md", props["source_file"])

		assert.Equal(t, int64(1), result.EntitiesByType["Product"])
		assert.Equal(t, int64(1), result.ChunkCount)
		assert.Equal(t, int64(1), result.DocumentCount)
	})

	t.Run("per-file failures are collected, not fatal", func(t *testing.T) {
		dir := t.TempDir()
		good := writeTestFile(t, dir, "notes.txt", "Plain notes about the Uppsala Desk.\n")
		missing := filepath.Join(dir, "absent.md")

		store := newFakeGraphStore()
		extractor := &stubExtractor{extraction: &Extraction{}}

		builder := SubjectGraphBuilder{Store: store, Chunker: TextChunker{}, Extractor: extractor}
		result, err := builder.Build(ctx, []string{missing, good}, plan)
		require.NoError(t, err)

		assert.Equal(t, []string{good}, result.FilesProcessed)
		assert.Equal(t, []string{missing}, result.FilesFailed)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "absent.md")
	})

	t.Run("extraction failure marks the file failed", func(t *testing.T) {
		dir := t.TempDir()
		file := writeTestFile(t, dir, "review.md", "Some content worth chunking.\n")

		builder := SubjectGraphBuilder{
			Store:     newFakeGraphStore(),
			Chunker:   TextChunker{},
			Extractor: &stubExtractor{err: errors.New("model offline")},
		}
		result, err := builder.Build(ctx, []string{file}, plan)
		require.NoError(t, err)
		assert.Equal(t, []string{file}, result.FilesFailed)
	})

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := (&SubjectGraphBuilder{Extractor: &stubExtractor{}}).Build(ctx, nil, plan)
		assert.ErrorIs(t, err, ErrGraphStoreNotConfigured)

		_, err = (&SubjectGraphBuilder{Store: newFakeGraphStore()}).Build(ctx, nil, plan)
		assert.ErrorIs(t, err, ErrExtractorNotConfigured)
	})
}
