package kg

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextChunker(t *testing.T) {
	t.Run("single chunk when text fits", func(t *testing.T) {
		chunker := TextChunker{ChunkSize: 200}
		text := "  The Stockholm Chair arrived quickly. Assembly took ten minutes and the finish is excellent throughout.  "

		chunks, err := chunker.Chunk(context.Background(), "review", text)
		require.NoError(t, err)
		require.Len(t, chunks, 1)

		assert.Equal(t, "review-chunk-000", chunks[0].ID)
		assert.Equal(t, strings.TrimSpace(text), chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, len(strings.TrimSpace(text)), chunks[0].End)
	})

	t.Run("empty text yields no chunks", func(t *testing.T) {
		chunker := TextChunker{ChunkSize: 100}
		chunks, err := chunker.Chunk(context.Background(), "empty", "   \n\n  ")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("paragraph breaks preferred over mid-sentence splits", func(t *testing.T) {
		text := `Quarterly Supplier Report

Deliveries from northern region suppliers stayed on schedule through the whole quarter. Defect rates fell for the third consecutive period.

Southern region suppliers struggled with raw material shortages. Several purchase orders slipped by more than two weeks, and two suppliers requested contract renegotiations.

Recommendations

Diversify sourcing for high-volume parts. Negotiate penalty clauses for repeated late deliveries. Review the qualification process for new suppliers before next quarter.`

		chunker := TextChunker{ChunkSize: 150}
		chunks, err := chunker.Chunk(context.Background(), "report", text)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(chunks), 4, "expected at least 4 chunks for this document")

		for i, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk.Text), 150, "chunk %d exceeds size limit: %d bytes", i, len(chunk.Text))
			assert.NotEmpty(t, chunk.Text, "chunk %d should not be empty", i)
		}

		// sentences should mostly stay intact
		sentenceEndCount := 0
		for _, chunk := range chunks {
			if strings.HasSuffix(chunk.Text, ".") {
				sentenceEndCount++
			}
		}
		assert.GreaterOrEqual(t, sentenceEndCount, 3, "most chunks should end with complete sentences")

		var combined strings.Builder
		for i, chunk := range chunks {
			if i > 0 {
				combined.WriteString(" ")
			}
			combined.WriteString(chunk.Text)
		}
		for _, phrase := range []string{"Quarterly Supplier Report", "Southern region", "Recommendations"} {
			assert.Contains(t, combined.String(), phrase, "combined chunks should preserve content")
		}
	})

	t.Run("chunk id format and offsets", func(t *testing.T) {
		text := `Alpha section begins here with some introductory content that sets the stage for what follows.

Beta section continues the narrative with additional details and explanations that build upon the foundation.

Gamma section introduces new concepts. These ideas are important. They require careful consideration. Each sentence adds value.

Delta section provides examples and illustrations. The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs.

Epsilon section wraps up the discussion with final thoughts and recommendations for further exploration of these topics.`

		chunker := TextChunker{ChunkSize: 120}
		trimmed := strings.TrimSpace(text)

		chunks, err := chunker.Chunk(context.Background(), "test-doc", text)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(chunks), 4, "expected at least 4 chunks")

		idPattern := regexp.MustCompile(`^test-doc-chunk-\d{3}$`)

		for i, chunk := range chunks {
			assert.Regexp(t, idPattern, chunk.ID, "chunk %d has invalid id format", i)
			assert.Equal(t, i, chunk.Index)

			assert.GreaterOrEqual(t, chunk.Start, 0, "chunk %d start should be non-negative", i)
			assert.Greater(t, chunk.End, chunk.Start, "chunk %d end should be greater than start", i)
			assert.LessOrEqual(t, chunk.End, len(trimmed), "chunk %d end should not exceed text length", i)

			assert.Equal(t, chunk.Text, trimmed[chunk.Start:chunk.End],
				"chunk %d text should match offset range", i)

			if i > 0 {
				assert.GreaterOrEqual(t, chunk.Start, chunks[i-1].End, "chunk %d should not overlap with chunk %d", i, i-1)
			}
		}
	})

	t.Run("default chunk size applies when unset", func(t *testing.T) {
		chunker := TextChunker{}
		text := strings.Repeat("word ", 300)
		chunks, err := chunker.Chunk(context.Background(), "doc", text)
		require.NoError(t, err)
		for i, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk.Text), 500, "chunk %d exceeds default size", i)
		}
	})
}
