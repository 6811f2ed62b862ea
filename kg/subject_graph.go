// subject_graph.go builds the text-derived half of the graph. Each selected
// text source becomes a Document node with ordered Chunk nodes; the extractor
// then yields typed entities written with the `__Entity__` marker label plus
// their type label, MENTIONED_IN provenance edges back to the chunks they
// came from, and fact relationships between entities. The `__Entity__` label
// is what keeps this partition distinguishable from the structurally-built
// domain graph until linkage reconciles the two.

package kg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SubjectResult summarizes one subject-graph construction pass.
type SubjectResult struct {
	FilesProcessed       []string         `json:"files_processed"`
	FilesFailed          []string         `json:"files_failed"`
	NodesCreated         int              `json:"nodes_created"`
	RelationshipsCreated int              `json:"relationships_created"`
	EntitiesByType       map[string]int64 `json:"entities_by_type"`
	ChunkCount           int64            `json:"chunk_count"`
	DocumentCount        int64            `json:"document_count"`
	Errors               []string         `json:"errors"`
}

// SubjectGraphBuilder ingests text sources through chunking and extraction.
type SubjectGraphBuilder struct {
	Store     GraphStore
	Chunker   TextChunker
	Extractor EntityExtractor
	Logger    *slog.Logger
}

var markdownTitlePattern = regexp.MustCompile(`(?m)^# (.+)$`)

// documentTitle pulls the first level-one markdown heading, falling back to
// the filename stem.
func documentTitle(path string, text string) string {
	if m := markdownTitlePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fileStem(path)
}

// Build processes every file, continuing past per-file failures. Failures
// are collected; a file that fails extraction leaves its Document and Chunk
// nodes in place, which is harmless since everything is merged by stable IDs
// on retry.
func (b *SubjectGraphBuilder) Build(ctx context.Context, files []string, plan ExtractionPlan) (*SubjectResult, error) {
	if b.Store == nil {
		return nil, ErrGraphStoreNotConfigured
	}
	if b.Extractor == nil {
		return nil, ErrExtractorNotConfigured
	}

	result := &SubjectResult{
		FilesProcessed: []string{},
		FilesFailed:    []string{},
		EntitiesByType: make(map[string]int64),
		Errors:         []string{},
	}

	for _, file := range files {
		nodes, rels, err := b.processFile(ctx, file, plan)
		if err != nil {
			result.FilesFailed = append(result.FilesFailed, file)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", filepath.Base(file), err))
			b.logger().ErrorContext(ctx, "text source failed", "file", file, "reason", err)
			continue
		}
		result.FilesProcessed = append(result.FilesProcessed, file)
		result.NodesCreated += nodes
		result.RelationshipsCreated += rels
	}

	if err := b.collectStatistics(ctx, result); err != nil {
		return result, err
	}

	b.logger().InfoContext(ctx, "subject graph built",
		"files_processed", len(result.FilesProcessed),
		"files_failed", len(result.FilesFailed),
		"nodes_created", result.NodesCreated,
		"relationships_created", result.RelationshipsCreated,
	)
	return result, nil
}

func (b *SubjectGraphBuilder) processFile(ctx context.Context, path string, plan ExtractionPlan) (nodes, rels int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read text source: %w", err)
	}
	text := string(data)
	source := filepath.Base(path)

	chunks, err := b.Chunker.Chunk(ctx, source, text)
	if err != nil {
		return 0, 0, err
	}
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	docNodes, docRels, err := b.writeDocument(ctx, path, source, documentTitle(path, text), chunks)
	if err != nil {
		return 0, 0, err
	}
	nodes += docNodes
	rels += docRels

	extraction, err := b.Extractor.Extract(ctx, chunks, plan)
	if err != nil {
		return nodes, rels, fmt.Errorf("extract entities: %w", err)
	}

	entNodes, entRels, err := b.writeExtraction(ctx, source, extraction, plan)
	nodes += entNodes
	rels += entRels
	return nodes, rels, err
}

// writeDocument merges the Document node, its Chunk nodes, and the
// HAS_CHUNK / NEXT_CHUNK structure.
func (b *SubjectGraphBuilder) writeDocument(ctx context.Context, path, source, title string, chunks []TextChunk) (nodes, rels int, err error) {
	_, err = b.Store.Execute(ctx,
		"MERGE (d:Document { path: $path })\n"+
			"SET d.title = $title, d.source_file = $source\n"+
			"RETURN d",
		map[string]any{"path": path, "title": title, "source": source},
	)
	if err != nil {
		return 0, 0, fmt.Errorf("merge document: %w", err)
	}
	nodes++

	rows := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		rows = append(rows, map[string]any{
			"id":    chunk.ID,
			"index": chunk.Index,
			"text":  chunk.Text,
			"start": chunk.Start,
			"end":   chunk.End,
		})
	}
	_, err = b.Store.Execute(ctx,
		"MATCH (d:Document { path: $path })\n"+
			"UNWIND $rows AS row\n"+
			"MERGE (c:Chunk { id: row.id })\n"+
			"SET c.index = row.index, c.text = row.text, c.start = row.start, c.end = row.end, c.source_file = $source\n"+
			"MERGE (d)-[:HAS_CHUNK]->(c)",
		map[string]any{"path": path, "source": source, "rows": rows},
	)
	if err != nil {
		return nodes, 0, fmt.Errorf("merge chunks: %w", err)
	}
	nodes += len(chunks)
	rels += len(chunks)

	if len(chunks) > 1 {
		pairs := make([]map[string]any, 0, len(chunks)-1)
		for i := 1; i < len(chunks); i++ {
			pairs = append(pairs, map[string]any{"prev": chunks[i-1].ID, "next": chunks[i].ID})
		}
		_, err = b.Store.Execute(ctx,
			"UNWIND $pairs AS pair\n"+
				"MATCH (a:Chunk { id: pair.prev })\n"+
				"MATCH (b:Chunk { id: pair.next })\n"+
				"MERGE (a)-[:NEXT_CHUNK]->(b)",
			map[string]any{"pairs": pairs},
		)
		if err != nil {
			return nodes, rels, fmt.Errorf("link chunks: %w", err)
		}
		rels += len(pairs)
	}

	return nodes, rels, nil
}

// writeExtraction merges typed entities, provenance edges, and facts.
func (b *SubjectGraphBuilder) writeExtraction(ctx context.Context, source string, extraction *Extraction, plan ExtractionPlan) (nodes, rels int, err error) {
	for _, entity := range extraction.Entities {
		props := map[string]any{"source_file": source}
		for k, v := range entity.Properties {
			props[k] = v
		}
		_, err := b.Store.Execute(ctx,
			"MERGE (e:`__Entity__`:`"+entity.Type+"` { name: $name })\n"+
				"SET e += $props\n"+
				"RETURN e",
			map[string]any{"name": entity.Name, "props": props},
		)
		if err != nil {
			return nodes, rels, fmt.Errorf("merge entity %s %q: %w", entity.Type, entity.Name, err)
		}
		nodes++
	}

	for chunkID, names := range extraction.ChunkEntities {
		_, err := b.Store.Execute(ctx,
			"MATCH (c:Chunk { id: $chunk_id })\n"+
				"UNWIND $names AS name\n"+
				"MATCH (e:`__Entity__` { name: name })\n"+
				"MERGE (e)-[:MENTIONED_IN]->(c)",
			map[string]any{"chunk_id": chunkID, "names": names},
		)
		if err != nil {
			return nodes, rels, fmt.Errorf("merge provenance for chunk %s: %w", chunkID, err)
		}
		rels += len(names)
	}

	for _, fact := range extraction.Facts {
		ft, ok := plan.FactTypeFor(fact.Predicate)
		if !ok {
			continue
		}
		relType := strings.ToUpper(ft.PredicateLabel)
		_, err := b.Store.Execute(ctx,
			"MATCH (s:`__Entity__`:`"+ft.SubjectLabel+"` { name: $subject })\n"+
				"MATCH (o:`__Entity__`:`"+ft.ObjectLabel+"` { name: $object })\n"+
				"MERGE (s)-[r:`"+relType+"`]->(o)\n"+
				"RETURN r",
			map[string]any{"subject": fact.Subject, "object": fact.Object},
		)
		if err != nil {
			return nodes, rels, fmt.Errorf("merge fact %s: %w", fact.Predicate, err)
		}
		rels++
	}

	return nodes, rels, nil
}

// collectStatistics fills the entity/chunk/document counts from the store.
func (b *SubjectGraphBuilder) collectStatistics(ctx context.Context, result *SubjectResult) error {
	entityStats, err := b.Store.Execute(ctx,
		"MATCH (n:`__Entity__`)\n"+
			"WITH labels(n) AS node_labels\n"+
			"UNWIND node_labels AS label\n"+
			"WITH label WHERE NOT label STARTS WITH \"__\"\n"+
			"RETURN label, count(*) AS count\n"+
			"ORDER BY count DESC",
		nil,
	)
	if err != nil {
		return fmt.Errorf("entity statistics: %w", err)
	}
	for _, rec := range entityStats {
		if label := recordString(rec, "label"); label != "" {
			result.EntitiesByType[label] = recordInt64(rec, "count")
		}
	}

	chunkStats, err := b.Store.Execute(ctx, "MATCH (c:Chunk) RETURN count(c) AS count", nil)
	if err != nil {
		return fmt.Errorf("chunk statistics: %w", err)
	}
	if len(chunkStats) > 0 {
		result.ChunkCount = recordInt64(chunkStats[0], "count")
	}

	docStats, err := b.Store.Execute(ctx, "MATCH (d:Document) RETURN count(d) AS count", nil)
	if err != nil {
		return fmt.Errorf("document statistics: %w", err)
	}
	if len(docStats) > 0 {
		result.DocumentCount = recordInt64(docStats[0], "count")
	}

	return nil
}

func (b *SubjectGraphBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
