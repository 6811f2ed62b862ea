// stats.go computes read-only counts over the graph for the HTTP surface
// and build summaries. Domain statistics exclude the text-ingestion
// partition; overall statistics count everything.

package kg

import (
	"context"
	"fmt"
)

// GraphTotals is a label/type breakdown of the graph's contents. The label
// breakdown can sum to more than TotalNodes since nodes may carry several
// labels.
type GraphTotals struct {
	TotalNodes          int64            `json:"total_nodes"`
	TotalRelationships  int64            `json:"total_relationships"`
	NodesByLabel        map[string]int64 `json:"nodes_by_label"`
	RelationshipsByType map[string]int64 `json:"relationships_by_type"`
}

// GraphStatistics reads counts from a graph store.
type GraphStatistics struct {
	Store GraphStore
}

// Totals counts every node and relationship regardless of partition.
func (g GraphStatistics) Totals(ctx context.Context) (*GraphTotals, error) {
	return g.collect(ctx,
		"MATCH (n) RETURN count(n) AS count",
		"MATCH (n)\n"+
			"WITH labels(n) AS node_labels\n"+
			"UNWIND node_labels AS label\n"+
			"RETURN label, count(*) AS count\n"+
			"ORDER BY label",
		"MATCH ()-[r]->()\n"+
			"RETURN type(r) AS type, count(r) AS count\n"+
			"ORDER BY count DESC",
	)
}

// DomainTotals counts only the structurally-built partition: text-derived
// entities, chunks, documents, and their bookkeeping relationship types are
// excluded.
func (g GraphStatistics) DomainTotals(ctx context.Context) (*GraphTotals, error) {
	const domainNodeFilter = "WHERE NOT n:`__Entity__` AND NOT n:Chunk AND NOT n:Document\n"
	return g.collect(ctx,
		"MATCH (n)\n"+domainNodeFilter+"RETURN count(n) AS count",
		"MATCH (n)\n"+
			domainNodeFilter+
			"WITH labels(n) AS node_labels\n"+
			"UNWIND node_labels AS label\n"+
			"RETURN label, count(*) AS count\n"+
			"ORDER BY label",
		"MATCH ()-[r]->()\n"+
			"WHERE NOT type(r) IN ['MENTIONED_IN', 'CORRESPONDS_TO', 'HAS_CHUNK', 'NEXT_CHUNK']\n"+
			"RETURN type(r) AS type, count(r) AS count\n"+
			"ORDER BY count DESC",
	)
}

func (g GraphStatistics) collect(ctx context.Context, totalQuery, nodeQuery, relQuery string) (*GraphTotals, error) {
	if g.Store == nil {
		return nil, ErrGraphStoreNotConfigured
	}

	totals := &GraphTotals{
		NodesByLabel:        make(map[string]int64),
		RelationshipsByType: make(map[string]int64),
	}

	totalRecords, err := g.Store.Execute(ctx, totalQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("node count: %w", err)
	}
	if len(totalRecords) > 0 {
		totals.TotalNodes = recordInt64(totalRecords[0], "count")
	}

	nodeRecords, err := g.Store.Execute(ctx, nodeQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("node statistics: %w", err)
	}
	for _, rec := range nodeRecords {
		if label := recordString(rec, "label"); label != "" {
			totals.NodesByLabel[label] = recordInt64(rec, "count")
		}
	}

	relRecords, err := g.Store.Execute(ctx, relQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("relationship statistics: %w", err)
	}
	for _, rec := range relRecords {
		relType := recordString(rec, "type")
		count := recordInt64(rec, "count")
		if relType == "" {
			continue
		}
		totals.RelationshipsByType[relType] = count
		totals.TotalRelationships += count
	}

	return totals, nil
}
