// materializer.go executes a construction plan against the graph store.
//
// Nodes are always materialized before relationships (both endpoints must
// exist for a MERGE to connect them). Writes are idempotent: node upserts
// MERGE on the unique key, relationship upserts MERGE on the endpoint pair,
// so re-running a plan converges instead of duplicating.
//
// A failing spec is collected and reported but never aborts the batch;
// already-committed specs stay committed.

package kg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const defaultWriteBatchSize = 1000

// MaterializeResult summarizes one plan execution.
type MaterializeResult struct {
	NodesCreated         []string `json:"nodes_created"`
	RelationshipsCreated []string `json:"relationships_created"`
	Errors               []string `json:"errors"`
}

// Materializer writes a construction plan into the graph store.
type Materializer struct {
	Store     GraphStore
	Rows      RowStreamer
	BatchSize int
	Logger    *slog.Logger
}

// NewMaterializer builds a materializer reading rows with the given streamer
// (a CSVReader when nil).
func NewMaterializer(store GraphStore, rows RowStreamer) *Materializer {
	if rows == nil {
		rows = &CSVReader{}
	}
	return &Materializer{Store: store, Rows: rows, BatchSize: defaultWriteBatchSize}
}

// Materialize executes the full plan: every NodeSpec, then every
// RelationshipSpec. Per-spec failures are collected into the result.
func (m *Materializer) Materialize(ctx context.Context, plan ConstructionPlan) (*MaterializeResult, error) {
	if m.Store == nil {
		return nil, ErrGraphStoreNotConfigured
	}

	result := &MaterializeResult{
		NodesCreated:         []string{},
		RelationshipsCreated: []string{},
		Errors:               []string{},
	}

	for _, spec := range plan.NodeEntries() {
		if err := m.materializeNodes(ctx, spec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("import %s nodes: %v", spec.Label, err))
			m.logger().ErrorContext(ctx, "node materialization failed",
				"label", spec.Label,
				"source", spec.SourceFile,
				"error", err,
			)
			continue
		}
		result.NodesCreated = append(result.NodesCreated, spec.Label)
	}

	for _, spec := range plan.RelationshipEntries() {
		if err := m.materializeRelationships(ctx, plan, spec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create %s relationships: %v", spec.Type, err))
			m.logger().ErrorContext(ctx, "relationship materialization failed",
				"relationship_type", spec.Type,
				"source", spec.SourceFile,
				"error", err,
			)
			continue
		}
		result.RelationshipsCreated = append(result.RelationshipsCreated, spec.Type)
	}

	return result, nil
}

// materializeNodes establishes the uniqueness constraint for the label and
// streams batched MERGE upserts from the source file.
func (m *Materializer) materializeNodes(ctx context.Context, spec NodeSpec) error {
	constraint := fmt.Sprintf(
		"CREATE CONSTRAINT `%s_%s_constraint` IF NOT EXISTS FOR (n:`%s`) REQUIRE n.`%s` IS UNIQUE",
		spec.Label, spec.UniqueColumn, spec.Label, spec.UniqueColumn,
	)
	if _, err := m.Store.Execute(ctx, constraint, nil); err != nil {
		return fmt.Errorf("create uniqueness constraint: %w", err)
	}

	query := nodeUpsertQuery(spec)
	return m.Rows.Stream(ctx, spec.SourceFile, m.batchSize(), func(rows []map[string]any) error {
		if _, err := m.Store.Execute(ctx, query, map[string]any{"rows": rows}); err != nil {
			return fmt.Errorf("upsert batch of %d rows: %w", len(rows), err)
		}
		return nil
	})
}

// materializeRelationships matches both endpoints by their key columns and
// merges the relationship, setting properties from source columns.
func (m *Materializer) materializeRelationships(ctx context.Context, plan ConstructionPlan, spec RelationshipSpec) error {
	query := relationshipUpsertQuery(plan, spec)
	return m.Rows.Stream(ctx, spec.SourceFile, m.batchSize(), func(rows []map[string]any) error {
		if _, err := m.Store.Execute(ctx, query, map[string]any{"rows": rows}); err != nil {
			return fmt.Errorf("merge batch of %d rows: %w", len(rows), err)
		}
		return nil
	})
}

func (m *Materializer) batchSize() int {
	if m.BatchSize > 0 {
		return m.BatchSize
	}
	return defaultWriteBatchSize
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func nodeUpsertQuery(spec NodeSpec) string {
	var b strings.Builder
	b.WriteString("UNWIND $rows AS row\n")
	fmt.Fprintf(&b, "MERGE (n:`%s` { `%s`: row.`%s` })", spec.Label, spec.UniqueColumn, spec.UniqueColumn)
	if clause := setClause("n", spec.Properties); clause != "" {
		b.WriteString("\nSET ")
		b.WriteString(clause)
	}
	return b.String()
}

// relationshipUpsertQuery joins each endpoint on its node key property using
// the named source column. The node property comes from the endpoint's
// NodeSpec; when a label is absent from the plan (hand-edited artifacts) the
// source column name doubles as the property name.
func relationshipUpsertQuery(plan ConstructionPlan, spec RelationshipSpec) string {
	fromProp := spec.FromColumn
	if node, ok := plan.NodeSpecFor(spec.FromLabel); ok {
		fromProp = node.UniqueColumn
	}
	toProp := spec.ToColumn
	if node, ok := plan.NodeSpecFor(spec.ToLabel); ok {
		toProp = node.UniqueColumn
	}

	var b strings.Builder
	b.WriteString("UNWIND $rows AS row\n")
	fmt.Fprintf(&b, "MATCH (from:`%s` { `%s`: row.`%s` })\n", spec.FromLabel, fromProp, spec.FromColumn)
	fmt.Fprintf(&b, "MATCH (to:`%s` { `%s`: row.`%s` })\n", spec.ToLabel, toProp, spec.ToColumn)
	fmt.Fprintf(&b, "MERGE (from)-[r:`%s`]->(to)", spec.Type)
	if clause := setClause("r", spec.Properties); clause != "" {
		b.WriteString("\nSET ")
		b.WriteString(clause)
	}
	return b.String()
}

func setClause(alias string, properties []string) string {
	if len(properties) == 0 {
		return ""
	}
	parts := make([]string, 0, len(properties))
	for _, p := range properties {
		parts = append(parts, fmt.Sprintf("%s.`%s` = row.`%s`", alias, p, p))
	}
	return strings.Join(parts, ", ")
}
