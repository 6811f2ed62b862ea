// linkage.go reconciles entities discovered by two independent ingestion
// passes. The subject population (text-derived, labeled `__Entity__`) is
// matched against the domain population (structurally derived) of the same
// entity type using normalized Jaro-Winkler similarity, and each subject
// adopts at most its single best-scoring candidate above the threshold.
//
// Matching is deliberately naive: O(subjects x candidates) per entity type.
// Populations here are hundreds of entities, not millions; anyone pointing
// this at larger populations should treat that as a scaling limit rather
// than quietly swapping the matching semantics.

package kg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xrash/smetrics"
)

const defaultSimilarityThreshold = 0.6

// LinkedEntity is one candidate pulled from the graph for matching.
type LinkedEntity struct {
	ID    string
	Props map[string]any
}

// TypeResolution summarizes one entity type's resolution pass.
type TypeResolution struct {
	EntityType string   `json:"type"`
	Resolved   int      `json:"resolved"`
	Unresolved int      `json:"unresolved"`
	Errors     []string `json:"errors"`
}

// ResolutionResult aggregates resolution across entity types.
type ResolutionResult struct {
	TotalCorrespondences int              `json:"total_correspondences"`
	ResolvedByType       map[string]int   `json:"entities_resolved"`
	UnresolvedByType     map[string]int   `json:"entities_unresolved"`
	Errors               []string         `json:"errors"`
	Types                []TypeResolution `json:"types"`
}

// ResolutionStatistics reports on existing correspondences, computed on
// demand from the store.
type ResolutionStatistics struct {
	Correspondences  int64            `json:"correspondence_relationships"`
	AvgSimilarity    float64          `json:"avg_similarity"`
	MinSimilarity    float64          `json:"min_similarity"`
	MaxSimilarity    float64          `json:"max_similarity"`
	UnresolvedByType map[string]int64 `json:"unresolved_by_type"`
}

// LinkageEngine creates correspondence edges between graph partitions.
type LinkageEngine struct {
	Store GraphStore

	// Threshold gates adoption of the best candidate. Zero value falls back
	// to the default.
	Threshold float64

	// MatchFields maps an entity type to the property compared for that
	// type. Types without an override use "name". When the named field is
	// absent on a node the lookup falls through "<field>_name" and then
	// "name".
	MatchFields map[string]string

	Logger *slog.Logger
}

// NewLinkageEngine builds an engine with the default threshold and the
// Product-specific match field the ingestion writes.
func NewLinkageEngine(store GraphStore, threshold float64) *LinkageEngine {
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	return &LinkageEngine{
		Store:     store,
		Threshold: threshold,
		MatchFields: map[string]string{
			"Product": "product_name",
		},
	}
}

// similarity returns a score in [0,1] for two raw values: case-folded,
// whitespace-trimmed, identical strings short-circuit to 1.0, anything else
// scores by Jaro-Winkler.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// matchValue pulls the comparable string off an entity, falling back through
// the configured field, "<field>_name", and "name".
func matchValue(entity LinkedEntity, field string) string {
	candidates := []string{field}
	if field != "" && !strings.HasSuffix(field, "_name") {
		candidates = append(candidates, strings.ToLower(field)+"_name")
	}
	candidates = append(candidates, "name")

	for _, key := range candidates {
		if key == "" {
			continue
		}
		if v, ok := entity.Props[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// matchFieldFor returns the configured match field for an entity type.
func (e *LinkageEngine) matchFieldFor(entityType string) string {
	if f, ok := e.MatchFields[entityType]; ok {
		return f
	}
	return "name"
}

// subjectEntities fetches the text-derived population for an entity type.
func (e *LinkageEngine) subjectEntities(ctx context.Context, entityType string) ([]LinkedEntity, error) {
	query := "MATCH (n:`__Entity__`)\n" +
		"WHERE $entity_type IN labels(n)\n" +
		"RETURN elementId(n) AS id, properties(n) AS props"
	return e.fetchEntities(ctx, query, entityType)
}

// domainEntities fetches the structurally-derived population, excluding the
// text-ingestion bookkeeping labels.
func (e *LinkageEngine) domainEntities(ctx context.Context, entityType string) ([]LinkedEntity, error) {
	query := "MATCH (n)\n" +
		"WHERE $entity_type IN labels(n)\n" +
		"  AND NOT n:`__Entity__` AND NOT n:Chunk AND NOT n:Document\n" +
		"RETURN elementId(n) AS id, properties(n) AS props"
	return e.fetchEntities(ctx, query, entityType)
}

func (e *LinkageEngine) fetchEntities(ctx context.Context, query, entityType string) ([]LinkedEntity, error) {
	records, err := e.Store.Execute(ctx, query, map[string]any{"entity_type": entityType})
	if err != nil {
		return nil, err
	}
	entities := make([]LinkedEntity, 0, len(records))
	for _, rec := range records {
		entities = append(entities, LinkedEntity{
			ID:    recordString(rec, "id"),
			Props: recordProps(rec, "props"),
		})
	}
	return entities, nil
}

// bestMatch finds the highest-scoring candidate for a subject value.
func bestMatch(subjectValue string, candidates []LinkedEntity, field string) (LinkedEntity, float64) {
	var best LinkedEntity
	bestScore := 0.0
	for _, candidate := range candidates {
		value := matchValue(candidate, field)
		if value == "" {
			continue
		}
		if score := similarity(subjectValue, value); score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best, bestScore
}

// createCorrespondence merges a CORRESPONDS_TO edge carrying the score.
// Re-running for the same pair overwrites the score, never duplicates.
func (e *LinkageEngine) createCorrespondence(ctx context.Context, subjectID, objectID string, score float64) error {
	query := "MATCH (subject) WHERE elementId(subject) = $subject_id\n" +
		"MATCH (object) WHERE elementId(object) = $object_id\n" +
		"MERGE (subject)-[r:CORRESPONDS_TO]->(object)\n" +
		"SET r.similarity = $score\n" +
		"RETURN r"
	_, err := e.Store.Execute(ctx, query, map[string]any{
		"subject_id": subjectID,
		"object_id":  objectID,
		"score":      score,
	})
	return err
}

// ResolveType resolves every subject entity of one type against the domain
// population. Subjects whose best candidate scores below the threshold are
// counted as unresolved; store write failures are collected as errors.
func (e *LinkageEngine) ResolveType(ctx context.Context, entityType string) (TypeResolution, error) {
	result := TypeResolution{EntityType: entityType, Errors: []string{}}
	if e.Store == nil {
		return result, ErrGraphStoreNotConfigured
	}

	threshold := e.Threshold
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}

	subjects, err := e.subjectEntities(ctx, entityType)
	if err != nil {
		return result, fmt.Errorf("fetch subject %s entities: %w", entityType, err)
	}
	if len(subjects) == 0 {
		return result, nil
	}

	domain, err := e.domainEntities(ctx, entityType)
	if err != nil {
		return result, fmt.Errorf("fetch domain %s entities: %w", entityType, err)
	}
	if len(domain) == 0 {
		result.Unresolved = len(subjects)
		return result, nil
	}

	field := e.matchFieldFor(entityType)

	for _, subject := range subjects {
		subjectValue := matchValue(subject, field)
		if subjectValue == "" {
			result.Unresolved++
			continue
		}

		best, score := bestMatch(subjectValue, domain, field)
		if best.ID == "" || score < threshold {
			result.Unresolved++
			continue
		}

		if err := e.createCorrespondence(ctx, subject.ID, best.ID, score); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Resolved++
	}

	e.logger().InfoContext(ctx, "entity type resolved",
		"entity_type", entityType,
		"resolved", result.Resolved,
		"unresolved", result.Unresolved,
		"subjects", len(subjects),
		"candidates", len(domain),
	)
	return result, nil
}

// ResolveAll resolves each entity type in order and aggregates the outcome.
func (e *LinkageEngine) ResolveAll(ctx context.Context, entityTypes []string) (*ResolutionResult, error) {
	overall := &ResolutionResult{
		ResolvedByType:   make(map[string]int),
		UnresolvedByType: make(map[string]int),
		Errors:           []string{},
	}

	for _, entityType := range entityTypes {
		typeResult, err := e.ResolveType(ctx, entityType)
		if err != nil {
			return overall, err
		}
		overall.TotalCorrespondences += typeResult.Resolved
		overall.ResolvedByType[entityType] = typeResult.Resolved
		overall.UnresolvedByType[entityType] = typeResult.Unresolved
		overall.Errors = append(overall.Errors, typeResult.Errors...)
		overall.Types = append(overall.Types, typeResult)
	}
	return overall, nil
}

// RemoveAllCorrespondences deletes every correspondence edge in batched
// transactions. Required before a re-run: resolution with a different
// threshold is not cumulative-consistent with prior edges.
func (e *LinkageEngine) RemoveAllCorrespondences(ctx context.Context) (int64, error) {
	if e.Store == nil {
		return 0, ErrGraphStoreNotConfigured
	}

	query := "MATCH ()-[r:CORRESPONDS_TO]->()\n" +
		"WITH count(r) AS total\n" +
		"CALL {\n" +
		"    MATCH ()-[r:CORRESPONDS_TO]->()\n" +
		"    DELETE r\n" +
		"} IN TRANSACTIONS OF 1000 ROWS\n" +
		"RETURN total"
	records, err := e.Store.Execute(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("remove correspondences: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return recordInt64(records[0], "total"), nil
}

// CountCorrespondences returns the number of correspondence edges.
func (e *LinkageEngine) CountCorrespondences(ctx context.Context) (int64, error) {
	records, err := e.Store.Execute(ctx, "MATCH ()-[r:CORRESPONDS_TO]->() RETURN count(r) AS total", nil)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return recordInt64(records[0], "total"), nil
}

// Statistics computes correspondence aggregates and per-type counts of
// subject entities with no correspondence. Nothing is persisted.
func (e *LinkageEngine) Statistics(ctx context.Context) (*ResolutionStatistics, error) {
	if e.Store == nil {
		return nil, ErrGraphStoreNotConfigured
	}

	stats := &ResolutionStatistics{UnresolvedByType: make(map[string]int64)}

	aggregate, err := e.Store.Execute(ctx,
		"MATCH ()-[r:CORRESPONDS_TO]->()\n"+
			"RETURN count(r) AS total_correspondences,\n"+
			"       avg(r.similarity) AS avg_similarity,\n"+
			"       min(r.similarity) AS min_similarity,\n"+
			"       max(r.similarity) AS max_similarity",
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("correspondence statistics: %w", err)
	}
	if len(aggregate) > 0 {
		stats.Correspondences = recordInt64(aggregate[0], "total_correspondences")
		stats.AvgSimilarity = recordFloat64(aggregate[0], "avg_similarity")
		stats.MinSimilarity = recordFloat64(aggregate[0], "min_similarity")
		stats.MaxSimilarity = recordFloat64(aggregate[0], "max_similarity")
	}

	unresolved, err := e.Store.Execute(ctx,
		"MATCH (n:`__Entity__`)\n"+
			"WHERE NOT (n)-[:CORRESPONDS_TO]->()\n"+
			"WITH labels(n) AS node_labels\n"+
			"UNWIND node_labels AS label\n"+
			"WITH label WHERE NOT label STARTS WITH \"__\"\n"+
			"RETURN label, count(*) AS count\n"+
			"ORDER BY count DESC",
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("unresolved statistics: %w", err)
	}
	for _, rec := range unresolved {
		if label := recordString(rec, "label"); label != "" {
			stats.UnresolvedByType[label] = recordInt64(rec, "count")
		}
	}

	return stats, nil
}

func (e *LinkageEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
