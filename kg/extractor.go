// extractor.go defines the typed extraction boundary for text sources. An
// ExtractionPlan names the entity types and fact patterns the extractor is
// allowed to produce; EntityExtractor implementations turn chunks into typed
// entities and facts within that schema. The plan is derived from the
// construction plan's node labels plus additions inferred from text
// filenames, and persisted alongside the construction plan.

package kg

import (
	"context"
	"sort"
	"strings"
)

// FactType is one allowed relationship pattern between entity types.
type FactType struct {
	SubjectLabel   string `json:"subject_label"`
	PredicateLabel string `json:"predicate_label"`
	ObjectLabel    string `json:"object_label"`
}

// ExtractionPlan is the schema handed to the extractor: which entity types
// exist and which fact patterns connect them. Fact types are keyed by their
// lowercase predicate.
type ExtractionPlan struct {
	EntityTypes []string            `json:"entity_types"`
	FactTypes   map[string]FactType `json:"fact_types"`
}

// FactTypeFor returns the pattern for a predicate, matched case-insensitively.
func (p ExtractionPlan) FactTypeFor(predicate string) (FactType, bool) {
	ft, ok := p.FactTypes[strings.ToLower(predicate)]
	return ft, ok
}

// ExtractedEntity is one typed entity pulled from text.
type ExtractedEntity struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ExtractedFact is one subject-predicate-object statement between extracted
// entities, referenced by name.
type ExtractedFact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Extraction is everything an extractor produced for one batch of chunks.
type Extraction struct {
	Entities []ExtractedEntity
	Facts    []ExtractedFact

	// ChunkEntities maps chunk ID to the names of entities mentioned in it,
	// for provenance edges.
	ChunkEntities map[string][]string
}

// EntityExtractor turns text chunks into typed entities and facts. The plan
// constrains what may be produced; implementations must not invent types
// outside it.
type EntityExtractor interface {
	Extract(ctx context.Context, chunks []TextChunk, plan ExtractionPlan) (*Extraction, error)
}

// textEntityAdditions maps a text filename keyword to the entity types that
// kind of content introduces beyond the domain schema.
var textEntityAdditions = []struct {
	keyword  string
	entities []string
}{
	{"review", []string{"Issue", "Feature", "User", "Rating"}},
	{"report", []string{"Metric", "Trend", "Finding"}},
	{"email", []string{"Person", "Topic", "Sentiment"}},
	{"message", []string{"Person", "Topic", "Sentiment"}},
	{"log", []string{"Event", "Error", "System"}},
}

// factPattern is a candidate fact type admitted when both its labels are
// present in the entity type set.
type factPattern struct {
	predicate string
	subject   string
	object    string
}

var commonFactPatterns = []factPattern{
	{"has_issue", "Product", "Issue"},
	{"includes_feature", "Product", "Feature"},
	{"reviewed_by", "Product", "User"},
	{"has_rating", "Product", "Rating"},
}

var supplyChainFactPatterns = []factPattern{
	{"causes_issue", "Supplier", "Issue"},
}

// BuildExtractionPlan derives the extraction schema from the construction
// plan's node labels, the selected text files, and the goal. Entity types
// from the domain schema come first, filename-derived additions after,
// both deduplicated; fact types are admitted only when both endpoint labels
// made it into the set.
func BuildExtractionPlan(plan ConstructionPlan, textFiles []string, goal Goal) ExtractionPlan {
	entityTypes := plan.NodeLabels()

	for _, file := range textFiles {
		name := strings.ToLower(file)
		for _, addition := range textEntityAdditions {
			if strings.Contains(name, addition.keyword) {
				entityTypes = append(entityTypes, addition.entities...)
				break
			}
		}
	}
	entityTypes = dedupeStrings(entityTypes)

	present := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		present[t] = true
	}

	patterns := commonFactPatterns
	if strings.Contains(strings.ToLower(goal.KindOfGraph), "supply chain") {
		patterns = append(append([]factPattern{}, patterns...), supplyChainFactPatterns...)
	}

	factTypes := make(map[string]FactType)
	for _, p := range patterns {
		if present[p.subject] && present[p.object] {
			factTypes[p.predicate] = FactType{
				SubjectLabel:   p.subject,
				PredicateLabel: p.predicate,
				ObjectLabel:    p.object,
			}
		}
	}

	return ExtractionPlan{EntityTypes: entityTypes, FactTypes: factTypes}
}

// factPatternLines renders the allowed fact patterns for prompt assembly,
// sorted for stable prompts.
func factPatternLines(plan ExtractionPlan) []string {
	keys := make([]string, 0, len(plan.FactTypes))
	for k := range plan.FactTypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		ft := plan.FactTypes[k]
		lines = append(lines, ft.SubjectLabel+" -"+strings.ToUpper(ft.PredicateLabel)+"-> "+ft.ObjectLabel)
	}
	return lines
}
