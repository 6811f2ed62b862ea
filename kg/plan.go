// plan.go defines the construction plan: the declarative interchange artifact
// between schema inference and graph materialization. Plans are persisted as
// JSON so they can be inspected or hand-edited between runs.

package kg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Plan entry construction types.
const (
	ConstructionNode         = "node"
	ConstructionRelationship = "relationship"
)

// NodeSpec describes how to materialize one node label from a tabular source.
type NodeSpec struct {
	Label        string   `json:"label"`
	SourceFile   string   `json:"source_file"`
	UniqueColumn string   `json:"unique_column_name"`
	Properties   []string `json:"properties"`
}

// RelationshipSpec describes how to materialize one relationship type by
// joining two node labels on their key columns.
type RelationshipSpec struct {
	Type       string   `json:"relationship_type"`
	SourceFile string   `json:"source_file"`
	FromLabel  string   `json:"from_node_label"`
	FromColumn string   `json:"from_node_column"`
	ToLabel    string   `json:"to_node_label"`
	ToColumn   string   `json:"to_node_column"`
	Properties []string `json:"properties"`
}

// PlanEntry is a single named construction rule. Exactly one of Node and
// Relationship is set, discriminated by ConstructionType.
type PlanEntry struct {
	ConstructionType string            `json:"construction_type"`
	Node             *NodeSpec         `json:"node,omitempty"`
	Relationship     *RelationshipSpec `json:"relationship,omitempty"`
}

// ConstructionPlan maps unique plan-entry names to construction rules.
type ConstructionPlan struct {
	Entries map[string]PlanEntry `json:"entries"`
}

// NewConstructionPlan returns an empty plan.
func NewConstructionPlan() ConstructionPlan {
	return ConstructionPlan{Entries: make(map[string]PlanEntry)}
}

// NodeEntries returns the node rules sorted by plan-entry name.
func (p ConstructionPlan) NodeEntries() []NodeSpec {
	var out []NodeSpec
	for _, name := range p.sortedNames() {
		if e := p.Entries[name]; e.ConstructionType == ConstructionNode && e.Node != nil {
			out = append(out, *e.Node)
		}
	}
	return out
}

// RelationshipEntries returns the relationship rules sorted by plan-entry name.
func (p ConstructionPlan) RelationshipEntries() []RelationshipSpec {
	var out []RelationshipSpec
	for _, name := range p.sortedNames() {
		if e := p.Entries[name]; e.ConstructionType == ConstructionRelationship && e.Relationship != nil {
			out = append(out, *e.Relationship)
		}
	}
	return out
}

// NodeLabels returns the sorted set of node labels the plan materializes.
func (p ConstructionPlan) NodeLabels() []string {
	labels := make([]string, 0)
	for _, spec := range p.NodeEntries() {
		labels = append(labels, spec.Label)
	}
	sort.Strings(labels)
	return labels
}

// NodeSpecFor returns the NodeSpec for a label, matched case-insensitively.
func (p ConstructionPlan) NodeSpecFor(label string) (NodeSpec, bool) {
	for _, spec := range p.NodeEntries() {
		if strings.EqualFold(spec.Label, label) {
			return spec, true
		}
	}
	return NodeSpec{}, false
}

func (p ConstructionPlan) sortedNames() []string {
	names := make([]string, 0, len(p.Entries))
	for name := range p.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// addEntry inserts a rule under name, suffixing `_1`, `_2`, ... on collision
// so the first entry of a type keeps the canonical unsuffixed name.
func (p *ConstructionPlan) addEntry(name string, entry PlanEntry) string {
	if p.Entries == nil {
		p.Entries = make(map[string]PlanEntry)
	}
	candidate := name
	for i := 1; ; i++ {
		if _, taken := p.Entries[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	p.Entries[candidate] = entry
	return candidate
}

// MarshalJSON flattens the plan to its entry map, the shape persisted as the
// construction_plan artifact.
func (p ConstructionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Entries)
}

// UnmarshalJSON accepts the flat entry-map shape.
func (p *ConstructionPlan) UnmarshalJSON(data []byte) error {
	entries := make(map[string]PlanEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	p.Entries = entries
	return nil
}
