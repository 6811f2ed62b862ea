// plan_builder.go turns file profiles into a construction plan.
//
// Node rules come first: every non-association profile with a resolvable key
// yields one NodeSpec. Relationship rules are then derived two ways:
//
//   - association rule: an association table whose first two foreign keys
//     resolve to known NodeSpecs yields one RelationshipSpec joining them;
//   - embedded-FK rule: every resolved foreign key on an entity table yields
//     a RelationshipSpec from the owning entity to the referenced one.
//
// Foreign keys that resolve to no NodeSpec are dropped with a log line and
// never fail the build. Building is deterministic and idempotent: the same
// profiles always produce the same plan.

package kg

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// PlanBuilderConfig caps how much of a wide table is carried into the graph.
type PlanBuilderConfig struct {
	MaxNodeProperties         int
	MaxRelationshipProperties int
}

const (
	defaultMaxNodeProperties         = 20
	defaultMaxRelationshipProperties = 10
)

func (c PlanBuilderConfig) withDefaults() PlanBuilderConfig {
	if c.MaxNodeProperties <= 0 {
		c.MaxNodeProperties = defaultMaxNodeProperties
	}
	if c.MaxRelationshipProperties <= 0 {
		c.MaxRelationshipProperties = defaultMaxRelationshipProperties
	}
	return c
}

// PlanBuilder builds construction plans from analyzer output.
type PlanBuilder struct {
	Config PlanBuilderConfig
	Logger *slog.Logger
}

// NewPlanBuilder returns a builder with defaulted configuration.
func NewPlanBuilder(cfg PlanBuilderConfig) *PlanBuilder {
	return &PlanBuilder{Config: cfg.withDefaults()}
}

// mappingVerb is a canonical relationship for a recognizable entity pair in
// an association table, including which side the relationship starts from.
type mappingVerb struct {
	relType   string
	fromLabel string
}

// mappingVerbs normalizes well-known association pairs to a semantic verb
// instead of a filename-derived type. Keys are the two labels sorted and
// joined with "|".
var mappingVerbs = map[string]mappingVerb{
	"Part|Supplier":    {relType: "SUPPLIES", fromLabel: "Supplier"},
	"Product|Supplier": {relType: "SUPPLIED_BY", fromLabel: "Product"},
}

// fkTypeOverrides maps a foreign-key base name to a semantic relationship
// type. Evaluated in order, before the generic HAS_<ENTITY> default.
var fkTypeOverrides = []struct {
	token   string
	relType string
}{
	{"parent", "PARENT_OF"},
	{"child", "CHILD_OF"},
	{"supplier", "SUPPLIED_BY"},
	{"product", "CONTAINS"},
	{"assembly", "IS_PART_OF"},
}

// nodeKeyIndex resolves foreign keys against generated NodeSpecs.
type nodeKeyIndex struct {
	labels []string          // insertion order, for deterministic resolution
	keys   map[string]string // label -> unique key column
}

func (idx *nodeKeyIndex) add(label, keyColumn string) {
	if _, exists := idx.keys[label]; exists {
		return
	}
	idx.labels = append(idx.labels, label)
	idx.keys[label] = keyColumn
}

// resolve finds the NodeSpec a foreign-key column points at: exact
// (case-insensitive) match on the derived entity name first, then substring
// containment of the raw fk base in the label.
func (idx *nodeKeyIndex) resolve(fk ColumnProfile) (label, keyColumn string, ok bool) {
	for _, l := range idx.labels {
		if strings.EqualFold(l, fk.ReferencedEntity) {
			return l, idx.keys[l], true
		}
	}
	base := strings.TrimSuffix(strings.ToLower(fk.Name), "_id")
	for _, l := range idx.labels {
		if base != "" && strings.Contains(strings.ToLower(l), base) {
			return l, idx.keys[l], true
		}
	}
	return "", "", false
}

// Build produces a construction plan from the analyzed profiles.
func (b *PlanBuilder) Build(ctx context.Context, profiles []FileProfile) ConstructionPlan {
	cfg := b.Config.withDefaults()
	plan := NewConstructionPlan()

	index := &nodeKeyIndex{keys: make(map[string]string)}

	// Node pass.
	for _, profile := range profiles {
		if profile.Err != "" || profile.IsAssociationTable || profile.EntityLabel == "" {
			continue
		}

		key, ok := b.nodeKey(ctx, profile)
		if !ok {
			continue
		}

		properties := make([]string, 0, len(profile.Columns))
		for _, col := range profile.Columns {
			if col.Name == key || col.Role == RoleForeignKeyCandidate {
				continue
			}
			properties = append(properties, col.Name)
		}
		if len(properties) > cfg.MaxNodeProperties {
			properties = properties[:cfg.MaxNodeProperties]
		}

		spec := NodeSpec{
			Label:        profile.EntityLabel,
			SourceFile:   profile.Source,
			UniqueColumn: key,
			Properties:   properties,
		}
		plan.addEntry(spec.Label, PlanEntry{ConstructionType: ConstructionNode, Node: &spec})
		index.add(spec.Label, key)
	}

	// Relationship passes.
	for _, profile := range profiles {
		if profile.Err != "" {
			continue
		}
		if profile.IsAssociationTable {
			b.addAssociationRelationship(ctx, &plan, index, profile, cfg)
			continue
		}
		b.addEmbeddedRelationships(ctx, &plan, index, profile)
	}

	return plan
}

// nodeKey picks the unique key for an entity profile: first primary-key
// candidate, else the first column whose sample was fully distinct, else the
// first column as a degraded fallback.
func (b *PlanBuilder) nodeKey(ctx context.Context, profile FileProfile) (string, bool) {
	if pks := profile.PrimaryKeyCandidates(); len(pks) > 0 {
		return pks[0].Name, true
	}
	if col, ok := profile.FirstUniqueColumn(); ok {
		return col.Name, true
	}
	if len(profile.Columns) == 0 {
		return "", false
	}
	b.logger().WarnContext(ctx, "no unique key column found, falling back to first column",
		"source", profile.Source,
		"entity", profile.EntityLabel,
		"fallback_column", profile.Columns[0].Name,
	)
	return profile.Columns[0].Name, true
}

func (b *PlanBuilder) addAssociationRelationship(ctx context.Context, plan *ConstructionPlan, index *nodeKeyIndex, profile FileProfile, cfg PlanBuilderConfig) {
	type resolvedFK struct {
		column string
		label  string
	}

	var resolved []resolvedFK
	for _, fk := range profile.ForeignKeys() {
		label, _, ok := index.resolve(fk)
		if !ok {
			b.logger().InfoContext(ctx, "dropping unresolved foreign key",
				"source", profile.Source,
				"column", fk.Name,
				"referenced_entity", fk.ReferencedEntity,
			)
			continue
		}
		resolved = append(resolved, resolvedFK{column: fk.Name, label: label})
		if len(resolved) == 2 {
			break
		}
	}
	if len(resolved) < 2 {
		return
	}

	from, to := resolved[0], resolved[1]
	relType := b.associationType(profile.Source)

	// Recognizable pairs get a canonical verb and a fixed direction.
	pair := []string{from.label, to.label}
	sort.Strings(pair)
	if verb, ok := mappingVerbs[pair[0]+"|"+pair[1]]; ok {
		relType = verb.relType
		if !strings.EqualFold(from.label, verb.fromLabel) {
			from, to = to, from
		}
	}

	properties := make([]string, 0, len(profile.Columns))
	for _, col := range profile.Columns {
		if col.Role == RoleAttribute {
			properties = append(properties, col.Name)
		}
	}
	if len(properties) > cfg.MaxRelationshipProperties {
		properties = properties[:cfg.MaxRelationshipProperties]
	}

	spec := RelationshipSpec{
		Type:       relType,
		SourceFile: profile.Source,
		FromLabel:  from.label,
		FromColumn: from.column,
		ToLabel:    to.label,
		ToColumn:   to.column,
		Properties: properties,
	}
	plan.addEntry(relType, PlanEntry{ConstructionType: ConstructionRelationship, Relationship: &spec})
}

// associationType derives a relationship type from the association filename
// when no canonical verb applies.
func (b *PlanBuilder) associationType(source string) string {
	stem := strings.ToLower(fileStem(source))
	switch {
	case strings.Contains(stem, "_to_"):
		return strings.ToUpper(stem)
	case strings.Contains(stem, "mapping"), strings.Contains(stem, "relationship"):
		return "MAPPED_TO"
	default:
		return strings.ToUpper(stem)
	}
}

func (b *PlanBuilder) addEmbeddedRelationships(ctx context.Context, plan *ConstructionPlan, index *nodeKeyIndex, profile FileProfile) {
	if profile.EntityLabel == "" {
		return
	}
	if _, owned := index.keys[profile.EntityLabel]; !owned {
		return
	}

	ownerKey := index.keys[profile.EntityLabel]

	for _, fk := range profile.ForeignKeys() {
		label, _, ok := index.resolve(fk)
		if !ok {
			b.logger().InfoContext(ctx, "dropping unresolved foreign key",
				"source", profile.Source,
				"column", fk.Name,
				"referenced_entity", fk.ReferencedEntity,
			)
			continue
		}

		// The source row carries both the owner's key column and the foreign
		// key, so the owner side joins on its own key and the target side on
		// the foreign-key value.
		relType := b.embeddedType(fk, label)
		spec := RelationshipSpec{
			Type:       relType,
			SourceFile: profile.Source,
			FromLabel:  profile.EntityLabel,
			FromColumn: ownerKey,
			ToLabel:    label,
			ToColumn:   fk.Name,
			Properties: []string{},
		}
		plan.addEntry(relType, PlanEntry{ConstructionType: ConstructionRelationship, Relationship: &spec})
	}
}

// embeddedType picks the type for an embedded foreign-key relationship:
// semantic overrides first, generic HAS_<ENTITY> otherwise.
func (b *PlanBuilder) embeddedType(fk ColumnProfile, targetLabel string) string {
	base := strings.TrimSuffix(strings.ToLower(fk.Name), "_id")
	for _, override := range fkTypeOverrides {
		if strings.Contains(base, override.token) {
			return override.relType
		}
	}
	return "HAS_" + strings.ToUpper(targetLabel)
}

func (b *PlanBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
