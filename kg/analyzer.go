// analyzer.go classifies tabular sources ahead of plan building.
//
// For each file the StructuralAnalyzer reads a bounded sample and decides,
// per column, whether it looks like a primary key, a foreign key, or a plain
// attribute, and, per file, whether the file is an entity table or an
// association (junction) table. The column decision is an ordered rule table
// evaluated top-down with the first match winning, so the heuristics stay
// auditable and testable without file I/O.
//
// Analysis is non-fatal by design: an unreadable or malformed file yields a
// FileProfile carrying an error marker and no columns, and the analyzer moves
// on. The orchestrator surfaces these as warnings.

package kg

import (
	"context"
	"log/slog"
	"strings"
)

// ColumnRole is the inferred role of a sampled column.
type ColumnRole string

const (
	RolePrimaryKeyCandidate ColumnRole = "primary_key_candidate"
	RoleForeignKeyCandidate ColumnRole = "foreign_key_candidate"
	RoleAttribute           ColumnRole = "attribute"
)

// ColumnProfile is the per-column analysis result. Immutable once computed.
type ColumnProfile struct {
	Name            string     `json:"name"`
	Role            ColumnRole `json:"inferred_role"`
	UniquenessRatio float64    `json:"uniqueness_ratio"`
	NullCount       int        `json:"null_count"`

	// ReferencedEntity is set only for foreign-key candidates; it is the
	// entity label derived from the column name ("supplier_id" -> "Supplier").
	ReferencedEntity string `json:"referenced_entity,omitempty"`
}

// FileProfile is the per-file analysis result, consumed read-only downstream.
type FileProfile struct {
	Source             string          `json:"source"`
	RowCount           int             `json:"row_count"`
	ColumnCount        int             `json:"column_count"`
	Columns            []ColumnProfile `json:"columns"`
	IsAssociationTable bool            `json:"is_association_table"`
	EntityLabel        string          `json:"entity_label,omitempty"`
	Err                string          `json:"error,omitempty"`
}

// PrimaryKeyCandidates returns the primary-key candidate columns in order.
func (p FileProfile) PrimaryKeyCandidates() []ColumnProfile {
	return p.columnsWithRole(RolePrimaryKeyCandidate)
}

// ForeignKeys returns the foreign-key candidate columns in order.
func (p FileProfile) ForeignKeys() []ColumnProfile {
	return p.columnsWithRole(RoleForeignKeyCandidate)
}

func (p FileProfile) columnsWithRole(role ColumnRole) []ColumnProfile {
	var out []ColumnProfile
	for _, c := range p.Columns {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// FirstUniqueColumn returns the first column whose sampled values were all
// distinct and fully populated, regardless of role. Used as the node-key
// fallback when no column matched the primary-key name pattern.
func (p FileProfile) FirstUniqueColumn() (ColumnProfile, bool) {
	for _, c := range p.Columns {
		if c.UniquenessRatio >= 1.0 && c.NullCount == 0 && p.RowCount > 0 {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

// AnalyzerConfig carries the tunable heuristics.
type AnalyzerConfig struct {
	// SampleRows bounds how many data rows are read per file.
	SampleRows int

	// AssociationTokens are filename substrings that mark a file as an
	// association table regardless of its columns.
	AssociationTokens []string

	// AssociationMaxColumns is the column-count cutoff for the structural
	// association heuristic: a file with at least two foreign-key candidates
	// and no more columns than this is treated as an association table.
	// Known ambiguity: small entity tables with two natural foreign keys can
	// be misclassified. The cutoff is tunable, not a hard rule.
	AssociationMaxColumns int
}

const (
	defaultSampleRows            = 50
	defaultAssociationMaxColumns = 4
)

func defaultAssociationTokens() []string {
	return []string{"mapping", "_to_", "relationship"}
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.SampleRows <= 0 {
		c.SampleRows = defaultSampleRows
	}
	if len(c.AssociationTokens) == 0 {
		c.AssociationTokens = defaultAssociationTokens()
	}
	if c.AssociationMaxColumns <= 0 {
		c.AssociationMaxColumns = defaultAssociationMaxColumns
	}
	return c
}

// StructuralAnalyzer classifies tabular files.
type StructuralAnalyzer struct {
	Sampler RowSampler
	Config  AnalyzerConfig
	Logger  *slog.Logger
}

// NewStructuralAnalyzer builds an analyzer with defaulted configuration.
func NewStructuralAnalyzer(sampler RowSampler, cfg AnalyzerConfig) *StructuralAnalyzer {
	if sampler == nil {
		sampler = &CSVReader{}
	}
	return &StructuralAnalyzer{
		Sampler: sampler,
		Config:  cfg.withDefaults(),
	}
}

// columnFacts is the input a column rule sees: the normalized name, sampled
// value statistics, and whether the filename already marks an association.
type columnFacts struct {
	name            string
	unique          bool
	associationFile bool
}

// columnRule maps a column pattern to a role. Rules are ordered; the first
// matching rule decides.
type columnRule struct {
	name  string
	match func(columnFacts) bool
	role  ColumnRole
}

var columnRules = []columnRule{
	{
		// "id" or "*_key" with all-distinct sampled values.
		name: "primary_key_by_name",
		match: func(f columnFacts) bool {
			return (f.name == "id" || strings.HasSuffix(f.name, "_key")) && f.unique
		},
		role: RolePrimaryKeyCandidate,
	},
	{
		// In association-named files every "*_id" column is a join key,
		// even when the sample happens to be distinct.
		name: "foreign_key_in_association_file",
		match: func(f columnFacts) bool {
			return strings.HasSuffix(f.name, "_id") && f.name != "id" && f.associationFile
		},
		role: RoleForeignKeyCandidate,
	},
	{
		// "*_id" with repeated sampled values references another table.
		name: "foreign_key_non_unique",
		match: func(f columnFacts) bool {
			return strings.HasSuffix(f.name, "_id") && f.name != "id" && !f.unique
		},
		role: RoleForeignKeyCandidate,
	},
	{
		name:  "attribute",
		match: func(columnFacts) bool { return true },
		role:  RoleAttribute,
	},
}

func classifyColumn(facts columnFacts) ColumnRole {
	for _, rule := range columnRules {
		if rule.match(facts) {
			return rule.role
		}
	}
	return RoleAttribute
}

// Analyze profiles a single tabular source. Errors are folded into the
// returned profile rather than returned, so a bad file never aborts a batch.
func (a *StructuralAnalyzer) Analyze(ctx context.Context, path string) FileProfile {
	cfg := a.Config.withDefaults()

	profile := FileProfile{Source: path}

	sample, err := a.Sampler.Sample(ctx, path, cfg.SampleRows)
	if err != nil {
		profile.Err = err.Error()
		a.logger().WarnContext(ctx, "tabular analysis failed",
			"source", path,
			"error", err,
		)
		return profile
	}

	stem := strings.ToLower(fileStem(path))
	associationByName := containsToken(stem, cfg.AssociationTokens)

	profile.RowCount = len(sample.Rows)
	profile.ColumnCount = len(sample.Header)
	profile.Columns = make([]ColumnProfile, 0, len(sample.Header))

	for i, name := range sample.Header {
		distinct := make(map[string]struct{}, len(sample.Rows))
		nullCount := 0
		for _, row := range sample.Rows {
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			if value == "" {
				nullCount++
				continue
			}
			distinct[value] = struct{}{}
		}

		populated := len(sample.Rows) - nullCount
		ratio := 0.0
		unique := false
		if populated > 0 {
			ratio = float64(len(distinct)) / float64(populated)
			unique = len(distinct) == populated && nullCount == 0
		}

		normalized := strings.ToLower(strings.TrimSpace(name))
		role := classifyColumn(columnFacts{
			name:            normalized,
			unique:          unique,
			associationFile: associationByName,
		})

		col := ColumnProfile{
			Name:            name,
			Role:            role,
			UniquenessRatio: ratio,
			NullCount:       nullCount,
		}
		if role == RoleForeignKeyCandidate {
			col.ReferencedEntity = referencedEntityFromColumn(normalized)
		}
		profile.Columns = append(profile.Columns, col)
	}

	foreignKeys := len(profile.ForeignKeys())
	profile.IsAssociationTable = associationByName ||
		(foreignKeys >= 2 && profile.ColumnCount <= cfg.AssociationMaxColumns)

	if !profile.IsAssociationTable {
		profile.EntityLabel = entityLabelFromName(fileStem(path))
	}

	return profile
}

// AnalyzeAll profiles every source, skipping none; failed files come back
// with error markers.
func (a *StructuralAnalyzer) AnalyzeAll(ctx context.Context, paths []string) []FileProfile {
	profiles := make([]FileProfile, 0, len(paths))
	for _, path := range paths {
		profiles = append(profiles, a.Analyze(ctx, path))
	}
	return profiles
}

func (a *StructuralAnalyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
