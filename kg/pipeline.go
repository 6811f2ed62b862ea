// pipeline.go orchestrates the end-to-end construction run: goal
// determination, file selection, schema generation, domain graph
// materialization, subject graph construction, and entity resolution, in
// that order. Plan-producing phases persist their output as artifacts and
// reload them on later runs, so an aborted run resumes from the first phase
// whose artifact is missing. Graph-writing phases are idempotent MERGE
// streams, so re-running them after a partial failure converges rather than
// duplicating.

package kg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase identifies one pipeline stage. Phases are strictly ordered; a run
// advances through them and records the last one completed.
type Phase string

const (
	PhaseGoalDetermined    Phase = "goal_determined"
	PhaseFilesSelected     Phase = "files_selected"
	PhaseSchemaGenerated   Phase = "schema_generated"
	PhaseDomainGraphBuilt  Phase = "domain_graph_built"
	PhaseSubjectGraphBuilt Phase = "subject_graph_built"
	PhaseEntitiesResolved  Phase = "entities_resolved"
	PhaseComplete          Phase = "complete"
)

// BuildRequest controls one construction run.
type BuildRequest struct {
	// Reset wipes all graph data, constraints, and indexes before building.
	Reset bool `json:"reset"`

	// ForceRegeneratePlans ignores persisted artifacts and re-derives the
	// goal, selection, and plans from the current data directory.
	ForceRegeneratePlans bool `json:"force_regenerate_plans"`

	// LimitTextFiles caps how many selected text sources feed the subject
	// graph. Zero means no limit.
	LimitTextFiles int `json:"limit_text_files"`
}

// DiscoveredFiles summarizes the data-directory walk.
type DiscoveredFiles struct {
	TabularCount int `json:"csv_count"`
	TextCount    int `json:"text_count"`
}

// SchemaSummary summarizes the schema-generation phase.
type SchemaSummary struct {
	NodesPlanned         int `json:"nodes_planned"`
	RelationshipsPlanned int `json:"relationships_planned"`
	EntityTypes          int `json:"entity_types"`
	FactTypes            int `json:"fact_types"`
}

// SelectionSummary summarizes the file-selection phase.
type SelectionSummary struct {
	SelectedTabular int `json:"selected_csv"`
	SelectedText    int `json:"selected_text"`
}

// BuildResult is the full record of one run, persisted to the run ledger.
type BuildResult struct {
	RunID     string `json:"run_id"`
	DatasetID string `json:"dataset_id"`
	Status    string `json:"status"`

	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	ExecutionSeconds float64   `json:"execution_time_seconds"`

	Phase           Phase             `json:"phase"`
	DiscoveredFiles DiscoveredFiles   `json:"discovered_files"`
	Goal            *Goal             `json:"goal,omitempty"`
	FileSelection   *SelectionSummary `json:"file_selection,omitempty"`
	Schema          *SchemaSummary    `json:"schema_generation,omitempty"`
	Domain          *MaterializeResult `json:"domain,omitempty"`
	Subject         *SubjectResult    `json:"subject,omitempty"`
	Resolution      *ResolutionResult `json:"resolution,omitempty"`
	FinalStatistics *GraphTotals      `json:"final_statistics,omitempty"`

	Error string `json:"error,omitempty"`
	Trace string `json:"traceback,omitempty"`
}

// Pipeline wires the construction components together. Zero-value fields
// fall back to sensible defaults where one exists; GraphStore, Sampler,
// Rows, and Artifacts must be provided.
type Pipeline struct {
	DatasetID string
	DataDir   string

	Store     GraphStore
	Sampler   RowSampler
	Rows      RowStreamer
	Artifacts ArtifactStore
	Ledger    RunLedger

	LeaseManager RunLeaseManager
	LeaseTTL     time.Duration

	Chunker   TextChunker
	Extractor EntityExtractor

	AnalyzerConfig      AnalyzerConfig
	PlanConfig          PlanBuilderConfig
	SelectionThreshold  float64
	SimilarityThreshold float64
	MatchFields         map[string]string
	WriteBatchSize      int

	Metrics Metrics
	Logger  *slog.Logger
}

// Option configures Pipeline instances.
type Option func(*Pipeline)

// WithLedger sets the run ledger for persisting build results.
func WithLedger(ledger RunLedger) Option {
	return func(p *Pipeline) {
		p.Ledger = ledger
	}
}

// WithLeaseManager sets the lease manager for distributed coordination.
func WithLeaseManager(mgr RunLeaseManager) Option {
	return func(p *Pipeline) {
		if mgr == nil {
			p.LeaseManager = NewInMemoryRunLeaseManager()
			return
		}
		p.LeaseManager = mgr
	}
}

// WithLeaseTTL sets the TTL for run leases.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl <= 0 {
			p.LeaseTTL = defaultRunLeaseTTL
			return
		}
		p.LeaseTTL = ttl
	}
}

// WithExtractor sets the entity extractor for subject graph construction.
func WithExtractor(extractor EntityExtractor) Option {
	return func(p *Pipeline) {
		p.Extractor = extractor
	}
}

// WithSampler overrides the tabular sampler (for example, the DuckDB-backed
// one for large files).
func WithSampler(sampler RowSampler) Option {
	return func(p *Pipeline) {
		if sampler != nil {
			p.Sampler = sampler
		}
	}
}

// WithSimilarityThreshold sets the resolution similarity cutoff.
func WithSimilarityThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		if threshold > 0 {
			p.SimilarityThreshold = threshold
		}
	}
}

// WithMatchFields overrides per-type match fields for entity resolution.
func WithMatchFields(fields map[string]string) Option {
	return func(p *Pipeline) {
		if len(fields) > 0 {
			p.MatchFields = fields
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.Metrics = m
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.Logger = logger
		}
	}
}

// WithWriteBatchSize sets the materializer batch size.
func WithWriteBatchSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.WriteBatchSize = size
		}
	}
}

// NewPipeline creates a pipeline over a graph store, a data directory, and
// an artifact store. The default sampler and streamer read CSV directly;
// the dataset ID defaults to the data directory base name.
func NewPipeline(store GraphStore, dataDir string, artifacts ArtifactStore, opts ...Option) *Pipeline {
	reader := &CSVReader{}
	p := &Pipeline{
		DatasetID:           filepath.Base(filepath.Clean(dataDir)),
		DataDir:             dataDir,
		Store:               store,
		Sampler:             reader,
		Rows:                reader,
		Artifacts:           artifacts,
		LeaseManager:        NewInMemoryRunLeaseManager(),
		LeaseTTL:            defaultRunLeaseTTL,
		SelectionThreshold:  defaultSelectionThreshold,
		SimilarityThreshold: defaultSimilarityThreshold,
		Metrics:             NoopMetrics{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) metrics() Metrics {
	if p.Metrics != nil {
		return p.Metrics
	}
	return NoopMetrics{}
}

// discoverFiles walks the data directory collecting tabular (.csv) and text
// (.md, .txt) sources.
func (p *Pipeline) discoverFiles() (tabular, text []string, err error) {
	err = filepath.WalkDir(p.DataDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			tabular = append(tabular, path)
		case ".md", ".txt":
			text = append(text, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("discover files in %s: %w", p.DataDir, err)
	}
	sort.Strings(tabular)
	sort.Strings(text)
	return tabular, text, nil
}

// ResetGraph wipes all graph data plus every constraint and index. The
// confirm flag is a deliberate speed bump: callers must assert they mean it
// or get ErrResetNotConfirmed.
func (p *Pipeline) ResetGraph(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrResetNotConfirmed
	}
	if p.Store == nil {
		return ErrGraphStoreNotConfigured
	}

	constraints, err := p.Store.Execute(ctx, "SHOW CONSTRAINTS YIELD name", nil)
	if err != nil {
		return fmt.Errorf("list constraints: %w", err)
	}
	for _, rec := range constraints {
		name := recordString(rec, "name")
		if name == "" {
			continue
		}
		if _, err := p.Store.Execute(ctx, "DROP CONSTRAINT `"+name+"` IF EXISTS", nil); err != nil {
			return fmt.Errorf("drop constraint %s: %w", name, err)
		}
	}

	indexes, err := p.Store.Execute(ctx, "SHOW INDEXES YIELD name, type WHERE type <> 'LOOKUP' RETURN name", nil)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	for _, rec := range indexes {
		name := recordString(rec, "name")
		if name == "" {
			continue
		}
		if _, err := p.Store.Execute(ctx, "DROP INDEX `"+name+"` IF EXISTS", nil); err != nil {
			return fmt.Errorf("drop index %s: %w", name, err)
		}
	}

	_, err = p.Store.Execute(ctx,
		"MATCH (n)\n"+
			"CALL {\n"+
			"    WITH n\n"+
			"    DETACH DELETE n\n"+
			"} IN TRANSACTIONS OF 10000 ROWS",
		nil,
	)
	if err != nil {
		return fmt.Errorf("clear graph data: %w", err)
	}

	p.logger().InfoContext(ctx, "graph reset", "dataset_id", p.DatasetID)
	return nil
}

// Build runs the full pipeline. The returned BuildResult always describes
// the run, including failures; the error return is reserved for conditions
// that prevented the run from starting at all (for example, a held lease).
func (p *Pipeline) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	leaseManager, lease, err := p.acquireRunLease(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := leaseManager.Release(context.Background(), lease); releaseErr != nil {
			p.logger().WarnContext(ctx, "run lease release failed", "dataset_id", p.DatasetID, "error", releaseErr)
		}
	}()

	start := time.Now().UTC()
	result := &BuildResult{
		RunID:     uuid.New().String(),
		DatasetID: p.DatasetID,
		Status:    "running",
		StartTime: start,
	}

	buildErr := p.runPhases(ctx, req, result)

	result.EndTime = time.Now().UTC()
	result.ExecutionSeconds = result.EndTime.Sub(result.StartTime).Seconds()
	if buildErr != nil {
		result.Status = "error"
		result.Error = buildErr.Error()
		result.Trace = string(debug.Stack())
	} else {
		result.Status = "success"
		result.Phase = PhaseComplete
	}

	var nodes, rels int64
	if result.FinalStatistics != nil {
		nodes = result.FinalStatistics.TotalNodes
		rels = result.FinalStatistics.TotalRelationships
	}
	p.metrics().RecordBuild(p.DatasetID, result.EndTime.Sub(result.StartTime).Milliseconds(), nodes, rels, buildErr)

	p.persistRun(ctx, result)

	p.logger().InfoContext(ctx, "build finished",
		"run_id", result.RunID,
		"dataset_id", p.DatasetID,
		"status", result.Status,
		"phase", result.Phase,
		"duration", result.EndTime.Sub(result.StartTime).String(),
	)
	return result, nil
}

// runPhases executes the ordered phases, aborting at the first failure.
// Artifacts published by completed phases stay valid, so the next run
// resumes past them.
func (p *Pipeline) runPhases(ctx context.Context, req BuildRequest, result *BuildResult) error {
	if req.Reset {
		if err := p.ResetGraph(ctx, true); err != nil {
			return fmt.Errorf("reset graph: %w", err)
		}
	}

	tabular, text, err := p.discoverFiles()
	if err != nil {
		return err
	}
	result.DiscoveredFiles = DiscoveredFiles{TabularCount: len(tabular), TextCount: len(text)}

	// Phase 1: goal determination.
	goal, err := p.phaseGoal(ctx, tabular, text, req.ForceRegeneratePlans)
	if err != nil {
		return err
	}
	result.Goal = goal
	result.Phase = PhaseGoalDetermined

	// Phase 2: file selection.
	selection, err := p.phaseSelectFiles(ctx, tabular, text, *goal, req.ForceRegeneratePlans)
	if err != nil {
		return err
	}
	result.FileSelection = &SelectionSummary{
		SelectedTabular: len(selection.ApprovedTabularFiles),
		SelectedText:    len(selection.ApprovedTextFiles),
	}
	result.Phase = PhaseFilesSelected

	selectedText := selection.ApprovedTextFiles
	if req.LimitTextFiles > 0 && len(selectedText) > req.LimitTextFiles {
		p.logger().InfoContext(ctx, "limiting text sources", "limit", req.LimitTextFiles, "selected", len(selectedText))
		selectedText = selectedText[:req.LimitTextFiles]
	}

	// Phase 3: schema generation.
	plan, extraction, err := p.phaseGenerateSchema(ctx, selection.ApprovedTabularFiles, selectedText, *goal, req.ForceRegeneratePlans)
	if err != nil {
		return err
	}
	result.Schema = &SchemaSummary{
		NodesPlanned:         len(plan.NodeEntries()),
		RelationshipsPlanned: len(plan.RelationshipEntries()),
		EntityTypes:          len(extraction.EntityTypes),
		FactTypes:            len(extraction.FactTypes),
	}
	result.Phase = PhaseSchemaGenerated

	// Phase 4: domain graph materialization.
	domain, err := p.phaseDomainGraph(ctx, plan)
	if err != nil {
		return err
	}
	result.Domain = domain
	result.Phase = PhaseDomainGraphBuilt

	// Phase 5: subject graph, only when text sources were selected and an
	// extractor is wired.
	if len(selectedText) > 0 && p.Extractor != nil {
		subject, err := p.phaseSubjectGraph(ctx, selectedText, extraction)
		if err != nil {
			return err
		}
		result.Subject = subject
		result.Phase = PhaseSubjectGraphBuilt
	}

	// Phase 6: entity resolution across the two partitions.
	resolution, err := p.phaseResolveEntities(ctx, plan)
	if err != nil {
		return err
	}
	result.Resolution = resolution
	result.Phase = PhaseEntitiesResolved

	totals, err := GraphStatistics{Store: p.Store}.Totals(ctx)
	if err != nil {
		return fmt.Errorf("final statistics: %w", err)
	}
	result.FinalStatistics = totals

	return nil
}

// phaseGoal loads the persisted goal or derives a new one.
func (p *Pipeline) phaseGoal(ctx context.Context, tabular, text []string, force bool) (*Goal, error) {
	done := p.phaseTimer(PhaseGoalDetermined)

	if !force {
		var goal Goal
		if _, err := LoadArtifact(ctx, p.Artifacts, ArtifactGoal, &goal); err == nil {
			p.logger().InfoContext(ctx, "loaded existing goal", "kind_of_graph", goal.KindOfGraph)
			done(nil)
			return &goal, nil
		} else if !errors.Is(err, ErrArtifactNotFound) {
			done(err)
			return nil, fmt.Errorf("load goal artifact: %w", err)
		}
	}

	planner := GoalPlanner{Logger: p.Logger}
	goal := planner.DetermineGoal(ctx, tabular, text)
	if _, err := SaveArtifact(ctx, p.Artifacts, ArtifactGoal, goal); err != nil {
		done(err)
		return nil, fmt.Errorf("persist goal artifact: %w", err)
	}
	done(nil)
	return &goal, nil
}

// phaseSelectFiles loads the persisted selection or scores the inventory.
func (p *Pipeline) phaseSelectFiles(ctx context.Context, tabular, text []string, goal Goal, force bool) (*FileSelection, error) {
	done := p.phaseTimer(PhaseFilesSelected)

	if !force {
		var selection FileSelection
		if _, err := LoadArtifact(ctx, p.Artifacts, ArtifactFileSelection, &selection); err == nil {
			p.logger().InfoContext(ctx, "loaded existing file selection", "total_selected", selection.TotalSelected)
			done(nil)
			return &selection, nil
		} else if !errors.Is(err, ErrArtifactNotFound) {
			done(err)
			return nil, fmt.Errorf("load file selection artifact: %w", err)
		}
	}

	selector := FileSelector{Sampler: p.Sampler, Threshold: p.SelectionThreshold, Logger: p.Logger}
	selection := selector.Select(ctx, tabular, text, goal)
	if _, err := SaveArtifact(ctx, p.Artifacts, ArtifactFileSelection, selection); err != nil {
		done(err)
		return nil, fmt.Errorf("persist file selection artifact: %w", err)
	}
	done(nil)
	return &selection, nil
}

// phaseGenerateSchema loads persisted plans or derives them from profiles.
// Both plans regenerate together: the extraction plan depends on the
// construction plan's labels.
func (p *Pipeline) phaseGenerateSchema(ctx context.Context, tabular, text []string, goal Goal, force bool) (ConstructionPlan, ExtractionPlan, error) {
	done := p.phaseTimer(PhaseSchemaGenerated)

	if !force {
		var plan ConstructionPlan
		var extraction ExtractionPlan
		_, planErr := LoadArtifact(ctx, p.Artifacts, ArtifactConstructionPlan, &plan)
		_, extractionErr := LoadArtifact(ctx, p.Artifacts, ArtifactExtractionPlan, &extraction)
		if planErr == nil && extractionErr == nil {
			p.logger().InfoContext(ctx, "loaded existing plans",
				"nodes", len(plan.NodeEntries()),
				"relationships", len(plan.RelationshipEntries()),
			)
			done(nil)
			return plan, extraction, nil
		}
		for _, err := range []error{planErr, extractionErr} {
			if err != nil && !errors.Is(err, ErrArtifactNotFound) {
				done(err)
				return ConstructionPlan{}, ExtractionPlan{}, fmt.Errorf("load plan artifacts: %w", err)
			}
		}
	}

	analyzer := NewStructuralAnalyzer(p.Sampler, p.AnalyzerConfig)
	analyzer.Logger = p.Logger
	profiles := analyzer.AnalyzeAll(ctx, tabular)

	builder := NewPlanBuilder(p.PlanConfig)
	builder.Logger = p.Logger
	plan := builder.Build(ctx, profiles)

	extraction := BuildExtractionPlan(plan, text, goal)

	if _, err := SaveArtifact(ctx, p.Artifacts, ArtifactConstructionPlan, plan); err != nil {
		done(err)
		return ConstructionPlan{}, ExtractionPlan{}, fmt.Errorf("persist construction plan: %w", err)
	}
	if _, err := SaveArtifact(ctx, p.Artifacts, ArtifactExtractionPlan, extraction); err != nil {
		done(err)
		return ConstructionPlan{}, ExtractionPlan{}, fmt.Errorf("persist extraction plan: %w", err)
	}
	done(nil)
	return plan, extraction, nil
}

func (p *Pipeline) phaseDomainGraph(ctx context.Context, plan ConstructionPlan) (*MaterializeResult, error) {
	done := p.phaseTimer(PhaseDomainGraphBuilt)

	materializer := NewMaterializer(p.Store, p.Rows)
	materializer.BatchSize = p.WriteBatchSize
	materializer.Logger = p.Logger
	result, err := materializer.Materialize(ctx, plan)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("materialize domain graph: %w", err)
	}
	return result, nil
}

func (p *Pipeline) phaseSubjectGraph(ctx context.Context, files []string, extraction ExtractionPlan) (*SubjectResult, error) {
	done := p.phaseTimer(PhaseSubjectGraphBuilt)

	builder := SubjectGraphBuilder{
		Store:     p.Store,
		Chunker:   p.Chunker,
		Extractor: p.Extractor,
		Logger:    p.Logger,
	}
	result, err := builder.Build(ctx, files, extraction)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("build subject graph: %w", err)
	}
	return result, nil
}

// phaseResolveEntities removes stale correspondences and resolves the two
// partitions against each other over the domain's node labels.
func (p *Pipeline) phaseResolveEntities(ctx context.Context, plan ConstructionPlan) (*ResolutionResult, error) {
	done := p.phaseTimer(PhaseEntitiesResolved)

	engine := NewLinkageEngine(p.Store, p.SimilarityThreshold)
	engine.Logger = p.Logger
	if len(p.MatchFields) > 0 {
		engine.MatchFields = p.MatchFields
	}

	removed, err := engine.RemoveAllCorrespondences(ctx)
	if err != nil {
		done(err)
		return nil, err
	}
	if removed > 0 {
		p.logger().InfoContext(ctx, "removed stale correspondences", "count", removed)
	}

	result, err := engine.ResolveAll(ctx, plan.NodeLabels())
	done(err)
	if err != nil {
		return result, fmt.Errorf("resolve entities: %w", err)
	}
	return result, nil
}

// phaseTimer returns a completion callback recording phase duration and
// outcome.
func (p *Pipeline) phaseTimer(phase Phase) func(error) {
	start := time.Now()
	return func(err error) {
		p.metrics().RecordPhase(phase, time.Since(start).Milliseconds(), err)
	}
}

// persistRun records the result in the ledger. Failures are logged, not
// fatal: the build itself already happened.
func (p *Pipeline) persistRun(ctx context.Context, result *BuildResult) {
	if p.Ledger == nil {
		return
	}
	version, err := p.Ledger.HeadVersion(ctx, result.RunID)
	if err != nil {
		p.logger().WarnContext(ctx, "run ledger head failed", "run_id", result.RunID, "error", err)
		return
	}
	if _, err := p.Ledger.UpsertIfMatch(ctx, result.RunID, *result, version); err != nil {
		p.logger().WarnContext(ctx, "run ledger write failed", "run_id", result.RunID, "error", err)
	}
}
