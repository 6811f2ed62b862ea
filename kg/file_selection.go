// file_selection.go scores discovered source files against the construction
// goal and keeps the ones that clear a relevance threshold. Tabular files are
// scored on filename and header signals; text files additionally on a content
// sample. The selection is persisted so re-runs skip the pass.

package kg

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// The default is deliberately permissive so weakly-named text sources such
// as review files still make the cut.
const defaultSelectionThreshold = 0.15

// tabular selection uses a small header sample only.
const selectionSampleRows = 5
const selectionSampleLines = 10

// ScoredFile records why a file was selected or rejected.
type ScoredFile struct {
	File   string  `json:"file"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// FileSelection is the persisted outcome of the selection pass.
type FileSelection struct {
	ApprovedTabularFiles []string     `json:"approved_csv_files"`
	ApprovedTextFiles    []string     `json:"approved_text_files"`
	TabularAnalysis      []ScoredFile `json:"csv_analysis"`
	TextAnalysis         []ScoredFile `json:"text_analysis"`
	RejectedTabular      []ScoredFile `json:"rejected_csv"`
	RejectedText         []ScoredFile `json:"rejected_text"`
	Threshold            float64      `json:"selection_threshold"`
	TotalSelected        int          `json:"total_selected"`
	TotalRejected        int          `json:"total_rejected"`
}

// FileSelector decides which discovered files feed the construction.
type FileSelector struct {
	Sampler RowSampler

	// Threshold is the minimum relevance score. Zero value falls back to
	// the default.
	Threshold float64

	Logger *slog.Logger
}

// NewFileSelector builds a selector reading headers through sampler.
func NewFileSelector(sampler RowSampler) *FileSelector {
	return &FileSelector{Sampler: sampler, Threshold: defaultSelectionThreshold}
}

// Select scores every candidate file against the goal and partitions them
// into approved and rejected sets, approved sets sorted by score descending.
func (s *FileSelector) Select(ctx context.Context, tabularFiles, textFiles []string, goal Goal) FileSelection {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = defaultSelectionThreshold
	}

	selection := FileSelection{Threshold: threshold}

	for _, file := range tabularFiles {
		score, reason := s.scoreTabular(ctx, file, goal)
		scored := ScoredFile{File: file, Score: score, Reason: reason}
		if score >= threshold {
			selection.TabularAnalysis = append(selection.TabularAnalysis, scored)
		} else {
			selection.RejectedTabular = append(selection.RejectedTabular, scored)
		}
	}
	for _, file := range textFiles {
		score, reason := s.scoreText(file, goal)
		scored := ScoredFile{File: file, Score: score, Reason: reason}
		if score >= threshold {
			selection.TextAnalysis = append(selection.TextAnalysis, scored)
		} else {
			selection.RejectedText = append(selection.RejectedText, scored)
		}
	}

	sortScoredDesc(selection.TabularAnalysis)
	sortScoredDesc(selection.TextAnalysis)

	for _, f := range selection.TabularAnalysis {
		selection.ApprovedTabularFiles = append(selection.ApprovedTabularFiles, f.File)
	}
	for _, f := range selection.TextAnalysis {
		selection.ApprovedTextFiles = append(selection.ApprovedTextFiles, f.File)
	}
	selection.TotalSelected = len(selection.ApprovedTabularFiles) + len(selection.ApprovedTextFiles)
	selection.TotalRejected = len(selection.RejectedTabular) + len(selection.RejectedText)

	s.logger().InfoContext(ctx, "file selection complete",
		"selected_tabular", len(selection.ApprovedTabularFiles),
		"selected_text", len(selection.ApprovedTextFiles),
		"rejected", selection.TotalRejected,
		"threshold", threshold,
	)
	return selection
}

func sortScoredDesc(files []ScoredFile) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].Score > files[j].Score })
}

// scoreTabular accumulates relevance signals from the filename and a header
// sample. Unreadable files score zero rather than failing the pass.
func (s *FileSelector) scoreTabular(ctx context.Context, path string, goal Goal) (float64, string) {
	filename := strings.ToLower(filepath.Base(path))

	sample, err := s.Sampler.Sample(ctx, path, selectionSampleRows)
	if err != nil {
		return 0, fmt.Sprintf("cannot read file: %v", err)
	}
	headers := sample.Header

	var score float64
	var reasons []string

	for _, entity := range goal.PrimaryEntities {
		entity = strings.ToLower(entity)
		if strings.Contains(filename, entity) {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("filename contains entity %q", entity))
		}
		for _, header := range headers {
			if strings.Contains(strings.ToLower(header), entity) {
				score += 0.2
				reasons = append(reasons, fmt.Sprintf("has column related to %q", entity))
				break
			}
		}
	}

	var idColumns []string
	for _, header := range headers {
		h := strings.ToLower(header)
		if strings.Contains(h, "_id") || strings.HasSuffix(h, "id") {
			idColumns = append(idColumns, header)
		}
	}
	if len(idColumns) > 0 {
		score += 0.2
		if len(idColumns) > 3 {
			idColumns = idColumns[:3]
		}
		reasons = append(reasons, "contains ID columns: "+strings.Join(idColumns, ", "))
	}

	if strings.Contains(filename, "mapping") || headerContainsToken(headers, "_to_") {
		score += 0.3
		reasons = append(reasons, "appears to contain relationship data")
	}

	if keywords := domainKeywords(goal.KindOfGraph); len(keywords) > 0 && containsToken(filename, keywords) {
		score += 0.2
		reasons = append(reasons, "domain related content")
	}

	return capScore(score), joinReasons(reasons)
}

// scoreText accumulates relevance signals from the filename and the first
// lines of content.
func (s *FileSelector) scoreText(path string, goal Goal) (float64, string) {
	filename := strings.ToLower(filepath.Base(path))
	sample := strings.ToLower(sampleTextFile(path, selectionSampleLines))

	var score float64
	var reasons []string

	for _, source := range goal.ContentSources {
		if strings.Contains(filename, strings.ReplaceAll(strings.ToLower(source), " ", "_")) {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("matches content type %q", source))
		}
	}

	var found []string
	for _, entity := range goal.PrimaryEntities {
		entity = strings.ToLower(entity)
		if strings.Contains(sample, entity) {
			found = append(found, entity)
			score += 0.2
		}
	}
	if len(found) > 0 {
		reasons = append(reasons, "contains entities: "+strings.Join(found, ", "))
	}

	for _, insight := range goal.ExpectedInsights {
		if containsToken(sample, strings.Split(strings.ToLower(insight), ", ")) {
			score += 0.1
			reasons = append(reasons, "relevant for insight: "+insight)
		}
	}

	if strings.Contains(strings.ToLower(goal.KindOfGraph), "supply chain") {
		qualityKeywords := []string{"quality", "issue", "problem", "defect", "complaint", "review"}
		if containsToken(sample, qualityKeywords) {
			score += 0.2
			reasons = append(reasons, "contains quality/issue information")
		}
	}

	if strings.Contains(filename, "review") &&
		(strings.Contains(sample, "rating") || strings.Contains(sample, "stars")) {
		score += 0.2
		reasons = append(reasons, "structured review data with ratings")
	}

	return capScore(score), joinReasons(reasons)
}

func capScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	return score
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "no clear relevance indicators"
	}
	return strings.Join(reasons, "; ")
}

func headerContainsToken(headers []string, token string) bool {
	for _, h := range headers {
		if strings.Contains(strings.ToLower(h), token) {
			return true
		}
	}
	return false
}

// domainKeywords returns filename keywords that indicate goal-domain content.
func domainKeywords(kindOfGraph string) []string {
	kind := strings.ToLower(kindOfGraph)
	switch {
	case strings.Contains(kind, "supply chain"):
		return []string{"supplier", "part", "assembly", "product", "component", "inventory"}
	case strings.Contains(kind, "customer"):
		return []string{"customer", "order", "purchase", "transaction", "review"}
	default:
		return nil
	}
}

// sampleTextFile reads up to n lines; read errors yield an empty sample.
func sampleTextFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < n && scanner.Scan(); i++ {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *FileSelector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
