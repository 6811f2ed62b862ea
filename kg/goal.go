// goal.go infers a construction goal from the file inventory alone. The
// inference is rule-based: filename keywords map to domain indicators and
// entity types, and the combination of indicators picks the graph kind. No
// file contents are read at this stage.

package kg

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Goal describes what the graph under construction is for. It is persisted
// as the first pipeline artifact and consulted by file selection.
type Goal struct {
	KindOfGraph      string    `json:"kind_of_graph"`
	Description      string    `json:"description"`
	PrimaryEntities  []string  `json:"primary_entities"`
	ContentSources   []string  `json:"content_sources"`
	ExpectedInsights []string  `json:"expected_insights"`
	Timestamp        time.Time `json:"timestamp"`
}

// goalRule maps a filename keyword to the domain signal it carries.
type goalRule struct {
	keyword    string
	domain     string
	entityType string
}

// Ordered so the first matching keyword wins per file, matching the
// classification used by the structural analyzer's naming conventions.
var tabularGoalRules = []goalRule{
	{keyword: "product", domain: "e-commerce/retail", entityType: "Product"},
	{keyword: "supplier", domain: "supply chain", entityType: "Supplier"},
	{keyword: "customer", domain: "customer relationship", entityType: "Customer"},
	{keyword: "part", domain: "manufacturing", entityType: "Part"},
	{keyword: "component", domain: "manufacturing", entityType: "Part"},
	// "assembl" covers both "assembly" and the plural "assemblies" stem.
	{keyword: "assembl", domain: "bill of materials", entityType: "Assembly"},
	{keyword: "order", domain: "order management", entityType: "Order"},
	{keyword: "employee", domain: "human resources", entityType: "Employee"},
	{keyword: "staff", domain: "human resources", entityType: "Employee"},
}

// textGoalRule maps a text filename keyword to a content source and the
// insights that kind of content tends to yield.
type textGoalRule struct {
	keyword  string
	source   string
	insights string
}

var textGoalRules = []textGoalRule{
	{keyword: "review", source: "customer reviews", insights: "quality issues, customer satisfaction"},
	{keyword: "report", source: "business reports", insights: "performance metrics, trends"},
	{keyword: "email", source: "communications", insights: "interactions, sentiments"},
	{keyword: "message", source: "communications", insights: "interactions, sentiments"},
	{keyword: "description", source: "product descriptions", insights: "features, specifications"},
	{keyword: "feedback", source: "feedback data", insights: "issues, improvements"},
	{keyword: "log", source: "system logs", insights: "events, errors"},
}

// useCaseByDomain adds the closing sentence of the goal description.
var useCaseByDomain = map[string]string{
	"supply chain analysis":   "Enables root cause analysis, supplier risk assessment, and cost optimization",
	"customer analytics":      "Supports customer segmentation, recommendation systems, and satisfaction tracking",
	"organizational analysis": "Facilitates team dynamics, skill mapping, and resource planning",
	"production management":   "Optimizes production flow, quality control, and inventory management",
	"business operations":     "Provides insights into operational efficiency and business intelligence",
}

// GoalPlanner determines the construction goal from the file inventory.
type GoalPlanner struct {
	Logger *slog.Logger
}

// DetermineGoal analyzes file names and produces a Goal. Both slices may be
// empty; the result degrades to a generic business-operations goal.
func (p *GoalPlanner) DetermineGoal(ctx context.Context, tabularFiles, textFiles []string) Goal {
	var (
		domains       []string
		entityTypes   []string
		relationships []string
	)
	for _, file := range tabularFiles {
		name := strings.ToLower(filepath.Base(file))
		for _, rule := range tabularGoalRules {
			if strings.Contains(name, rule.keyword) {
				domains = append(domains, rule.domain)
				entityTypes = append(entityTypes, rule.entityType)
				break
			}
		}
		if containsToken(name, []string{"mapping", "_to_", "relationship"}) {
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			parts := strings.Split(stem, "_")
			relationships = append(relationships, "Links between "+strings.Join(parts, " and "))
		}
	}
	domains = dedupeStrings(domains)
	entityTypes = dedupeStrings(entityTypes)

	var (
		sources  []string
		insights []string
	)
	for _, file := range textFiles {
		name := strings.ToLower(filepath.Base(file))
		for _, rule := range textGoalRules {
			if strings.Contains(name, rule.keyword) {
				sources = append(sources, rule.source)
				insights = append(insights, rule.insights)
				break
			}
		}
	}
	sources = dedupeStrings(sources)
	insights = dedupeStrings(insights)

	goal := Goal{
		KindOfGraph:      primaryDomain(domains),
		PrimaryEntities:  entityTypes,
		ContentSources:   sources,
		ExpectedInsights: insights,
		Timestamp:        time.Now().UTC(),
	}
	goal.Description = describeGoal(goal, relationships)

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "construction goal determined",
		"kind_of_graph", goal.KindOfGraph,
		"primary_entities", goal.PrimaryEntities,
		"content_sources", goal.ContentSources,
	)
	return goal
}

// primaryDomain resolves the graph kind from the observed domain indicators.
// Combinations take precedence over single indicators.
func primaryDomain(domains []string) string {
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		seen[d] = true
	}
	switch {
	case seen["supply chain"] && seen["bill of materials"]:
		return "supply chain analysis"
	case seen["e-commerce/retail"] && seen["customer relationship"]:
		return "customer analytics"
	case seen["human resources"]:
		return "organizational analysis"
	case seen["manufacturing"]:
		return "production management"
	default:
		return "business operations"
	}
}

func describeGoal(goal Goal, relationships []string) string {
	var parts []string
	if len(goal.PrimaryEntities) > 0 {
		parts = append(parts, fmt.Sprintf("A comprehensive graph connecting %s", strings.Join(goal.PrimaryEntities, ", ")))
	}
	if len(relationships) > 0 {
		sort.Strings(relationships)
		parts = append(parts, fmt.Sprintf("with relationships showing %s", strings.Join(relationships, "; ")))
	}
	if len(goal.ContentSources) > 0 {
		parts = append(parts, fmt.Sprintf("Enhanced with %s", strings.Join(goal.ContentSources, ", ")))
	}
	if len(goal.ExpectedInsights) > 0 {
		parts = append(parts, fmt.Sprintf("to analyze %s", strings.Join(goal.ExpectedInsights, ", ")))
	}
	useCase, ok := useCaseByDomain[goal.KindOfGraph]
	if !ok {
		useCase = "Provides comprehensive business insights"
	}
	parts = append(parts, useCase)
	return strings.Join(parts, ". ")
}
