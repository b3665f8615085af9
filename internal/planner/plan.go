// Package planner turns the knowledge graph into an ordered investigation
// plan for the external agent: a fixed sequence of query tool calls shaped
// by which issues exist and how much of the pod's volume chain is known,
// followed by three fallback steps.
package planner

import (
	"errors"
	"fmt"
	"slices"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
)

// Tool names. They match the MCP tools that serve each query.
const (
	OpGetEntityInfo      = "kg_get_entity_info"
	OpGetRelatedEntities = "kg_get_related_entities"
	OpGetAllIssues       = "kg_get_all_issues"
	OpListEntities       = "kg_list_entities"
	OpFindPath           = "kg_find_path"
	OpGetSummary         = "kg_get_summary"
	OpAnalyzeIssues      = "kg_analyze_issues"
	OpPrintGraph         = "kg_print_graph"
	OpGeneratePlan       = "kg_generate_plan"
)

// Priority tags.
const (
	TagCriticalTarget       = "critical_target_issues"
	TagCriticalSystem       = "critical_system_issues"
	TagHighTarget           = "high_target_issues"
	TagHighSystem           = "high_system_issues"
	TagBasicInvestigation   = "basic_investigation"
	TagHardwareVerification = "hardware_verification"
)

// Fallback triggers.
const (
	TriggerEntityNotFound   = "entity_not_found"
	TriggerNoIssuesFound    = "no_issues_found"
	TriggerInsufficientData = "insufficient_data"
)

// ErrNoGraph is returned by Generate when called without a graph.
var ErrNoGraph = errors.New("no knowledge graph")

// Step is one tool call of an investigation plan.
type Step struct {
	Number          int            `json:"number"`
	Fallback        bool           `json:"fallback,omitempty"`
	Description     string         `json:"description"`
	Operation       string         `json:"operation"`
	Arguments       map[string]any `json:"arguments"`
	ExpectedOutcome string         `json:"expected_outcome"`
	Priority        string         `json:"priority,omitempty"`
	Category        string         `json:"category,omitempty"`
	Trigger         string         `json:"trigger,omitempty"`
}

// Label is "<n>" for main steps and "F<n>" for fallback steps.
func (s Step) Label() string {
	if s.Fallback {
		return fmt.Sprintf("F%d", s.Number)
	}
	return fmt.Sprintf("%d", s.Number)
}

// Plan is the structured investigation plan.
type Plan struct {
	Pod          string         `json:"pod"`
	Namespace    string         `json:"namespace"`
	VolumePath   string         `json:"volume_path"`
	Chain        Chain          `json:"chain"`
	PriorityTags []string       `json:"priority_tags"`
	Summary      kgraph.Summary `json:"summary"`
	Steps        []Step         `json:"steps"`
	Fallbacks    []Step         `json:"fallback_steps"`
}

// Categories returns the category of every main step in order.
func (p *Plan) Categories() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Category
	}
	return out
}

// PriorityTags derives the ordered priority tags: a critical tag, a high
// tag (each "target" when an issue of that severity sits on the chain,
// "system" when one exists elsewhere), then the two tags every plan gets.
func PriorityTags(g *kgraph.Graph, chain Chain) []string {
	var tags []string
	if tag := severityTag(g, chain, kgraph.SeverityCritical, TagCriticalTarget, TagCriticalSystem); tag != "" {
		tags = append(tags, tag)
	}
	if tag := severityTag(g, chain, kgraph.SeverityHigh, TagHighTarget, TagHighSystem); tag != "" {
		tags = append(tags, tag)
	}
	return append(tags, TagBasicInvestigation, TagHardwareVerification)
}

func severityTag(g *kgraph.Graph, chain Chain, sev kgraph.Severity, target, system string) string {
	issues := g.GetAllIssues(kgraph.IssueFilter{Severity: sev})
	if len(issues) == 0 {
		return ""
	}
	for _, issue := range issues {
		if chain.Contains(issue.EntityID) {
			return target
		}
	}
	return system
}

// Generator builds investigation plans.
type Generator struct {
	logger     *logging.Logger
	onFallback func(reason error)
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithFallbackHook registers a function called whenever GeneratePlan
// falls back to the basic plan.
func WithFallbackHook(fn func(reason error)) GeneratorOption {
	return func(gen *Generator) { gen.onFallback = fn }
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	gen := &Generator{logger: logging.GetLogger("planner")}
	for _, opt := range opts {
		opt(gen)
	}
	return gen
}

// Generate builds the structured plan for a pod and volume path.
func (gen *Generator) Generate(g *kgraph.Graph, podRef, namespace, volumePath string) (*Plan, error) {
	if g == nil {
		return nil, ErrNoGraph
	}

	summary := g.Summary()
	chain := WalkChain(g, podRef, namespace)
	tags := PriorityTags(g, chain)

	gen.logger.DebugWithFields("generating investigation plan",
		logging.Field("pod", podRef),
		logging.Field("namespace", namespace),
		logging.Field("issues", summary.TotalIssues),
		logging.Field("entities_with_issues", summary.EntitiesWithIssues),
		logging.Field("chain_complete", chain.Complete),
		logging.Field("broken_at", chain.BrokenAt),
	)

	plan := &Plan{
		Pod:          podRef,
		Namespace:    namespace,
		VolumePath:   volumePath,
		Chain:        chain,
		PriorityTags: tags,
		Summary:      summary,
		Steps:        mainSteps(chain, tags),
		Fallbacks:    fallbackSteps(),
	}
	return plan, nil
}

func mainSteps(chain Chain, tags []string) []Step {
	var steps []Step
	add := func(s Step) {
		s.Number = len(steps) + 1
		steps = append(steps, s)
	}

	add(Step{
		Description:     "Get all critical issues in the system",
		Operation:       OpGetAllIssues,
		Arguments:       map[string]any{"severity": string(kgraph.SeverityCritical)},
		ExpectedOutcome: "List of critical issues across all layers",
		Priority:        "critical",
		Category:        "critical_issues",
	})
	add(Step{
		Description:     "Analyze issue patterns and causal relationships",
		Operation:       OpAnalyzeIssues,
		Arguments:       map[string]any{},
		ExpectedOutcome: "Ranked root causes with confidence scores",
		Priority:        "critical",
		Category:        "causal_analysis",
	})

	if hasSeverityTag(tags) {
		add(Step{
			Description:     "Get high severity issues",
			Operation:       OpGetAllIssues,
			Arguments:       map[string]any{"severity": string(kgraph.SeverityHigh)},
			ExpectedOutcome: "List of high severity issues that may contribute to the failure",
			Priority:        "high",
			Category:        "high_priority_issues",
		})
	}

	if chain.Pod != nil {
		add(Step{
			Description:     fmt.Sprintf("Inspect pod %s, its issues and relationships", chain.Pod.QualifiedName()),
			Operation:       OpGetEntityInfo,
			Arguments:       map[string]any{"entity_type": string(kgraph.EntityPod), "entity_id": chain.Pod.ID},
			ExpectedOutcome: "Pod details, attached issues and its PVC and node relationships",
			Priority:        "high",
			Category:        "pod_investigation",
		})
	}

	if chain.Drive != nil {
		add(Step{
			Description:     fmt.Sprintf("Check health of drive %s backing the volume", chain.Drive.Name),
			Operation:       OpGetEntityInfo,
			Arguments:       map[string]any{"entity_type": string(kgraph.EntityDrive), "entity_id": chain.Drive.ID},
			ExpectedOutcome: "Drive health, SMART status and attached issues",
			Priority:        "high",
			Category:        "drive_investigation",
		})
	} else {
		add(Step{
			Description:     "Search for hardware issues in the storage layer",
			Operation:       OpGetAllIssues,
			Arguments:       map[string]any{"layer": string(kgraph.LayerStorage)},
			ExpectedOutcome: "Storage layer issues such as drive or capacity failures",
			Priority:        "medium",
			Category:        "hardware_investigation",
		})
	}

	if chain.Node != nil {
		add(Step{
			Description:     fmt.Sprintf("Check node %s hosting the drive", chain.Node.Name),
			Operation:       OpGetEntityInfo,
			Arguments:       map[string]any{"entity_type": string(kgraph.EntityNode), "entity_id": chain.Node.ID},
			ExpectedOutcome: "Node status and kernel or filesystem issues",
			Priority:        "medium",
			Category:        "node_investigation",
		})
	}

	if chain.Pod != nil && chain.Drive != nil {
		add(Step{
			Description: "Trace the dependency path from pod to drive",
			Operation:   OpFindPath,
			Arguments: map[string]any{
				"source_entity_type": string(kgraph.EntityPod),
				"source_entity_id":   chain.Pod.ID,
				"target_entity_type": string(kgraph.EntityDrive),
				"target_entity_id":   chain.Drive.ID,
			},
			ExpectedOutcome: "Entity chain connecting the pod to its physical drive",
			Priority:        "medium",
			Category:        "dependency_chain",
		})
	}

	add(Step{
		Description:     "Get overall system summary",
		Operation:       OpGetSummary,
		Arguments:       map[string]any{},
		ExpectedOutcome: "Entity, issue and relationship counts for the whole system",
		Priority:        "low",
		Category:        "system_overview",
	})
	return steps
}

func hasSeverityTag(tags []string) bool {
	return slices.ContainsFunc(tags, func(t string) bool {
		switch t {
		case TagCriticalTarget, TagCriticalSystem, TagHighTarget, TagHighSystem:
			return true
		}
		return false
	})
}

// fallbackSteps are the same for every plan.
func fallbackSteps() []Step {
	return []Step{
		{
			Number:          1,
			Fallback:        true,
			Description:     "List all pods to locate the target",
			Operation:       OpListEntities,
			Arguments:       map[string]any{"entity_type": string(kgraph.EntityPod)},
			ExpectedOutcome: "Known pods with their canonical ids",
			Priority:        "high",
			Category:        "entity_discovery",
			Trigger:         TriggerEntityNotFound,
		},
		{
			Number:          2,
			Fallback:        true,
			Description:     "Broaden the issue search to medium severity",
			Operation:       OpGetAllIssues,
			Arguments:       map[string]any{"severity": string(kgraph.SeverityMedium)},
			ExpectedOutcome: "Lower severity issues that may explain the failure",
			Priority:        "medium",
			Category:        "issue_discovery",
			Trigger:         TriggerNoIssuesFound,
		},
		{
			Number:          3,
			Fallback:        true,
			Description:     "Print the full knowledge graph for manual review",
			Operation:       OpPrintGraph,
			Arguments:       map[string]any{"include_details": true, "include_issues": true},
			ExpectedOutcome: "Complete view of entities, issues and relationships",
			Priority:        "low",
			Category:        "manual_review",
			Trigger:         TriggerInsufficientData,
		},
	}
}
