package planner

import (
	"fmt"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
)

// generate builds the structured plan; replaced in tests.
var generate = (*Generator).Generate

// GeneratePlan renders the investigation plan for a pod. It never fails:
// if generation returns an error or panics, the basic plan is rendered
// instead.
func GeneratePlan(g *kgraph.Graph, podRef, namespace, volumePath string) string {
	return NewGenerator().GeneratePlan(g, podRef, namespace, volumePath)
}

// GeneratePlan is the Generator form of the package-level GeneratePlan.
func (gen *Generator) GeneratePlan(g *kgraph.Graph, podRef, namespace, volumePath string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			gen.logger.ErrorWithFields("plan generation panicked, using basic plan",
				logging.Field("pod", podRef),
				logging.Field("panic", fmt.Sprint(r)),
			)
			gen.fallback(fmt.Errorf("panic: %v", r))
			text = Render(BasicPlan(podRef, namespace, volumePath))
		}
	}()

	plan, err := generate(gen, g, podRef, namespace, volumePath)
	if err != nil {
		gen.logger.ErrorWithErr("plan generation failed for pod %s/%s, using basic plan", err, namespace, podRef)
		gen.fallback(err)
		return Render(BasicPlan(podRef, namespace, volumePath))
	}
	return Render(plan)
}

func (gen *Generator) fallback(reason error) {
	if gen.onFallback != nil {
		gen.onFallback(reason)
	}
}

// BasicPlan is the fixed four-step plan used when generation fails.
func BasicPlan(podRef, namespace, volumePath string) *Plan {
	steps := []Step{
		{
			Description:     "Get all critical issues",
			Operation:       OpGetAllIssues,
			Arguments:       map[string]any{"severity": string(kgraph.SeverityCritical)},
			ExpectedOutcome: "List of critical issues",
			Category:        "critical_issues",
		},
		{
			Description:     "Analyze issues and root causes",
			Operation:       OpAnalyzeIssues,
			Arguments:       map[string]any{},
			ExpectedOutcome: "Ranked root causes",
			Category:        "causal_analysis",
		},
		{
			Description:     "Get system summary",
			Operation:       OpGetSummary,
			Arguments:       map[string]any{},
			ExpectedOutcome: "Overall system state",
			Category:        "system_overview",
		},
		{
			Description:     "Print the knowledge graph",
			Operation:       OpPrintGraph,
			Arguments:       map[string]any{"include_details": true, "include_issues": true},
			ExpectedOutcome: "Complete graph for manual review",
			Category:        "manual_review",
		},
	}
	for i := range steps {
		steps[i].Number = i + 1
		steps[i].Priority = "high"
	}
	return &Plan{
		Pod:          podRef,
		Namespace:    namespace,
		VolumePath:   volumePath,
		PriorityTags: []string{TagBasicInvestigation},
		Steps:        steps,
	}
}
