package diagnosis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/planner"
)

// Target names the failing pod and volume a report is built for.
type Target struct {
	Pod        string `json:"pod"`
	Namespace  string `json:"namespace"`
	VolumePath string `json:"volume_path"`
}

// Report bundles analysis, summary and plan for one target.
type Report struct {
	SessionID string          `json:"session_id"`
	Target    Target          `json:"target"`
	Analysis  kgraph.Analysis `json:"analysis"`
	Summary   kgraph.Summary  `json:"summary"`
	Plan      *planner.Plan   `json:"plan,omitempty"`
	PlanText  string          `json:"plan_text"`
}

// Report runs the analysis, summary and plan queries concurrently. When
// the structured plan cannot be built the report still carries the basic
// plan text.
func (s *Session) Report(ctx context.Context, target Target) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "diagnosis.Report")
	defer span.End()

	r := &Report{SessionID: s.id, Target: target}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.Analysis = s.Analyze(gctx)
		return nil
	})
	g.Go(func() error {
		r.Summary = s.GetSummary(gctx)
		return nil
	})
	g.Go(func() error {
		plan, err := s.Plan(gctx, target.Pod, target.Namespace, target.VolumePath)
		if err != nil {
			s.logger.Warn("structured plan unavailable for %s/%s: %v", target.Namespace, target.Pod, err)
			r.PlanText = s.GeneratePlan(gctx, target.Pod, target.Namespace, target.VolumePath)
			return nil
		}
		r.Plan = plan
		r.PlanText = planner.Render(plan)
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("report for %s/%s: %w", target.Namespace, target.Pod, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
