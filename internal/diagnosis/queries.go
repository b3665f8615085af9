package diagnosis

import (
	"context"
	"fmt"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/planner"
)

// ErrorPayload is the structured error returned by queries. It marshals to
// {"error": "..."} so the agent can branch on it.
type ErrorPayload struct {
	Message string `json:"error"`
}

func (e *ErrorPayload) Error() string {
	return e.Message
}

func entityNotFound(typ kgraph.EntityType, ref string) *ErrorPayload {
	return &ErrorPayload{Message: fmt.Sprintf("Entity not found: %s with ID/name '%s'", typ, ref)}
}

// EntityInfo is the result of GetEntityInfo.
type EntityInfo struct {
	Entity        *kgraph.Entity         `json:"entity"`
	Layer         kgraph.Layer           `json:"layer"`
	Issues        []kgraph.Issue         `json:"issues"`
	Relationships []kgraph.RelatedEntity `json:"relationships"`
}

// GetEntityInfo returns an entity with its issues and direct neighbours.
func (s *Session) GetEntityInfo(ctx context.Context, typ kgraph.EntityType, ref string) (*EntityInfo, error) {
	var info *EntityInfo
	err := s.read(ctx, "GetEntityInfo", func(g *kgraph.Graph) error {
		e, ok := g.ResolveEntity(typ, ref)
		if !ok {
			return entityNotFound(typ, ref)
		}
		related, err := g.GetRelatedEntities(e.Type, e.ID, "", 1)
		if err != nil {
			return entityNotFound(typ, ref)
		}
		info = &EntityInfo{
			Entity:        e,
			Layer:         g.EntityLayer(e),
			Issues:        []kgraph.Issue{},
			Relationships: related,
		}
		for _, issue := range g.IssuesFor(e.ID) {
			info.Issues = append(info.Issues, *issue)
		}
		if info.Relationships == nil {
			info.Relationships = []kgraph.RelatedEntity{}
		}
		return nil
	})
	return info, err
}

// GetRelatedEntities walks the neighbourhood of an entity. maxDepth is
// clamped to [1, MaxRelatedDepth].
func (s *Session) GetRelatedEntities(ctx context.Context, typ kgraph.EntityType, ref, relType string, maxDepth int) ([]kgraph.RelatedEntity, error) {
	if maxDepth > s.maxDepth {
		maxDepth = s.maxDepth
	}
	var related []kgraph.RelatedEntity
	err := s.read(ctx, "GetRelatedEntities", func(g *kgraph.Graph) error {
		var err error
		related, err = g.GetRelatedEntities(typ, ref, relType, maxDepth)
		if err != nil {
			return entityNotFound(typ, ref)
		}
		if related == nil {
			related = []kgraph.RelatedEntity{}
		}
		return nil
	})
	return related, err
}

// GetAllIssues lists issues, optionally filtered by severity and layer.
// Empty strings match everything.
func (s *Session) GetAllIssues(ctx context.Context, severity, layer string) ([]kgraph.Issue, error) {
	var filter kgraph.IssueFilter
	var issues []kgraph.Issue
	err := s.read(ctx, "GetAllIssues", func(g *kgraph.Graph) error {
		if severity != "" {
			sev, err := kgraph.ParseSeverity(severity)
			if err != nil {
				return &ErrorPayload{Message: fmt.Sprintf("Invalid severity '%s'", severity)}
			}
			filter.Severity = sev
		}
		if layer != "" {
			l, err := kgraph.ParseLayer(layer)
			if err != nil {
				return &ErrorPayload{Message: fmt.Sprintf("Invalid layer '%s'", layer)}
			}
			filter.Layer = l
		}
		issues = g.GetAllIssues(filter)
		if issues == nil {
			issues = []kgraph.Issue{}
		}
		return nil
	})
	return issues, err
}

// ListEntities returns every entity of a type.
func (s *Session) ListEntities(ctx context.Context, typ kgraph.EntityType) []*kgraph.Entity {
	var entities []*kgraph.Entity
	_ = s.read(ctx, "ListEntities", func(g *kgraph.Graph) error {
		entities = g.ListEntities(typ)
		return nil
	})
	if entities == nil {
		entities = []*kgraph.Entity{}
	}
	return entities
}

// PathResult is the result of FindPath.
type PathResult struct {
	Path   []kgraph.PathHop `json:"path"`
	Length int              `json:"length"`
}

// FindPath returns the shortest chain between two entities, ignoring edge
// direction.
func (s *Session) FindPath(ctx context.Context, srcType kgraph.EntityType, srcRef string, dstType kgraph.EntityType, dstRef string) (*PathResult, error) {
	var res *PathResult
	err := s.read(ctx, "FindPath", func(g *kgraph.Graph) error {
		if _, ok := g.ResolveEntity(srcType, srcRef); !ok {
			return entityNotFound(srcType, srcRef)
		}
		if _, ok := g.ResolveEntity(dstType, dstRef); !ok {
			return entityNotFound(dstType, dstRef)
		}
		hops, err := g.FindEntityPath(srcType, srcRef, dstType, dstRef)
		if err != nil {
			return &ErrorPayload{Message: err.Error()}
		}
		if hops == nil {
			return &ErrorPayload{Message: fmt.Sprintf("No path found between %s '%s' and %s '%s'", srcType, srcRef, dstType, dstRef)}
		}
		res = &PathResult{Path: hops, Length: len(hops) - 1}
		return nil
	})
	return res, err
}

// GetSummary returns graph counts.
func (s *Session) GetSummary(ctx context.Context) kgraph.Summary {
	var summary kgraph.Summary
	_ = s.read(ctx, "GetSummary", func(g *kgraph.Graph) error {
		summary = g.Summary()
		return nil
	})
	return summary
}

// Analyze ranks root causes over the current graph.
func (s *Session) Analyze(ctx context.Context) kgraph.Analysis {
	var analysis kgraph.Analysis
	_ = s.read(ctx, "Analyze", func(g *kgraph.Graph) error {
		analysis = g.Analyze()
		return nil
	})
	return analysis
}

// PrintGraph renders the graph as text.
func (s *Session) PrintGraph(ctx context.Context, includeDetails, includeIssues bool) string {
	var text string
	_ = s.read(ctx, "PrintGraph", func(g *kgraph.Graph) error {
		text = g.PrintGraph(includeDetails, includeIssues)
		return nil
	})
	return text
}

// Export serializes the graph and its analysis as JSON.
func (s *Session) Export(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.read(ctx, "Export", func(g *kgraph.Graph) error {
		var err error
		data, err = g.ExportJSON()
		return err
	})
	return data, err
}

// Plan builds the structured investigation plan.
func (s *Session) Plan(ctx context.Context, podRef, namespace, volumePath string) (*planner.Plan, error) {
	var plan *planner.Plan
	err := s.read(ctx, "Plan", func(g *kgraph.Graph) error {
		var err error
		plan, err = s.planner.Generate(g, podRef, namespace, volumePath)
		return err
	})
	return plan, err
}

// GeneratePlan renders the investigation plan text. It never fails.
func (s *Session) GeneratePlan(ctx context.Context, podRef, namespace, volumePath string) string {
	var text string
	_ = s.read(ctx, "GeneratePlan", func(g *kgraph.Graph) error {
		text = s.planner.GeneratePlan(g, podRef, namespace, volumePath)
		return nil
	})
	return text
}
