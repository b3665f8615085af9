package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/voldiag/internal/diagnosis"
	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/planner"
)

// defaultRelatedDepth is used when kg_get_related_entities omits max_depth.
const defaultRelatedDepth = 2

// toolFunc decodes the raw arguments into In before calling the function.
type toolFunc[In any] func(ctx context.Context, in In) (interface{}, error)

func (f toolFunc[In]) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in In
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}
	return f(ctx, in)
}

type entityInput struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type relatedInput struct {
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	RelationshipType string `json:"relationship_type"`
	MaxDepth         int    `json:"max_depth"`
}

type issuesInput struct {
	Severity string `json:"severity"`
	Layer    string `json:"layer"`
}

type listInput struct {
	EntityType string `json:"entity_type"`
}

type pathInput struct {
	SourceEntityType string `json:"source_entity_type"`
	SourceEntityID   string `json:"source_entity_id"`
	TargetEntityType string `json:"target_entity_type"`
	TargetEntityID   string `json:"target_entity_id"`
}

type printInput struct {
	IncludeDetails *bool `json:"include_details"`
	IncludeIssues  *bool `json:"include_issues"`
}

type planInput struct {
	PodName    string `json:"pod_name"`
	Namespace  string `json:"namespace"`
	VolumePath string `json:"volume_path"`
}

type noInput struct{}

type toolDefinition struct {
	name        string
	description string
	schema      map[string]interface{}
	build       func(s *diagnosis.Session) Tool
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var entityTypeProp = map[string]interface{}{
	"type":        "string",
	"description": "Entity type",
	"enum": []string{
		string(kgraph.EntityPod), string(kgraph.EntityPVC), string(kgraph.EntityPV),
		string(kgraph.EntityDrive), string(kgraph.EntityNode), string(kgraph.EntityStorageClass),
		string(kgraph.EntityLVG), string(kgraph.EntityAvailableCapacity), string(kgraph.EntityVolume),
		string(kgraph.EntityCSIDriver), string(kgraph.EntitySystem),
	},
}

var toolDefinitions = []toolDefinition{
	{
		name:        planner.OpGetEntityInfo,
		description: "Get an entity with its issues and direct relationships. entity_id accepts the id, name, uuid or namespace/name",
		schema: objectSchema(map[string]interface{}{
			"entity_type": entityTypeProp,
			"entity_id":   stringProp("Entity id, name, uuid or namespace/name"),
		}, "entity_type", "entity_id"),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[entityInput](func(ctx context.Context, in entityInput) (interface{}, error) {
				return s.GetEntityInfo(ctx, kgraph.EntityType(in.EntityType), in.EntityID)
			})
		},
	},
	{
		name:        planner.OpGetRelatedEntities,
		description: "Walk the relationships of an entity in both directions up to max_depth hops",
		schema: objectSchema(map[string]interface{}{
			"entity_type":       entityTypeProp,
			"entity_id":         stringProp("Entity id, name, uuid or namespace/name"),
			"relationship_type": stringProp("Optional: only follow this relationship type"),
			"max_depth": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: maximum hops (default 2)",
			},
		}, "entity_type", "entity_id"),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[relatedInput](func(ctx context.Context, in relatedInput) (interface{}, error) {
				depth := in.MaxDepth
				if depth <= 0 {
					depth = defaultRelatedDepth
				}
				return s.GetRelatedEntities(ctx, kgraph.EntityType(in.EntityType), in.EntityID, in.RelationshipType, depth)
			})
		},
	},
	{
		name:        planner.OpGetAllIssues,
		description: "List issues, optionally filtered by severity and layer",
		schema: objectSchema(map[string]interface{}{
			"severity": map[string]interface{}{
				"type":        "string",
				"description": "Optional: severity filter",
				"enum":        []string{"critical", "high", "medium", "low"},
			},
			"layer": map[string]interface{}{
				"type":        "string",
				"description": "Optional: layer filter",
				"enum":        []string{"kubernetes", "linux", "storage"},
			},
		}),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[issuesInput](func(ctx context.Context, in issuesInput) (interface{}, error) {
				return s.GetAllIssues(ctx, in.Severity, in.Layer)
			})
		},
	},
	{
		name:        planner.OpListEntities,
		description: "List every entity of a type",
		schema: objectSchema(map[string]interface{}{
			"entity_type": entityTypeProp,
		}, "entity_type"),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[listInput](func(ctx context.Context, in listInput) (interface{}, error) {
				return s.ListEntities(ctx, kgraph.EntityType(in.EntityType)), nil
			})
		},
	},
	{
		name:        planner.OpFindPath,
		description: "Find the shortest relationship chain between two entities",
		schema: objectSchema(map[string]interface{}{
			"source_entity_type": entityTypeProp,
			"source_entity_id":   stringProp("Source entity id, name, uuid or namespace/name"),
			"target_entity_type": entityTypeProp,
			"target_entity_id":   stringProp("Target entity id, name, uuid or namespace/name"),
		}, "source_entity_type", "source_entity_id", "target_entity_type", "target_entity_id"),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[pathInput](func(ctx context.Context, in pathInput) (interface{}, error) {
				return s.FindPath(ctx,
					kgraph.EntityType(in.SourceEntityType), in.SourceEntityID,
					kgraph.EntityType(in.TargetEntityType), in.TargetEntityID)
			})
		},
	},
	{
		name:        planner.OpGetSummary,
		description: "Get entity, issue and relationship counts of the knowledge graph",
		schema:      objectSchema(map[string]interface{}{}),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[noInput](func(ctx context.Context, _ noInput) (interface{}, error) {
				return s.GetSummary(ctx), nil
			})
		},
	},
	{
		name:        planner.OpAnalyzeIssues,
		description: "Rank root cause candidates and return the primary root cause",
		schema:      objectSchema(map[string]interface{}{}),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[noInput](func(ctx context.Context, _ noInput) (interface{}, error) {
				return s.Analyze(ctx), nil
			})
		},
	},
	{
		name:        planner.OpPrintGraph,
		description: "Render the knowledge graph as text for manual review",
		schema: objectSchema(map[string]interface{}{
			"include_details": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: include entity attributes (default true)",
			},
			"include_issues": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: include issues (default true)",
			},
		}),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[printInput](func(ctx context.Context, in printInput) (interface{}, error) {
				return s.PrintGraph(ctx, boolOr(in.IncludeDetails, true), boolOr(in.IncludeIssues, true)), nil
			})
		},
	},
	{
		name:        planner.OpGeneratePlan,
		description: "Generate the investigation plan for a failing pod volume",
		schema: objectSchema(map[string]interface{}{
			"pod_name":    stringProp("Pod name or id"),
			"namespace":   stringProp("Pod namespace"),
			"volume_path": stringProp("Optional: mount path of the failing volume"),
		}, "pod_name", "namespace"),
		build: func(s *diagnosis.Session) Tool {
			return toolFunc[planInput](func(ctx context.Context, in planInput) (interface{}, error) {
				return s.GeneratePlan(ctx, in.PodName, in.Namespace, in.VolumePath), nil
			})
		},
	},
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
