package kgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ExportNode is an entity together with its issues.
type ExportNode struct {
	*Entity
	Issues []Issue `json:"issues,omitempty"`
}

// Export is the JSON document describing the whole graph.
type Export struct {
	Nodes            map[string]ExportNode `json:"nodes"`
	Edges            []Relationship        `json:"edges"`
	RootCauses       []RootCauseCandidate  `json:"root_causes"`
	PrimaryRootCause RootCauseCandidate    `json:"primary_root_cause"`
}

// Export builds the serializable view of the graph and its analysis.
func (g *Graph) Export() Export {
	analysis := g.Analyze()
	nodes := make(map[string]ExportNode, len(g.entities))
	for id, e := range g.entities {
		node := ExportNode{Entity: e}
		for _, issue := range g.IssuesFor(id) {
			node.Issues = append(node.Issues, *issue)
		}
		nodes[id] = node
	}
	edges := g.Relationships()
	if edges == nil {
		edges = []Relationship{}
	}
	return Export{
		Nodes:            nodes,
		Edges:            edges,
		RootCauses:       analysis.RootCauses,
		PrimaryRootCause: analysis.PrimaryRootCause,
	}
}

// ExportJSON serializes Export with indentation.
func (g *Graph) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(g.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph export: %w", err)
	}
	return data, nil
}

// typeOrder fixes the order entity groups are printed in, following the
// volume dependency chain.
var typeOrder = []EntityType{
	EntityPod, EntityPVC, EntityPV, EntityVolume, EntityDrive, EntityLVG,
	EntityAvailableCapacity, EntityNode, EntityStorageClass, EntityCSIDriver, EntitySystem,
}

// PrintGraph renders the graph as indented text. includeDetails adds entity
// attributes; includeIssues lists each entity's issues.
func (g *Graph) PrintGraph(includeDetails, includeIssues bool) string {
	var b strings.Builder
	summary := g.Summary()

	b.WriteString("Knowledge Graph Summary:\n")
	fmt.Fprintf(&b, "  Entities: %d, Issues: %d, Relationships: %d\n",
		summary.TotalEntities, summary.TotalIssues, summary.TotalRelationships)
	if summary.TotalIssues > 0 {
		parts := make([]string, 0, len(Severities))
		for _, sev := range Severities {
			if n := summary.IssuesBySeverity[sev]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", sev, n))
			}
		}
		fmt.Fprintf(&b, "  Issues by severity: %s\n", strings.Join(parts, ", "))
	}

	b.WriteString("\nEntities:\n")
	for _, group := range g.groupedEntities() {
		fmt.Fprintf(&b, "  %s (%d):\n", group.typ, len(group.entities))
		for _, e := range group.entities {
			fmt.Fprintf(&b, "    - %s (id: %s)\n", e.QualifiedName(), e.ID)
			if includeDetails {
				keys := make([]string, 0, len(e.Attributes))
				for k := range e.Attributes {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(&b, "        %s: %v\n", k, e.Attributes[k])
				}
			}
			if includeIssues {
				for _, issue := range g.IssuesFor(e.ID) {
					fmt.Fprintf(&b, "        ! [%s] %s.%s: %s (%s)\n",
						issue.Severity, issue.Layer, issue.Component, issue.Message, issue.ID)
				}
			}
		}
	}

	b.WriteString("\nRelationships:\n")
	if len(g.edges) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, rel := range g.edges {
		fmt.Fprintf(&b, "  %s --%s (%.2f)--> %s\n",
			entityLabel(g.entities[rel.Source]), rel.Type, rel.Confidence, entityLabel(g.entities[rel.Target]))
	}

	analysis := g.Analyze()
	b.WriteString("\nRoot Causes:\n")
	if len(analysis.RootCauses) == 0 {
		fmt.Fprintf(&b, "  %s\n", UnknownRootCause)
	}
	for i, rc := range analysis.RootCauses {
		fmt.Fprintf(&b, "  %d. [%.2f] %s (%s, entity: %s)\n", i+1, rc.Confidence, rc.RootCause, rc.Origin, rc.EntityID)
		if includeDetails && rc.FixPlan != "" {
			fmt.Fprintf(&b, "     Fix: %s\n", rc.FixPlan)
		}
	}
	return b.String()
}

type entityGroup struct {
	typ      EntityType
	entities []*Entity
}

func (g *Graph) groupedEntities() []entityGroup {
	byType := map[EntityType][]*Entity{}
	for _, e := range g.Entities() {
		byType[e.Type] = append(byType[e.Type], e)
	}

	var groups []entityGroup
	for _, typ := range typeOrder {
		if list, ok := byType[typ]; ok {
			groups = append(groups, entityGroup{typ: typ, entities: list})
			delete(byType, typ)
		}
	}
	var rest []EntityType
	for typ := range byType {
		rest = append(rest, typ)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, typ := range rest {
		groups = append(groups, entityGroup{typ: typ, entities: byType[typ]})
	}
	return groups
}
