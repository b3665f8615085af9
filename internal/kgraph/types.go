package kgraph

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEntityNotFound is returned when an operation names an entity that is
	// not in the graph.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidIssue is returned for issues with an unknown layer or severity.
	ErrInvalidIssue = errors.New("invalid issue")

	// ErrInvalidRule is returned when a pattern rule cannot be used.
	ErrInvalidRule = errors.New("invalid pattern rule")
)

// EntityType names the kind of a graph node.
type EntityType string

const (
	EntityPod               EntityType = "Pod"
	EntityPVC               EntityType = "PVC"
	EntityPV                EntityType = "PV"
	EntityDrive             EntityType = "Drive"
	EntityNode              EntityType = "Node"
	EntityStorageClass      EntityType = "StorageClass"
	EntityLVG               EntityType = "LVG"
	EntityAvailableCapacity EntityType = "AvailableCapacity"
	EntityVolume            EntityType = "Volume"
	EntityCSIDriver         EntityType = "CSIDriver"
	EntitySystem            EntityType = "System"
)

// Layer is the architectural tier an issue was observed at.
type Layer string

const (
	LayerKubernetes Layer = "kubernetes"
	LayerLinux      Layer = "linux"
	LayerStorage    Layer = "storage"
)

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	switch l := Layer(s); l {
	case LayerKubernetes, LayerLinux, LayerStorage:
		return l, nil
	}
	return "", fmt.Errorf("%w: unknown layer %q", ErrInvalidIssue, s)
}

// Severity ranks the impact of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidIssue, s)
}

// Rank orders severities; critical is highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Relationship types used by ingestion and inference. The store accepts
// any string.
const (
	RelUses       = "uses"
	RelBoundTo    = "bound_to"
	RelMapsTo     = "maps_to"
	RelLocatedOn  = "located_on"
	RelScheduled  = "scheduled_on"
	RelProvisions = "provisioned_by"
	RelCauses     = "causes"
	RelRelatedTo  = "related_to"
)

// Entity is a typed node in the knowledge graph. Core identity lives in the
// struct fields; Attributes carries collector passthrough data such as
// "uuid", "health" or "path".
type Entity struct {
	Type       EntityType     `json:"type"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Namespace  string         `json:"namespace,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`

	issueIDs []string
}

// IssueIDs returns the ids of the issues attached to the entity.
func (e *Entity) IssueIDs() []string {
	out := make([]string, len(e.issueIDs))
	copy(out, e.issueIDs)
	return out
}

// Attr returns a string attribute, or "" when absent.
func (e *Entity) Attr(key string) string {
	if v, ok := e.Attributes[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// QualifiedName is namespace/name for namespaced entities, name otherwise.
func (e *Entity) QualifiedName() string {
	if e.Namespace != "" {
		return e.Namespace + "/" + e.Name
	}
	return e.Name
}

// IssueInput is what the collector supplies for a new issue.
type IssueInput struct {
	Layer      string
	Component  string
	Severity   string
	Message    string
	Evidence   string
	RelatedIDs []string
	Timestamp  time.Time
}

// Issue is an abnormal condition attached to exactly one entity.
type Issue struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Layer      Layer     `json:"layer"`
	Component  string    `json:"component"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Evidence   string    `json:"evidence,omitempty"`
	RelatedIDs []string  `json:"related_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Relationship is a directed, confidence-weighted edge.
type Relationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"relationship_type"`
	Confidence float64 `json:"confidence"`
}

// Origin tells how a root cause candidate was produced.
type Origin string

const (
	OriginPattern    Origin = "pattern"
	OriginStructural Origin = "structural"
)

// RootCauseCandidate is a ranked hypothesis explaining observed issues.
type RootCauseCandidate struct {
	IssueID    string  `json:"issue_id,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
	RootCause  string  `json:"root_cause"`
	FixPlan    string  `json:"fix_plan"`
	Confidence float64 `json:"confidence"`
	Origin     Origin  `json:"origin,omitempty"`
	Rule       string  `json:"rule,omitempty"`
}

// UnknownRootCause is reported when nothing explains the observed issues.
const UnknownRootCause = "Unknown - insufficient information"

// Direction of a traversed edge relative to the entity it was reached from.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// RelatedEntity is one result of a neighbourhood traversal.
type RelatedEntity struct {
	Entity       *Entity   `json:"entity"`
	Relationship string    `json:"relationship"`
	Direction    Direction `json:"direction"`
	Confidence   float64   `json:"confidence"`
	Depth        int       `json:"depth"`
	Via          string    `json:"via"`
}

// IssueFilter narrows GetAllIssues. Empty fields match everything.
type IssueFilter struct {
	Severity Severity
	Layer    Layer
}

// Summary is a count-only view of the graph.
type Summary struct {
	TotalEntities      int                `json:"total_entities"`
	TotalIssues        int                `json:"total_issues"`
	TotalRelationships int                `json:"total_relationships"`
	EntitiesWithIssues int                `json:"entities_with_issues"`
	EntitiesByType     map[EntityType]int `json:"entities_by_type"`
	IssuesBySeverity   map[Severity]int   `json:"issues_by_severity"`
	IssuesByLayer      map[Layer]int      `json:"issues_by_layer"`
}

// Stats counts structural problems that were skipped rather than reported.
type Stats struct {
	RejectedRelationships int `json:"rejected_relationships"`
	SkippedImplications   int `json:"skipped_implications"`
}

// defaultLayer maps entity types to the layer they live in when no issue
// says otherwise.
var defaultLayer = map[EntityType]Layer{
	EntityPod:               LayerKubernetes,
	EntityPVC:               LayerKubernetes,
	EntityPV:                LayerKubernetes,
	EntityStorageClass:      LayerKubernetes,
	EntityCSIDriver:         LayerKubernetes,
	EntityVolume:            LayerKubernetes,
	EntityNode:              LayerLinux,
	EntitySystem:            LayerLinux,
	EntityDrive:             LayerStorage,
	EntityLVG:               LayerStorage,
	EntityAvailableCapacity: LayerStorage,
}
