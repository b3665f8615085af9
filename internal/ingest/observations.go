// Package ingest loads collector output into a knowledge graph. Two inputs
// are supported: observation files, which list entities, issues and
// relationships directly, and Kubernetes manifests (core, storage and CSI
// bare-metal resources) from which the volume dependency chain is derived.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
)

// Observations is the on-disk collector output.
//
//	entities:
//	  - {type: Drive, id: drive-1, name: sda, attributes: {health: BAD}}
//	issues:
//	  - entity_id: drive-1
//	    layer: storage
//	    component: smart
//	    severity: critical
//	    message: Bad sectors detected
//	relationships:
//	  - {source: drive-1, target: node-1, type: located_on}
type Observations struct {
	Entities      []EntityRecord       `yaml:"entities"`
	Issues        []IssueRecord        `yaml:"issues"`
	Relationships []RelationshipRecord `yaml:"relationships"`
}

// EntityRecord describes one entity.
type EntityRecord struct {
	Type       string         `yaml:"type"`
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Namespace  string         `yaml:"namespace"`
	Attributes map[string]any `yaml:"attributes"`
}

// IssueRecord describes one issue.
type IssueRecord struct {
	EntityID   string    `yaml:"entity_id"`
	Layer      string    `yaml:"layer"`
	Component  string    `yaml:"component"`
	Severity   string    `yaml:"severity"`
	Message    string    `yaml:"message"`
	Evidence   string    `yaml:"evidence"`
	RelatedIDs []string  `yaml:"related_ids"`
	Timestamp  time.Time `yaml:"timestamp"`
}

// RelationshipRecord describes one edge. Confidence defaults to 1.
type RelationshipRecord struct {
	Source     string   `yaml:"source"`
	Target     string   `yaml:"target"`
	Type       string   `yaml:"type"`
	Confidence *float64 `yaml:"confidence"`
}

// Result counts what an Apply call added to the graph.
type Result struct {
	Entities      int `json:"entities"`
	Issues        int `json:"issues"`
	Relationships int `json:"relationships"`
	// Skipped counts records dropped for a structural problem such as an
	// unknown entity or an invalid severity.
	Skipped int `json:"skipped"`
}

// Add accumulates another result.
func (r *Result) Add(o Result) {
	r.Entities += o.Entities
	r.Issues += o.Issues
	r.Relationships += o.Relationships
	r.Skipped += o.Skipped
}

// LoadObservations reads an observation file.
func LoadObservations(path string) (*Observations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read observations %s: %w", path, err)
	}
	return ParseObservations(data)
}

// ParseObservations decodes observation YAML.
func ParseObservations(data []byte) (*Observations, error) {
	var obs Observations
	if err := yaml.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("failed to parse observations: %w", err)
	}
	for i, e := range obs.Entities {
		if e.ID == "" || e.Type == "" {
			return nil, fmt.Errorf("entities[%d]: type and id are required", i)
		}
	}
	return &obs, nil
}

// Apply adds the observations to g: entities first, then issues, then
// relationships. Records that reference unknown entities or carry invalid
// enum values are logged and skipped.
func (o *Observations) Apply(g *kgraph.Graph) Result {
	logger := logging.GetLogger("ingest")
	var res Result

	for _, e := range o.Entities {
		g.AddEntity(kgraph.EntityType(e.Type), e.ID, e.Name, e.Namespace, e.Attributes)
		res.Entities++
	}

	for _, rec := range o.Issues {
		_, err := g.AddIssue(rec.EntityID, kgraph.IssueInput{
			Layer:      rec.Layer,
			Component:  rec.Component,
			Severity:   rec.Severity,
			Message:    rec.Message,
			Evidence:   rec.Evidence,
			RelatedIDs: rec.RelatedIDs,
			Timestamp:  rec.Timestamp,
		})
		if err != nil {
			if !errors.Is(err, kgraph.ErrEntityNotFound) {
				logger.Warn("skipping issue: %v", err)
			}
			res.Skipped++
			continue
		}
		res.Issues++
	}

	for _, rel := range o.Relationships {
		confidence := 1.0
		if rel.Confidence != nil {
			confidence = *rel.Confidence
		}
		if !g.AddRelationship(rel.Source, rel.Target, rel.Type, confidence) {
			res.Skipped++
			continue
		}
		res.Relationships++
	}

	logger.InfoWithFields("observations applied",
		logging.Field("entities", res.Entities),
		logging.Field("issues", res.Issues),
		logging.Field("relationships", res.Relationships),
		logging.Field("skipped", res.Skipped),
	)
	return res
}
