// Package kgraph holds the entity/issue knowledge graph used to diagnose
// volume I/O failures, together with the inference that turns issue
// patterns into causal edges, root cause ranking and path finding.
//
// A Graph is built by a single producer: entities and issues are added by
// the collector, then Infer runs once as a write barrier. After that the
// graph is only read and the read methods may be called concurrently.
// Graph does no locking of its own; callers that interleave writes and
// reads must serialize them (see the diagnosis package).
package kgraph

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/moolen/voldiag/internal/logging"
)

// DefaultResolveCacheSize bounds the entity resolution cache.
const DefaultResolveCacheSize = 256

type edgeKey struct {
	source, target, relType string
}

// Graph is the knowledge graph for one diagnostic session.
type Graph struct {
	entities map[string]*Entity
	order    []string

	issues    []*Issue
	issueByID map[string]*Issue
	nextIssue int

	edges     []Relationship
	edgeIndex map[edgeKey]int
	out       map[string][]int
	in        map[string][]int

	candidates    []RootCauseCandidate
	candidateKeys map[string]struct{}

	resolveCache *lru.Cache[string, string]
	stats        Stats
	logger       *logging.Logger
	now          func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithResolveCacheSize sets the resolution cache size. Zero keeps
// DefaultResolveCacheSize, a negative size disables the cache.
func WithResolveCacheSize(n int) Option {
	return func(g *Graph) {
		if n == 0 {
			n = DefaultResolveCacheSize
		}
		g.resolveCache = nil
		if n > 0 {
			// lru.New only fails for non-positive sizes
			g.resolveCache, _ = lru.New[string, string](n)
		}
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// WithClock sets the clock used to stamp issues that arrive without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		entities:      map[string]*Entity{},
		issueByID:     map[string]*Issue{},
		edgeIndex:     map[edgeKey]int{},
		out:           map[string][]int{},
		in:            map[string][]int{},
		candidateKeys: map[string]struct{}{},
		logger:        logging.GetLogger("kgraph"),
		now:           time.Now,
	}
	WithResolveCacheSize(DefaultResolveCacheSize)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddEntity inserts an entity, or merges attributes into an existing entity
// with the same id. The first type recorded for an id wins.
func (g *Graph) AddEntity(typ EntityType, id, name, namespace string, attrs map[string]any) *Entity {
	if g.resolveCache != nil {
		g.resolveCache.Purge()
	}

	if existing, ok := g.entities[id]; ok {
		if existing.Type != typ {
			g.logger.WarnWithFields("entity id reused with a different type",
				logging.Field("id", id),
				logging.Field("existing_type", existing.Type),
				logging.Field("new_type", typ),
			)
		}
		if existing.Name == "" {
			existing.Name = name
		}
		if existing.Namespace == "" {
			existing.Namespace = namespace
		}
		for k, v := range attrs {
			existing.Attributes[k] = v
		}
		return existing
	}

	if name == "" {
		name = id
	}
	e := &Entity{
		Type:       typ,
		ID:         id,
		Name:       name,
		Namespace:  namespace,
		Attributes: make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	g.entities[id] = e
	g.order = append(g.order, id)
	return e
}

// AddIssue attaches a new issue to entityID and returns its "issue-N" id.
func (g *Graph) AddIssue(entityID string, in IssueInput) (string, error) {
	entity, ok := g.entities[entityID]
	if !ok {
		g.logger.Warn("dropping %s.%s issue for unknown entity %q", in.Layer, in.Component, entityID)
		return "", fmt.Errorf("add issue: %w: %q", ErrEntityNotFound, entityID)
	}
	layer, err := ParseLayer(in.Layer)
	if err != nil {
		return "", fmt.Errorf("add issue on %q: %w", entityID, err)
	}
	severity, err := ParseSeverity(in.Severity)
	if err != nil {
		return "", fmt.Errorf("add issue on %q: %w", entityID, err)
	}

	g.nextIssue++
	ts := in.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}
	issue := &Issue{
		ID:         fmt.Sprintf("issue-%d", g.nextIssue),
		EntityID:   entityID,
		Layer:      layer,
		Component:  in.Component,
		Severity:   severity,
		Message:    in.Message,
		Evidence:   in.Evidence,
		RelatedIDs: append([]string(nil), in.RelatedIDs...),
		Timestamp:  ts,
	}
	g.issues = append(g.issues, issue)
	g.issueByID[issue.ID] = issue
	entity.issueIDs = append(entity.issueIDs, issue.ID)
	return issue.ID, nil
}

// AddRelationship adds a directed edge. If either endpoint is missing the
// edge is not created and a warning is logged. A repeated
// (source, target, type) keeps the higher confidence. It reports whether
// the edge exists afterwards.
func (g *Graph) AddRelationship(source, target, relType string, confidence float64) bool {
	_, srcOK := g.entities[source]
	_, dstOK := g.entities[target]
	if !srcOK || !dstOK {
		g.stats.RejectedRelationships++
		g.logger.WarnWithFields("relationship rejected, endpoint missing",
			logging.Field("source", source),
			logging.Field("target", target),
			logging.Field("type", relType),
			logging.Field("source_exists", srcOK),
			logging.Field("target_exists", dstOK),
		)
		return false
	}

	confidence = clamp01(confidence)
	key := edgeKey{source: source, target: target, relType: relType}
	if idx, ok := g.edgeIndex[key]; ok {
		if confidence > g.edges[idx].Confidence {
			g.edges[idx].Confidence = confidence
		}
		return true
	}

	g.edges = append(g.edges, Relationship{
		Source:     source,
		Target:     target,
		Type:       relType,
		Confidence: confidence,
	})
	idx := len(g.edges) - 1
	g.edgeIndex[key] = idx
	g.out[source] = append(g.out[source], idx)
	g.in[target] = append(g.in[target], idx)
	return true
}

// Entity returns the entity with the given id.
func (g *Graph) Entity(id string) (*Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}

// Entities returns every entity in insertion order.
func (g *Graph) Entities() []*Entity {
	out := make([]*Entity, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.entities[id])
	}
	return out
}

// ListEntities returns the entities of one type in insertion order.
func (g *Graph) ListEntities(typ EntityType) []*Entity {
	var out []*Entity
	for _, id := range g.order {
		if e := g.entities[id]; e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Issue returns the issue with the given id.
func (g *Graph) Issue(id string) (*Issue, bool) {
	i, ok := g.issueByID[id]
	return i, ok
}

// IssuesFor returns the issues attached to an entity.
func (g *Graph) IssuesFor(entityID string) []*Issue {
	e, ok := g.entities[entityID]
	if !ok {
		return nil
	}
	out := make([]*Issue, 0, len(e.issueIDs))
	for _, id := range e.issueIDs {
		out = append(out, g.issueByID[id])
	}
	return out
}

// GetAllIssues returns issues in creation order, filtered by severity and
// layer when set.
func (g *Graph) GetAllIssues(filter IssueFilter) []Issue {
	var out []Issue
	for _, issue := range g.issues {
		if filter.Severity != "" && issue.Severity != filter.Severity {
			continue
		}
		if filter.Layer != "" && issue.Layer != filter.Layer {
			continue
		}
		out = append(out, *issue)
	}
	return out
}

// Relationships returns a copy of every edge in insertion order.
func (g *Graph) Relationships() []Relationship {
	out := make([]Relationship, len(g.edges))
	copy(out, g.edges)
	return out
}

// Outgoing returns the edges leaving id, optionally of a single type.
func (g *Graph) Outgoing(id, relType string) []Relationship {
	var out []Relationship
	for _, idx := range g.out[id] {
		if relType == "" || g.edges[idx].Type == relType {
			out = append(out, g.edges[idx])
		}
	}
	return out
}

// HasRelationship reports whether the exact edge exists.
func (g *Graph) HasRelationship(source, target, relType string) (Relationship, bool) {
	idx, ok := g.edgeIndex[edgeKey{source: source, target: target, relType: relType}]
	if !ok {
		return Relationship{}, false
	}
	return g.edges[idx], true
}

// Stats returns counters of skipped structural problems.
func (g *Graph) Stats() Stats {
	return g.stats
}

// ResolveEntity finds an entity of the given type by canonical id, name,
// "uuid" attribute or namespace/name.
func (g *Graph) ResolveEntity(typ EntityType, ref string) (*Entity, bool) {
	if ref == "" {
		return nil, false
	}
	if e, ok := g.entities[ref]; ok && (typ == "" || e.Type == typ) {
		return e, true
	}

	cacheKey := string(typ) + "\x00" + ref
	if g.resolveCache != nil {
		if id, ok := g.resolveCache.Get(cacheKey); ok {
			if e, ok := g.entities[id]; ok {
				return e, true
			}
		}
	}

	for _, id := range g.order {
		e := g.entities[id]
		if typ != "" && e.Type != typ {
			continue
		}
		if e.Name == ref || e.Attr("uuid") == ref || (e.Namespace != "" && e.QualifiedName() == ref) {
			if g.resolveCache != nil {
				g.resolveCache.Add(cacheKey, e.ID)
			}
			return e, true
		}
	}
	return nil, false
}

// GetRelatedEntities walks outgoing and incoming edges breadth first from
// the entity named by (typ, ref) up to maxDepth hops. relType restricts the
// walk to one relationship type when non-empty.
func (g *Graph) GetRelatedEntities(typ EntityType, ref, relType string, maxDepth int) ([]RelatedEntity, error) {
	start, ok := g.ResolveEntity(typ, ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s with ID/name '%s'", ErrEntityNotFound, typ, ref)
	}
	if maxDepth < 1 {
		maxDepth = 1
	}

	type hop struct {
		id    string
		depth int
	}
	visited := map[string]bool{start.ID: true}
	queue := []hop{{id: start.ID}}
	var related []RelatedEntity

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, n := range g.neighbours(cur.id) {
			if relType != "" && n.rel.Type != relType {
				continue
			}
			if visited[n.id] {
				continue
			}
			visited[n.id] = true
			related = append(related, RelatedEntity{
				Entity:       g.entities[n.id],
				Relationship: n.rel.Type,
				Direction:    n.dir,
				Confidence:   n.rel.Confidence,
				Depth:        cur.depth + 1,
				Via:          cur.id,
			})
			queue = append(queue, hop{id: n.id, depth: cur.depth + 1})
		}
	}
	return related, nil
}

type neighbour struct {
	id  string
	rel Relationship
	dir Direction
}

// neighbours lists adjacent entities over outgoing edges first, then
// incoming, each in edge insertion order.
func (g *Graph) neighbours(id string) []neighbour {
	out := make([]neighbour, 0, len(g.out[id])+len(g.in[id]))
	for _, idx := range g.out[id] {
		e := g.edges[idx]
		out = append(out, neighbour{id: e.Target, rel: e, dir: DirectionOutgoing})
	}
	for _, idx := range g.in[id] {
		e := g.edges[idx]
		out = append(out, neighbour{id: e.Source, rel: e, dir: DirectionIncoming})
	}
	return out
}

// Summary counts entities, issues and edges. It does not modify the graph.
func (g *Graph) Summary() Summary {
	s := Summary{
		TotalEntities:      len(g.entities),
		TotalIssues:        len(g.issues),
		TotalRelationships: len(g.edges),
		EntitiesByType:     map[EntityType]int{},
		IssuesBySeverity:   map[Severity]int{},
		IssuesByLayer:      map[Layer]int{},
	}
	for _, e := range g.entities {
		s.EntitiesByType[e.Type]++
		if len(e.issueIDs) > 0 {
			s.EntitiesWithIssues++
		}
	}
	for _, issue := range g.issues {
		s.IssuesBySeverity[issue.Severity]++
		s.IssuesByLayer[issue.Layer]++
	}
	return s
}

// EntityLayer is the layer of the entity's most severe issue, falling back
// to the default layer of its type.
func (g *Graph) EntityLayer(e *Entity) Layer {
	if top := g.mostSevereIssue(e); top != nil {
		return top.Layer
	}
	if l, ok := defaultLayer[e.Type]; ok {
		return l
	}
	return LayerKubernetes
}

func (g *Graph) mostSevereIssue(e *Entity) *Issue {
	var top *Issue
	for _, id := range e.issueIDs {
		issue := g.issueByID[id]
		if top == nil || issue.Severity.Rank() > top.Severity.Rank() {
			top = issue
		}
	}
	return top
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// entityLabel renders "Type/name" for logs and printing.
func entityLabel(e *Entity) string {
	return strings.Join([]string{string(e.Type), e.QualifiedName()}, "/")
}
