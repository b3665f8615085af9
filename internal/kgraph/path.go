package kgraph

import "fmt"

// FindPath returns the shortest chain of entity ids from source to target,
// treating every edge as traversable in both directions. Relationships in
// this graph point whichever way the collector or the inference pass chose,
// so a dependency chain is not guaranteed to follow edge direction.
// It returns nil when either endpoint is missing or no chain exists.
func (g *Graph) FindPath(source, target string) []string {
	if _, ok := g.entities[source]; !ok {
		return nil
	}
	if _, ok := g.entities[target]; !ok {
		return nil
	}
	if source == target {
		return []string{source}
	}

	parent := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.neighbours(cur) {
			if _, seen := parent[n.id]; seen {
				continue
			}
			parent[n.id] = cur
			if n.id == target {
				return buildPath(parent, source, target)
			}
			queue = append(queue, n.id)
		}
	}
	return nil
}

func buildPath(parent map[string]string, source, target string) []string {
	var rev []string
	for cur := target; cur != source; cur = parent[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, source)

	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// PathHop is one step of a resolved path with the edge that connects it to
// the previous step.
type PathHop struct {
	Entity       *Entity   `json:"entity"`
	Relationship string    `json:"relationship,omitempty"`
	Direction    Direction `json:"direction,omitempty"`
}

// FindEntityPath resolves both endpoints by (type, ref) and returns the hops
// along the shortest path, annotated with the connecting relationship.
func (g *Graph) FindEntityPath(srcType EntityType, srcRef string, dstType EntityType, dstRef string) ([]PathHop, error) {
	src, ok := g.ResolveEntity(srcType, srcRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s with ID/name '%s'", ErrEntityNotFound, srcType, srcRef)
	}
	dst, ok := g.ResolveEntity(dstType, dstRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s with ID/name '%s'", ErrEntityNotFound, dstType, dstRef)
	}

	ids := g.FindPath(src.ID, dst.ID)
	if ids == nil {
		return nil, nil
	}

	hops := make([]PathHop, 0, len(ids))
	for i, id := range ids {
		hop := PathHop{Entity: g.entities[id]}
		if i > 0 {
			hop.Relationship, hop.Direction = g.connecting(ids[i-1], id)
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// connecting returns the first edge type joining a and b, and whether it
// runs a→b (outgoing) or b→a (incoming).
func (g *Graph) connecting(a, b string) (string, Direction) {
	for _, n := range g.neighbours(a) {
		if n.id == b {
			return n.rel.Type, n.dir
		}
	}
	return "", ""
}
