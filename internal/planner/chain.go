package planner

import (
	"github.com/moolen/voldiag/internal/kgraph"
)

// Hop names used in Chain.BrokenAt.
const (
	HopPod   = "Pod"
	HopPVC   = "PVC"
	HopPV    = "PV"
	HopDrive = "Drive"
	HopNode  = "Node"
)

// Chain is the volume dependency chain of a pod as far as it could be
// resolved in the graph.
type Chain struct {
	Pod   *kgraph.Entity `json:"pod,omitempty"`
	PVC   *kgraph.Entity `json:"pvc,omitempty"`
	PV    *kgraph.Entity `json:"pv,omitempty"`
	Drive *kgraph.Entity `json:"drive,omitempty"`
	Node  *kgraph.Entity `json:"node,omitempty"`

	Complete bool `json:"chain_complete"`
	// BrokenAt names the first hop that could not be resolved.
	BrokenAt string `json:"broken_at,omitempty"`
}

// Entities returns the resolved hops in chain order.
func (c Chain) Entities() []*kgraph.Entity {
	var out []*kgraph.Entity
	for _, e := range []*kgraph.Entity{c.Pod, c.PVC, c.PV, c.Drive, c.Node} {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether entityID is one of the resolved hops.
func (c Chain) Contains(entityID string) bool {
	for _, e := range c.Entities() {
		if e.ID == entityID {
			return true
		}
	}
	return false
}

// WalkChain follows Pod→PVC→PV→Drive→Node from the pod named by podRef.
// Each hop is looked up among the direct neighbours of the previous one in
// either edge direction. The walk stops at the first hop that is missing
// and records it in BrokenAt.
func WalkChain(g *kgraph.Graph, podRef, namespace string) Chain {
	var c Chain

	c.Pod = resolvePod(g, podRef, namespace)
	if c.Pod == nil {
		c.BrokenAt = HopPod
		return c
	}

	hops := []struct {
		name string
		typ  kgraph.EntityType
		set  func(*kgraph.Entity)
		from func() *kgraph.Entity
	}{
		{HopPVC, kgraph.EntityPVC, func(e *kgraph.Entity) { c.PVC = e }, func() *kgraph.Entity { return c.Pod }},
		{HopPV, kgraph.EntityPV, func(e *kgraph.Entity) { c.PV = e }, func() *kgraph.Entity { return c.PVC }},
		{HopDrive, kgraph.EntityDrive, func(e *kgraph.Entity) { c.Drive = e }, func() *kgraph.Entity { return c.PV }},
		{HopNode, kgraph.EntityNode, func(e *kgraph.Entity) { c.Node = e }, func() *kgraph.Entity { return c.Drive }},
	}
	for _, hop := range hops {
		next := neighbourOfType(g, hop.from(), hop.typ)
		if next == nil && hop.typ == kgraph.EntityDrive {
			// CSI volumes can sit between the PV and the drive.
			next = throughVolume(g, hop.from())
		}
		if next == nil {
			c.BrokenAt = hop.name
			return c
		}
		hop.set(next)
	}
	c.Complete = true
	return c
}

// resolvePod finds the pod in namespace. A bare reference only matches a
// pod without a namespace or one in the requested namespace.
func resolvePod(g *kgraph.Graph, podRef, namespace string) *kgraph.Entity {
	if namespace != "" {
		if e, ok := g.ResolveEntity(kgraph.EntityPod, namespace+"/"+podRef); ok {
			return e
		}
	}
	e, ok := g.ResolveEntity(kgraph.EntityPod, podRef)
	if !ok {
		return nil
	}
	if namespace != "" && e.Namespace != "" && e.Namespace != namespace {
		return nil
	}
	return e
}

func neighbourOfType(g *kgraph.Graph, from *kgraph.Entity, typ kgraph.EntityType) *kgraph.Entity {
	related, err := g.GetRelatedEntities(from.Type, from.ID, "", 1)
	if err != nil {
		return nil
	}
	for _, r := range related {
		if r.Entity.Type == typ {
			return r.Entity
		}
	}
	return nil
}

func throughVolume(g *kgraph.Graph, pv *kgraph.Entity) *kgraph.Entity {
	vol := neighbourOfType(g, pv, kgraph.EntityVolume)
	if vol == nil {
		return nil
	}
	return neighbourOfType(g, vol, kgraph.EntityDrive)
}
