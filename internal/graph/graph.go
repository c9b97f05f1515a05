// Package graph answers dependency questions over the live aggregates:
// the pending set, roots, cycle checks, and the bidirectional DAG
// traversal behind the inspect view. Aggregates reference each other by
// id only; this package converts to an indexed form per call and throws
// it away.
package graph

import (
	"sort"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Graph is a stateless view over the aggregate manager.
type Graph struct {
	aggs *aggregates.Manager
}

// New returns a graph over the given manager.
func New(aggs *aggregates.Manager) *Graph {
	return &Graph{aggs: aggs}
}

// IsPending reports whether the item is workable now: not completed, with
// every dependency completed.
func (g *Graph) IsPending(itemID string) (bool, error) {
	agg, err := g.aggs.Get(itemID)
	if err != nil {
		return false, err
	}
	return g.isPending(agg)
}

func (g *Graph) isPending(agg *types.Aggregate) (bool, error) {
	if agg.Status == types.StatusCompleted {
		return false, nil
	}
	for _, dep := range agg.Dependencies {
		depAgg, err := g.aggs.Get(dep)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue // dangling dependency does not block
			}
			return false, err
		}
		if depAgg.Status != types.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Pending returns the ids of every pending item, ordered by creation.
func (g *Graph) Pending() ([]string, error) {
	all, err := g.aggs.All()
	if err != nil {
		return nil, err
	}
	sortByCreated(all)
	var out []string
	for _, agg := range all {
		pending, err := g.isPending(agg)
		if err != nil {
			return nil, err
		}
		if pending {
			out = append(out, agg.ItemID)
		}
	}
	return out, nil
}

// Roots returns every item nothing depends on, ordered by creation.
func (g *Graph) Roots() ([]*types.Aggregate, error) {
	all, err := g.aggs.All()
	if err != nil {
		return nil, err
	}
	sortByCreated(all)
	var roots []*types.Aggregate
	for _, agg := range all {
		if len(agg.Dependents) == 0 {
			roots = append(roots, agg)
		}
	}
	return roots, nil
}

// WouldCreateCycle reports whether adding the edge "needing needs needed"
// closes a cycle in the active dependency graph: true iff needing is
// reachable from needed by following dependencies.
func (g *Graph) WouldCreateCycle(needing, needed string) (bool, error) {
	if needing == needed {
		return true, nil
	}
	visited := map[string]bool{}
	stack := []string{needed}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == needing {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		agg, err := g.aggs.Get(id)
		if err != nil {
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return false, err
		}
		stack = append(stack, agg.Dependencies...)
	}
	return false, nil
}

func sortByCreated(aggs []*types.Aggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].Created != aggs[j].Created {
			return aggs[i].Created < aggs[j].Created
		}
		return aggs[i].ItemID < aggs[j].ItemID
	})
}
