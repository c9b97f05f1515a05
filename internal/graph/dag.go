package graph

import (
	"sort"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Neighbors carries a node's complete adjacency, attached only on its
// first encounter in a DAG stream.
type Neighbors struct {
	DependsOn  []string `json:"dependsOn"`
	ProvidesTo []string `json:"providesTo"`
}

// DagNode is one emission of the bidirectional traversal. Depth is the
// signed distance from the reference: positive in the dependencies
// direction, negative in the dependents direction. NeededBy is the node
// this one was reached from, nil only for the reference itself.
type DagNode struct {
	Item     string     `json:"item"`
	Tagline  string     `json:"tagline"`
	Status   string     `json:"status"`
	Depth    int        `json:"depth"`
	NeededBy *string    `json:"neededBy"`
	Full     *Neighbors `json:"full,omitempty"`
}

// Dag walks outward from referenceID in both directions, breadth-first,
// emitting the reference first at depth 0. Each id gets its Full
// neighbour lists exactly once; later encounters over other edges emit
// the minimal record only. The visited set bounds the walk on diamonds.
func (g *Graph) Dag(referenceID string) ([]DagNode, error) {
	ref, err := g.aggs.Get(referenceID)
	if err != nil {
		return nil, err
	}

	type frame struct {
		agg   *types.Aggregate
		depth int
		from  string
	}

	var out []DagNode
	expanded := map[string]bool{}
	queue := []frame{{agg: ref, depth: 0}}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		node := DagNode{
			Item:    f.agg.ItemID,
			Tagline: f.agg.Tagline,
			Status:  f.agg.Status,
			Depth:   f.depth,
		}
		if f.from != "" {
			from := f.from
			node.NeededBy = &from
		}

		if expanded[f.agg.ItemID] {
			out = append(out, node)
			continue
		}
		expanded[f.agg.ItemID] = true
		node.Full = &Neighbors{
			DependsOn:  append([]string{}, f.agg.Dependencies...),
			ProvidesTo: append([]string{}, f.agg.Dependents...),
		}
		out = append(out, node)

		for _, dep := range sorted(f.agg.Dependencies) {
			child, err := g.aggs.Get(dep)
			if err != nil {
				if types.KindOf(err) == types.ErrNotFound {
					continue
				}
				return nil, err
			}
			queue = append(queue, frame{agg: child, depth: f.depth + 1, from: f.agg.ItemID})
		}
		for _, parent := range sorted(f.agg.Dependents) {
			up, err := g.aggs.Get(parent)
			if err != nil {
				if types.KindOf(err) == types.ErrNotFound {
					continue
				}
				return nil, err
			}
			queue = append(queue, frame{agg: up, depth: f.depth - 1, from: f.agg.ItemID})
		}
	}
	return out, nil
}

// LinkSplit partitions items around a prospective new edge for itemID.
type LinkSplit struct {
	Current    []Ref `json:"current"`
	Candidates []Ref `json:"candidates"`
}

// Ref is a light item reference for link pickers.
type Ref struct {
	ItemID  string `json:"itemId"`
	Tagline string `json:"tagline"`
	Status  string `json:"status"`
}

// PotentialDependencies lists the items already linked as dependencies of
// itemID and the items that could be linked without closing a cycle.
func (g *Graph) PotentialDependencies(itemID string) (*LinkSplit, error) {
	return g.potentialLinks(itemID, true)
}

// PotentialDependents is the mirror: items that could newly need itemID.
func (g *Graph) PotentialDependents(itemID string) (*LinkSplit, error) {
	return g.potentialLinks(itemID, false)
}

func (g *Graph) potentialLinks(itemID string, dependencies bool) (*LinkSplit, error) {
	agg, err := g.aggs.Get(itemID)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	if dependencies {
		for _, id := range agg.Dependencies {
			linked[id] = true
		}
	} else {
		for _, id := range agg.Dependents {
			linked[id] = true
		}
	}

	all, err := g.aggs.All()
	if err != nil {
		return nil, err
	}
	sortByCreated(all)

	split := &LinkSplit{Current: []Ref{}, Candidates: []Ref{}}
	for _, other := range all {
		if other.ItemID == itemID {
			continue
		}
		ref := Ref{ItemID: other.ItemID, Tagline: other.Tagline, Status: other.Status}
		if linked[other.ItemID] {
			split.Current = append(split.Current, ref)
			continue
		}
		var cycle bool
		if dependencies {
			cycle, err = g.WouldCreateCycle(itemID, other.ItemID)
		} else {
			cycle, err = g.WouldCreateCycle(other.ItemID, itemID)
		}
		if err != nil {
			return nil, err
		}
		if !cycle {
			split.Candidates = append(split.Candidates, ref)
		}
	}
	return split, nil
}

func sorted(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}
