// Package state implements the pure fold from an item's event files to
// its aggregate. The fold is deterministic and order-independent: events
// are sorted by their filename stamps before folding, so any permutation
// of the input produces the same aggregate.
package state

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Build folds the event files for one item into its aggregate. The file
// list must contain the item's creation event; dependency files where the
// item is the needed endpoint contribute to Dependents.
func Build(itemID string, files []events.File) (*types.Aggregate, error) {
	sorted := make([]events.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Name, sorted[j].Name
		if a.Stamp != b.Stamp {
			return a.Stamp < b.Stamp
		}
		return a.String() < b.String()
	})

	agg := &types.Aggregate{
		SchemaVersion: types.AggregateSchemaVersion,
		ItemID:        itemID,
		Status:        types.StatusIncomplete,
		Dependencies:  []string{},
		Dependents:    []string{},
		Monitors:      []types.Person{},
		Entries:       []types.Entry{},
	}

	created := false
	var taglineStamp, statusStamp, ignoredStamp, takenStamp string
	// Latest dependency action per ordered (needing, needed) pair that has
	// itemID on one side.
	type depState struct {
		stamp  string
		linked bool
	}
	deps := map[[2]string]depState{}
	// Latest monitor action per person hash.
	type monitorState struct {
		stamp  string
		member bool
		person types.Person
	}
	monitors := map[string]monitorState{}

	for _, f := range sorted {
		n := f.Name
		switch n.Kind {
		case events.KindCreate:
			var p types.CreatePayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding creation event for %s: %w", itemID, err)
			}
			agg.Tagline = firstNonEmpty(agg.Tagline, p.Tagline)
			if statusStamp == "" && p.Status != "" {
				agg.Status = p.Status
			}
			agg.Created = p.Created
			agg.Person = p.Person
			created = true

		case events.KindTagline:
			var p types.TaglinePayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding event %s: %w", n.String(), err)
			}
			if n.Stamp >= taglineStamp {
				taglineStamp = n.Stamp
				agg.Tagline = p.Tagline
			}

		case events.KindStatus:
			var p types.StatusPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding event %s: %w", n.String(), err)
			}
			if n.Stamp >= statusStamp {
				statusStamp = n.Stamp
				agg.Status = p.Status
			}

		case events.KindEntry:
			var p types.EntryPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding event %s: %w", n.String(), err)
			}
			agg.Entries = append(agg.Entries, types.Entry{Text: p.Text, Person: p.Person})

		case events.KindDependency:
			pair := [2]string{n.ItemID, n.NeededID}
			prev, ok := deps[pair]
			if !ok || n.Stamp >= prev.stamp {
				deps[pair] = depState{stamp: n.Stamp, linked: n.Action == events.ActionLinked}
			}

		case events.KindMonitor:
			var p types.PersonPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding event %s: %w", n.String(), err)
			}
			prev, ok := monitors[n.PersonHash]
			if !ok || n.Stamp >= prev.stamp {
				monitors[n.PersonHash] = monitorState{
					stamp:  n.Stamp,
					member: n.Action == events.ActionAdded,
					person: p.Person,
				}
			}

		case events.KindTaken:
			var p types.PersonPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				return nil, fmt.Errorf("decoding event %s: %w", n.String(), err)
			}
			if n.Stamp >= takenStamp {
				takenStamp = n.Stamp
				if n.Action == events.ActionTaken {
					person := p.Person
					agg.TakenBy = &person
				} else {
					agg.TakenBy = nil
				}
			}

		case events.KindIgnored:
			if n.Stamp >= ignoredStamp {
				ignoredStamp = n.Stamp
				agg.Ignored = n.Action == events.ActionSet
			}
		}
	}

	if !created {
		return nil, types.NotFoundf("item %s has no creation event", itemID)
	}

	for pair, st := range deps {
		if !st.linked {
			continue
		}
		needing, needed := pair[0], pair[1]
		if needing == itemID {
			agg.Dependencies = append(agg.Dependencies, needed)
		}
		if needed == itemID {
			agg.Dependents = append(agg.Dependents, needing)
		}
	}

	for _, st := range monitors {
		if st.member {
			agg.Monitors = append(agg.Monitors, st.person)
		}
	}

	Normalize(agg)
	return agg, nil
}

// Normalize sorts the aggregate's list fields into their canonical order
// so that incremental updates and full rebuilds compare equal. Entries
// stay in event order and are not touched here.
func Normalize(agg *types.Aggregate) {
	sort.Strings(agg.Dependencies)
	sort.Strings(agg.Dependents)
	sort.Slice(agg.Monitors, func(i, j int) bool {
		a, b := agg.Monitors[i], agg.Monitors[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Email < b.Email
	})
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
