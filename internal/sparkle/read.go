package sparkle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/graph"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Details is an aggregate enriched with the viewer's identity, so a
// client can tell "mine" apart without hashing persons itself.
type Details struct {
	*types.Aggregate
	Viewer  types.Person `json:"viewer"`
	Pending bool         `json:"pending"`
}

// ItemDetails returns the folded state of one item plus the viewer.
func (s *Service) ItemDetails(ctx context.Context, itemID string) (*Details, error) {
	agg, err := s.requireItem(itemID)
	if err != nil {
		return nil, err
	}
	viewer, err := s.Identity(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.graph.IsPending(itemID)
	if err != nil {
		return nil, err
	}
	return &Details{Aggregate: agg, Viewer: viewer, Pending: pending}, nil
}

// AllItems lists every aggregate, optionally filtered by a
// case-insensitive substring over the item id and tagline.
func (s *Service) AllItems(search string) ([]*types.Aggregate, error) {
	aggs, err := s.aggs.All()
	if err != nil {
		return nil, err
	}
	if search == "" {
		return aggs, nil
	}
	needle := strings.ToLower(search)
	filtered := aggs[:0]
	for _, agg := range aggs {
		haystack := strings.ToLower(agg.ItemID + " " + agg.Tagline)
		if strings.Contains(haystack, needle) {
			filtered = append(filtered, agg)
		}
	}
	return filtered, nil
}

// PendingWork returns the ids of items ready to be worked on: not
// completed, with every dependency completed.
func (s *Service) PendingWork() ([]string, error) {
	return s.graph.Pending()
}

// Dag emits the dependency graph around referenceID in BFS order.
func (s *Service) Dag(referenceID string) ([]graph.DagNode, error) {
	if !events.ValidItemID(referenceID) {
		return nil, types.Validationf("invalid item id %q", referenceID)
	}
	return s.graph.Dag(referenceID)
}

// PotentialDependencies lists linked and linkable dependency targets.
func (s *Service) PotentialDependencies(itemID string) (*graph.LinkSplit, error) {
	if !events.ValidItemID(itemID) {
		return nil, types.Validationf("invalid item id %q", itemID)
	}
	return s.graph.PotentialDependencies(itemID)
}

// PotentialDependents lists linked and linkable dependent sources.
func (s *Service) PotentialDependents(itemID string) (*graph.LinkSplit, error) {
	if !events.ValidItemID(itemID) {
		return nil, types.Validationf("invalid item id %q", itemID)
	}
	return s.graph.PotentialDependents(itemID)
}

// AuditEvent is one entry in an item's chronological history, with a
// resolved human-readable description.
type AuditEvent struct {
	Filename    string       `json:"filename"`
	Stamp       string       `json:"timestamp"`
	Kind        string       `json:"kind"`
	Action      string       `json:"action,omitempty"`
	Person      types.Person `json:"person"`
	Description string       `json:"description"`
}

// missingMarker stands in for the tagline of a counterparty whose
// creation event has been removed from the store.
const missingMarker = "MISSING"

// AuditTrail returns the item's events in stamp order, each annotated
// with a description; dependency edges name the counterparty's tagline.
func (s *Service) AuditTrail(itemID string) ([]AuditEvent, error) {
	if !events.ValidItemID(itemID) {
		return nil, types.Validationf("invalid item id %q", itemID)
	}
	files, err := s.store.ListForItem(itemID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, types.NotFoundf("item %s not found", itemID)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Name.Stamp != files[j].Name.Stamp {
			return files[i].Name.Stamp < files[j].Name.Stamp
		}
		return files[i].Name.String() < files[j].Name.String()
	})

	trail := make([]AuditEvent, 0, len(files))
	for _, f := range files {
		ev, err := s.describe(itemID, f)
		if err != nil {
			s.log.Printf("audit %s: %v", f.Name.String(), err)
			continue
		}
		trail = append(trail, ev)
	}
	return trail, nil
}

func (s *Service) describe(itemID string, f events.File) (AuditEvent, error) {
	ev := AuditEvent{
		Filename: f.Name.String(),
		Stamp:    f.Name.Stamp,
		Kind:     string(f.Name.Kind),
		Action:   f.Name.Action,
	}

	switch f.Name.Kind {
	case events.KindCreate:
		var p types.CreatePayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		ev.Stamp = p.Created
		ev.Description = fmt.Sprintf("created with tagline %q, status %q", p.Tagline, p.Status)

	case events.KindTagline:
		var p types.TaglinePayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		ev.Description = fmt.Sprintf("tagline changed to %q", p.Tagline)

	case events.KindEntry:
		var p types.EntryPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		ev.Description = fmt.Sprintf("entry added: %q", p.Text)

	case events.KindStatus:
		var p types.StatusPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		if p.Text != "" {
			ev.Description = fmt.Sprintf("status changed to %q (%s)", p.Status, p.Text)
		} else {
			ev.Description = fmt.Sprintf("status changed to %q", p.Status)
		}

	case events.KindDependency:
		var p types.PersonPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		ev.Description = s.describeDependency(itemID, f.Name)

	case events.KindMonitor:
		var p types.PersonPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		if f.Name.Action == events.ActionAdded {
			ev.Description = fmt.Sprintf("%s started monitoring", p.Person.Name)
		} else {
			ev.Description = fmt.Sprintf("%s stopped monitoring", p.Person.Name)
		}

	case events.KindTaken:
		var p types.PersonPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		if f.Name.Action == events.ActionTaken {
			ev.Description = fmt.Sprintf("taken by %s", p.Person.Name)
		} else {
			ev.Description = fmt.Sprintf("surrendered by %s", p.Person.Name)
		}

	case events.KindIgnored:
		var p types.PersonPayload
		if err := unmarshal(f.Data, &p); err != nil {
			return ev, err
		}
		ev.Person = p.Person
		if f.Name.Action == events.ActionSet {
			ev.Description = "marked ignored"
		} else {
			ev.Description = "ignore cleared"
		}

	default:
		return ev, fmt.Errorf("unknown event kind %q", f.Name.Kind)
	}
	return ev, nil
}

// describeDependency names the counterparty from the item's viewpoint:
// the same linked event reads "now needs" on the needing side and
// "now needed by" on the needed side.
func (s *Service) describeDependency(itemID string, n events.Name) string {
	var other string
	var verb string
	if n.ItemID == itemID {
		other = n.NeededID
		if n.Action == events.ActionLinked {
			verb = "now needs"
		} else {
			verb = "no longer needs"
		}
	} else {
		other = n.ItemID
		if n.Action == events.ActionLinked {
			verb = "now needed by"
		} else {
			verb = "no longer needed by"
		}
	}
	return fmt.Sprintf("%s %s (%s)", verb, other, s.taglineOf(other))
}

func (s *Service) taglineOf(itemID string) string {
	agg, err := s.aggs.Get(itemID)
	if err != nil {
		return missingMarker
	}
	return agg.Tagline
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
