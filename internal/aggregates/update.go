package aggregates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/state"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// UpdateForEvent applies a just-written local event to the affected
// aggregate(s) without rereading the item's whole history. Dependency
// events update both endpoints. When a cache file is absent the full
// rebuild already folds the new event in, so the minimal fold is skipped.
func (m *Manager) UpdateForEvent(name events.Name, payload any) error {
	ids := name.AffectedItems()
	sort.Strings(ids) // stable lock order for the two-item dependency case
	for _, id := range ids {
		if err := m.updateOne(id, name, payload); err != nil {
			return err
		}
	}
	for _, id := range ids {
		m.notify(id, CauseUserEdit)
	}
	return nil
}

func (m *Manager) updateOne(itemID string, name events.Name, payload any) error {
	lock := m.lockFor(itemID)
	lock.Lock()
	defer lock.Unlock()

	agg, ok, err := m.readCacheLocked(itemID)
	if err != nil {
		return err
	}
	if !ok {
		// No usable cache: rebuild from events, which includes this one.
		_, err := m.rebuildLocked(itemID)
		return err
	}

	if err := applyEvent(agg, itemID, name, payload); err != nil {
		return err
	}
	state.Normalize(agg)
	return m.writeCache(agg)
}

// readCacheLocked reads the cache file if it exists and is usable.
func (m *Manager) readCacheLocked(itemID string) (*types.Aggregate, bool, error) {
	data, err := os.ReadFile(m.cachePath(itemID)) // #nosec G304 - id validated upstream
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading aggregate cache %s: %w", itemID, err)
	}
	var agg types.Aggregate
	if err := json.Unmarshal(data, &agg); err != nil || agg.SchemaVersion != types.AggregateSchemaVersion {
		return nil, false, nil
	}
	return &agg, true, nil
}

// applyEvent is the minimal fold for one event onto one aggregate. Every
// branch is idempotent so replays cannot corrupt a cache.
func applyEvent(agg *types.Aggregate, itemID string, name events.Name, payload any) error {
	switch name.Kind {
	case events.KindCreate:
		p, ok := payload.(types.CreatePayload)
		if !ok {
			return fmt.Errorf("create event with %T payload", payload)
		}
		agg.Tagline = p.Tagline
		agg.Status = p.Status
		agg.Created = p.Created
		agg.Person = p.Person

	case events.KindTagline:
		p, ok := payload.(types.TaglinePayload)
		if !ok {
			return fmt.Errorf("tagline event with %T payload", payload)
		}
		agg.Tagline = p.Tagline

	case events.KindStatus:
		p, ok := payload.(types.StatusPayload)
		if !ok {
			return fmt.Errorf("status event with %T payload", payload)
		}
		agg.Status = p.Status

	case events.KindEntry:
		p, ok := payload.(types.EntryPayload)
		if !ok {
			return fmt.Errorf("entry event with %T payload", payload)
		}
		for _, e := range agg.Entries {
			if e.Person.Timestamp == p.Person.Timestamp && e.Text == p.Text {
				return nil // replay
			}
		}
		agg.Entries = append(agg.Entries, types.Entry{Text: p.Text, Person: p.Person})

	case events.KindDependency:
		linked := name.Action == events.ActionLinked
		switch itemID {
		case name.ItemID:
			agg.Dependencies = setMembership(agg.Dependencies, name.NeededID, linked)
		case name.NeededID:
			agg.Dependents = setMembership(agg.Dependents, name.ItemID, linked)
		}

	case events.KindMonitor:
		p, ok := payload.(types.PersonPayload)
		if !ok {
			return fmt.Errorf("monitor event with %T payload", payload)
		}
		member := name.Action == events.ActionAdded
		agg.Monitors = setPersonMembership(agg.Monitors, p.Person, member)

	case events.KindTaken:
		p, ok := payload.(types.PersonPayload)
		if !ok {
			return fmt.Errorf("taken event with %T payload", payload)
		}
		if name.Action == events.ActionTaken {
			person := p.Person
			agg.TakenBy = &person
		} else {
			agg.TakenBy = nil
		}

	case events.KindIgnored:
		agg.Ignored = name.Action == events.ActionSet
	}
	return nil
}

func setMembership(ids []string, id string, member bool) []string {
	present := false
	for _, existing := range ids {
		if existing == id {
			present = true
			break
		}
	}
	switch {
	case member && !present:
		return append(ids, id)
	case !member && present:
		out := ids[:0]
		for _, existing := range ids {
			if existing != id {
				out = append(out, existing)
			}
		}
		return out
	}
	return ids
}

func setPersonMembership(persons []types.Person, p types.Person, member bool) []types.Person {
	idx := -1
	for i, existing := range persons {
		if existing.Name == p.Name && existing.Email == p.Email {
			idx = i
			break
		}
	}
	switch {
	case member && idx < 0:
		return append(persons, p)
	case !member && idx >= 0:
		return append(persons[:idx], persons[idx+1:]...)
	}
	return persons
}
