// Package sparkle is the API layer over the event store: every operation
// validates, writes exactly one event file (or refuses), folds it into the
// aggregate cache, and arms the commit scheduler. Callers never wait for
// the push.
package sparkle

import (
	"context"
	"log"

	"github.com/sparkle-tasks/sparkle/internal/aggregates"
	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/graph"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Notifier receives the filename of every event the service writes. The
// daemon wires the commit scheduler here.
type Notifier interface {
	NotifyFileCreated(filename string)
}

// IdentityFunc resolves the local author, normally from git config.
type IdentityFunc func(ctx context.Context) (types.Person, error)

// Service implements the sparkle operations.
type Service struct {
	store    *events.Store
	aggs     *aggregates.Manager
	graph    *graph.Graph
	notify   Notifier
	identity IdentityFunc
	log      *log.Logger
}

// New assembles a Service. notify may be nil for read-only contexts.
func New(store *events.Store, aggs *aggregates.Manager, notify Notifier, identity IdentityFunc, logger *log.Logger) *Service {
	return &Service{
		store:    store,
		aggs:     aggs,
		graph:    graph.New(aggs),
		notify:   notify,
		identity: identity,
		log:      logger,
	}
}

// Graph exposes the dependency graph built over the live aggregates.
func (s *Service) Graph() *graph.Graph { return s.graph }

// person stamps the local identity with a fresh monotonic timestamp. The
// same stamp goes into the event filename, so the author record and the
// file ordering agree.
func (s *Service) person(ctx context.Context) (types.Person, error) {
	p, err := s.identity(ctx)
	if err != nil {
		return types.Person{}, &types.Error{Kind: types.ErrConfig, Message: err.Error()}
	}
	p.Timestamp = s.store.Clock().Next()
	return p, nil
}

// writeEvent persists one event, folds it into the cache, and arms the
// scheduler.
func (s *Service) writeEvent(name events.Name, payload any) error {
	filename, err := s.store.WriteEvent(name, payload)
	if err != nil {
		return err
	}
	if err := s.aggs.UpdateForEvent(name, payload); err != nil {
		// The event is on disk; the cache self-heals on next read.
		s.log.Printf("folding %s: %v", filename, err)
	}
	if s.notify != nil {
		s.notify.NotifyFileCreated(filename)
	}
	return nil
}

// requireItem validates the id shape and loads the current aggregate.
func (s *Service) requireItem(itemID string) (*types.Aggregate, error) {
	if !events.ValidItemID(itemID) {
		return nil, types.Validationf("invalid item id %q", itemID)
	}
	return s.aggs.Get(itemID)
}

// CreateItem allocates an id and writes the creation event, plus an
// initial entry when text is given. Status defaults to incomplete.
func (s *Service) CreateItem(ctx context.Context, tagline, status, initialEntry string) (*types.Aggregate, error) {
	if tagline == "" {
		return nil, types.Validationf("tagline must not be empty")
	}
	if status == "" {
		status = types.StatusIncomplete
	}
	if err := s.checkStatus(status); err != nil {
		return nil, err
	}
	person, err := s.person(ctx)
	if err != nil {
		return nil, err
	}
	itemID, err := s.store.AllocateItemID()
	if err != nil {
		return nil, err
	}

	err = s.writeEvent(events.Name{Kind: events.KindCreate, ItemID: itemID}, types.CreatePayload{
		ItemID:  itemID,
		Tagline: tagline,
		Status:  status,
		Person:  person,
		Created: person.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	if initialEntry != "" {
		if err := s.AddEntry(ctx, itemID, initialEntry); err != nil {
			return nil, err
		}
	}
	return s.aggs.Get(itemID)
}

// AlterTagline replaces the item's tagline.
func (s *Service) AlterTagline(ctx context.Context, itemID, tagline string) error {
	if tagline == "" {
		return types.Validationf("tagline must not be empty")
	}
	if _, err := s.requireItem(itemID); err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(
		events.Name{Kind: events.KindTagline, ItemID: itemID, Stamp: person.Timestamp},
		types.TaglinePayload{Tagline: tagline, Person: person},
	)
}

// AddEntry appends a note to the item.
func (s *Service) AddEntry(ctx context.Context, itemID, text string) error {
	if text == "" {
		return types.Validationf("entry text must not be empty")
	}
	if _, err := s.requireItem(itemID); err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(
		events.Name{Kind: events.KindEntry, ItemID: itemID, Stamp: person.Timestamp},
		types.EntryPayload{Text: text, Person: person},
	)
}

// UpdateStatus moves the item to a new status, optionally with a note
// recorded alongside the transition.
func (s *Service) UpdateStatus(ctx context.Context, itemID, status, note string) error {
	if err := s.checkStatus(status); err != nil {
		return err
	}
	if _, err := s.requireItem(itemID); err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(
		events.Name{Kind: events.KindStatus, ItemID: itemID, Stamp: person.Timestamp},
		types.StatusPayload{Status: status, Text: note, Person: person},
	)
}

func (s *Service) checkStatus(status string) error {
	allowed, err := s.aggs.StatusAllowed(status)
	if err != nil {
		return err
	}
	if !allowed {
		statuses, _ := s.aggs.Statuses()
		return types.Validationf("unknown status %q (allowed: %v)", status, statuses)
	}
	return nil
}

// AddDependency links needing → needed. Idempotent; refuses self-loops
// and edges that would close a cycle.
func (s *Service) AddDependency(ctx context.Context, needing, needed string) error {
	if needing == needed {
		return types.Validationf("item %s cannot depend on itself", needing)
	}
	agg, err := s.requireItem(needing)
	if err != nil {
		return err
	}
	if _, err := s.requireItem(needed); err != nil {
		return err
	}
	if agg.DependsOn(needed) {
		return nil
	}
	cycle, err := s.graph.WouldCreateCycle(needing, needed)
	if err != nil {
		return err
	}
	if cycle {
		return types.Cyclef(needing, needed)
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(events.Name{
		Kind:     events.KindDependency,
		ItemID:   needing,
		Action:   events.ActionLinked,
		NeededID: needed,
		Stamp:    person.Timestamp,
	}, types.PersonPayload{Person: person})
}

// RemoveDependency unlinks needing → needed; no-op when not linked.
func (s *Service) RemoveDependency(ctx context.Context, needing, needed string) error {
	agg, err := s.requireItem(needing)
	if err != nil {
		return err
	}
	if !events.ValidItemID(needed) {
		return types.Validationf("invalid item id %q", needed)
	}
	if !agg.DependsOn(needed) {
		return nil
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(events.Name{
		Kind:     events.KindDependency,
		ItemID:   needing,
		Action:   events.ActionUnlinked,
		NeededID: needed,
		Stamp:    person.Timestamp,
	}, types.PersonPayload{Person: person})
}

// AddMonitor registers the caller as a monitor; idempotent.
func (s *Service) AddMonitor(ctx context.Context, itemID string) error {
	return s.monitorEvent(ctx, itemID, events.ActionAdded)
}

// RemoveMonitor deregisters the caller; idempotent.
func (s *Service) RemoveMonitor(ctx context.Context, itemID string) error {
	return s.monitorEvent(ctx, itemID, events.ActionRemoved)
}

func (s *Service) monitorEvent(ctx context.Context, itemID, action string) error {
	agg, err := s.requireItem(itemID)
	if err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	monitoring := agg.MonitoredBy(person.Name, person.Email)
	if (action == events.ActionAdded) == monitoring {
		return nil
	}
	return s.writeEvent(events.Name{
		Kind:       events.KindMonitor,
		ItemID:     itemID,
		Action:     action,
		PersonHash: events.PersonHash(person.Name, person.Email),
		Stamp:      person.Timestamp,
	}, types.PersonPayload{Person: person})
}

// TakeItem assigns the item to the caller. When someone else holds it, an
// implicit surrender for the holder precedes the take so the fold always
// shows at most one taker.
func (s *Service) TakeItem(ctx context.Context, itemID string) error {
	agg, err := s.requireItem(itemID)
	if err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	if agg.TakenBy != nil {
		if agg.TakenBy.Name == person.Name && agg.TakenBy.Email == person.Email {
			return nil
		}
		holder := *agg.TakenBy
		holder.Timestamp = person.Timestamp
		err := s.writeEvent(events.Name{
			Kind:       events.KindTaken,
			ItemID:     itemID,
			Action:     events.ActionSurrendered,
			PersonHash: events.PersonHash(holder.Name, holder.Email),
			Stamp:      holder.Timestamp,
		}, types.PersonPayload{Person: holder})
		if err != nil {
			return err
		}
		// The take needs a later stamp than the surrender it follows.
		person.Timestamp = s.store.Clock().Next()
	}
	err = s.writeEvent(events.Name{
		Kind:       events.KindTaken,
		ItemID:     itemID,
		Action:     events.ActionTaken,
		PersonHash: events.PersonHash(person.Name, person.Email),
		Stamp:      person.Timestamp,
	}, types.PersonPayload{Person: person})
	if err != nil {
		return err
	}
	if err := s.aggs.RecordTaker(person); err != nil {
		s.log.Printf("recording taker: %v", err)
	}
	return nil
}

// SurrenderItem releases the item if the caller holds it; idempotent.
func (s *Service) SurrenderItem(ctx context.Context, itemID string) error {
	agg, err := s.requireItem(itemID)
	if err != nil {
		return err
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	if agg.TakenBy == nil || agg.TakenBy.Name != person.Name || agg.TakenBy.Email != person.Email {
		return nil
	}
	return s.writeEvent(events.Name{
		Kind:       events.KindTaken,
		ItemID:     itemID,
		Action:     events.ActionSurrendered,
		PersonHash: events.PersonHash(person.Name, person.Email),
		Stamp:      person.Timestamp,
	}, types.PersonPayload{Person: person})
}

// IgnoreItem hides the item from default listings; idempotent.
func (s *Service) IgnoreItem(ctx context.Context, itemID string) error {
	return s.ignoredEvent(ctx, itemID, events.ActionSet)
}

// UnignoreItem clears the ignored flag; idempotent.
func (s *Service) UnignoreItem(ctx context.Context, itemID string) error {
	return s.ignoredEvent(ctx, itemID, events.ActionCleared)
}

func (s *Service) ignoredEvent(ctx context.Context, itemID, action string) error {
	agg, err := s.requireItem(itemID)
	if err != nil {
		return err
	}
	if (action == events.ActionSet) == agg.Ignored {
		return nil
	}
	person, err := s.person(ctx)
	if err != nil {
		return err
	}
	return s.writeEvent(events.Name{
		Kind:   events.KindIgnored,
		ItemID: itemID,
		Action: action,
		Stamp:  person.Timestamp,
	}, types.PersonPayload{Person: person})
}

// UpdateStatuses replaces the allowed-status list. The built-in statuses
// must survive; duplicates are refused.
func (s *Service) UpdateStatuses(ctx context.Context, statuses []string) error {
	return s.aggs.SetStatuses(statuses)
}

// Identity returns the caller's person record without stamping it.
func (s *Service) Identity(ctx context.Context) (types.Person, error) {
	p, err := s.identity(ctx)
	if err != nil {
		return types.Person{}, &types.Error{Kind: types.ErrConfig, Message: err.Error()}
	}
	return p, nil
}
