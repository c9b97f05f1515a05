package state

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"

	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func person(name, stamp string) types.Person {
	return types.Person{Name: name, Email: name + "@example.com", Timestamp: stamp}
}

// fixture builds an event history for item 11111111 exercising every kind.
func fixture(t *testing.T) []events.File {
	t.Helper()
	ada := person("ada", "20250101120000000")
	bob := person("bob", "20250101120001000")
	adaHash := events.PersonHash(ada.Name, ada.Email)
	bobHash := events.PersonHash(bob.Name, bob.Email)

	mk := func(n events.Name, payload any) events.File {
		return events.File{Name: n, Data: marshal(t, payload)}
	}
	stamp := func(i int) string { return "2025010112000" + string(rune('0'+i)) + "000" }

	return []events.File{
		mk(events.Name{Kind: events.KindCreate, ItemID: "11111111"},
			types.CreatePayload{ItemID: "11111111", Tagline: "original", Status: types.StatusIncomplete, Person: ada, Created: stamp(0)}),
		mk(events.Name{Kind: events.KindTagline, ItemID: "11111111", Stamp: stamp(1), Rand: "aaaaaa"},
			types.TaglinePayload{Tagline: "renamed once", Person: ada}),
		mk(events.Name{Kind: events.KindTagline, ItemID: "11111111", Stamp: stamp(2), Rand: "bbbbbb"},
			types.TaglinePayload{Tagline: "renamed twice", Person: bob}),
		mk(events.Name{Kind: events.KindEntry, ItemID: "11111111", Stamp: stamp(3), Rand: "cccccc"},
			types.EntryPayload{Text: "first note", Person: ada}),
		mk(events.Name{Kind: events.KindEntry, ItemID: "11111111", Stamp: stamp(4), Rand: "dddddd"},
			types.EntryPayload{Text: "second note", Person: bob}),
		mk(events.Name{Kind: events.KindStatus, ItemID: "11111111", Stamp: stamp(5), Rand: "eeeeee"},
			types.StatusPayload{Status: types.StatusCompleted, Person: ada}),
		// 11111111 needs 22222222, link then unlink then link again.
		mk(events.Name{Kind: events.KindDependency, ItemID: "11111111", Action: events.ActionLinked, NeededID: "22222222", Stamp: stamp(1), Rand: "ffffff"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindDependency, ItemID: "11111111", Action: events.ActionUnlinked, NeededID: "22222222", Stamp: stamp(2), Rand: "ffffff"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindDependency, ItemID: "11111111", Action: events.ActionLinked, NeededID: "22222222", Stamp: stamp(6), Rand: "ffffff"},
			types.PersonPayload{Person: ada}),
		// 33333333 needs 11111111.
		mk(events.Name{Kind: events.KindDependency, ItemID: "33333333", Action: events.ActionLinked, NeededID: "11111111", Stamp: stamp(3), Rand: "ffffff"},
			types.PersonPayload{Person: bob}),
		// Ada monitors, bob monitors then stops.
		mk(events.Name{Kind: events.KindMonitor, ItemID: "11111111", Action: events.ActionAdded, PersonHash: adaHash, Stamp: stamp(2), Rand: "ababab"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindMonitor, ItemID: "11111111", Action: events.ActionAdded, PersonHash: bobHash, Stamp: stamp(3), Rand: "ababab"},
			types.PersonPayload{Person: bob}),
		mk(events.Name{Kind: events.KindMonitor, ItemID: "11111111", Action: events.ActionRemoved, PersonHash: bobHash, Stamp: stamp(5), Rand: "ababab"},
			types.PersonPayload{Person: bob}),
		// Ada takes, surrenders, bob takes.
		mk(events.Name{Kind: events.KindTaken, ItemID: "11111111", Action: events.ActionTaken, PersonHash: adaHash, Stamp: stamp(2), Rand: "cdcdcd"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindTaken, ItemID: "11111111", Action: events.ActionSurrendered, PersonHash: adaHash, Stamp: stamp(4), Rand: "cdcdcd"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindTaken, ItemID: "11111111", Action: events.ActionTaken, PersonHash: bobHash, Stamp: stamp(6), Rand: "cdcdcd"},
			types.PersonPayload{Person: bob}),
		// Ignored then cleared.
		mk(events.Name{Kind: events.KindIgnored, ItemID: "11111111", Action: events.ActionSet, Stamp: stamp(3), Rand: "efefef"},
			types.PersonPayload{Person: ada}),
		mk(events.Name{Kind: events.KindIgnored, ItemID: "11111111", Action: events.ActionCleared, Stamp: stamp(7), Rand: "efefef"},
			types.PersonPayload{Person: ada}),
	}
}

func TestBuildFold(t *testing.T) {
	agg, err := Build("11111111", fixture(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if agg.Tagline != "renamed twice" {
		t.Errorf("tagline = %q", agg.Tagline)
	}
	if agg.Status != types.StatusCompleted {
		t.Errorf("status = %q", agg.Status)
	}
	if len(agg.Entries) != 2 || agg.Entries[0].Text != "first note" || agg.Entries[1].Text != "second note" {
		t.Errorf("entries = %+v", agg.Entries)
	}
	if !reflect.DeepEqual(agg.Dependencies, []string{"22222222"}) {
		t.Errorf("dependencies = %v", agg.Dependencies)
	}
	if !reflect.DeepEqual(agg.Dependents, []string{"33333333"}) {
		t.Errorf("dependents = %v", agg.Dependents)
	}
	if len(agg.Monitors) != 1 || agg.Monitors[0].Name != "ada" {
		t.Errorf("monitors = %+v", agg.Monitors)
	}
	if agg.TakenBy == nil || agg.TakenBy.Name != "bob" {
		t.Errorf("takenBy = %+v", agg.TakenBy)
	}
	if agg.Ignored {
		t.Error("ignored should have been cleared by the later event")
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	files := fixture(t)
	want, err := Build("11111111", files)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]events.File, len(files))
		copy(shuffled, files)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got, err := Build("11111111", shuffled)
		if err != nil {
			t.Fatalf("Build(shuffled): %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("fold not order-independent:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestBuildAtMostOneTaker(t *testing.T) {
	agg, err := Build("11111111", fixture(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// TakenBy is a single pointer by construction; the interesting check is
	// that a surrender between two takes leaves exactly the later taker.
	if agg.TakenBy == nil {
		t.Fatal("expected a taker")
	}
	if agg.TakenBy.Name != "bob" {
		t.Errorf("taker = %s, want bob", agg.TakenBy.Name)
	}
}

func TestBuildMissingCreation(t *testing.T) {
	files := []events.File{
		{
			Name: events.Name{Kind: events.KindEntry, ItemID: "99999999", Stamp: "20250101120000000", Rand: "aaaaaa"},
			Data: marshal(t, types.EntryPayload{Text: "orphan"}),
		},
	}
	if _, err := Build("99999999", files); err == nil {
		t.Error("Build without creation event should fail")
	} else if types.KindOf(err) != types.ErrNotFound {
		t.Errorf("error kind = %v, want not_found", types.KindOf(err))
	}
}

func TestBuildFreshItemDefaults(t *testing.T) {
	ada := person("ada", "20250101120000000")
	files := []events.File{
		{
			Name: events.Name{Kind: events.KindCreate, ItemID: "44444444"},
			Data: marshal(t, types.CreatePayload{ItemID: "44444444", Tagline: "fresh", Status: types.StatusIncomplete, Person: ada, Created: ada.Timestamp}),
		},
	}
	agg, err := Build("44444444", files)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if agg.TakenBy != nil || agg.Ignored || len(agg.Entries) != 0 ||
		len(agg.Dependencies) != 0 || len(agg.Dependents) != 0 || len(agg.Monitors) != 0 {
		t.Errorf("fresh aggregate not empty: %+v", agg)
	}
	if agg.SchemaVersion != types.AggregateSchemaVersion {
		t.Errorf("schemaVersion = %d", agg.SchemaVersion)
	}
}
