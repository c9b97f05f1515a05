package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), NewClock())
}

func TestWriteEventCreate(t *testing.T) {
	store := testStore(t)
	payload := types.CreatePayload{
		ItemID:  "12345678",
		Tagline: "Fix login bug",
		Status:  types.StatusIncomplete,
		Created: "20250101120000000",
	}
	filename, err := store.WriteEvent(Name{Kind: KindCreate, ItemID: "12345678"}, payload)
	if err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if filename != "12345678.json" {
		t.Errorf("filename = %q, want 12345678.json", filename)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), filename))
	if err != nil {
		t.Fatalf("reading written event: %v", err)
	}
	var got types.CreatePayload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Tagline != "Fix login bug" {
		t.Errorf("tagline = %q", got.Tagline)
	}

	// A second creation for the same id must fail, never overwrite.
	if _, err := store.WriteEvent(Name{Kind: KindCreate, ItemID: "12345678"}, payload); err == nil {
		t.Error("duplicate creation event accepted")
	}
}

func TestWriteEventAssignsStampAndRand(t *testing.T) {
	store := testStore(t)
	filename, err := store.WriteEvent(
		Name{Kind: KindEntry, ItemID: "12345678"},
		types.EntryPayload{Text: "note"},
	)
	if err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	name, err := ParseName(filename)
	if err != nil {
		t.Fatalf("written filename does not parse: %v", err)
	}
	if name.Stamp == "" || name.Rand == "" {
		t.Errorf("stamp/rand not assigned: %+v", name)
	}
}

func TestListForItem(t *testing.T) {
	store := testStore(t)
	mustWrite := func(n Name, payload any) {
		t.Helper()
		if _, err := store.WriteEvent(n, payload); err != nil {
			t.Fatalf("WriteEvent(%v): %v", n, err)
		}
	}

	mustWrite(Name{Kind: KindCreate, ItemID: "11111111"}, types.CreatePayload{ItemID: "11111111"})
	mustWrite(Name{Kind: KindCreate, ItemID: "22222222"}, types.CreatePayload{ItemID: "22222222"})
	mustWrite(Name{Kind: KindEntry, ItemID: "11111111"}, types.EntryPayload{Text: "a"})
	mustWrite(Name{Kind: KindDependency, ItemID: "22222222", Action: ActionLinked, NeededID: "11111111"}, types.PersonPayload{})

	// Stray files in the data directory must be ignored.
	if err := os.WriteFile(filepath.Join(store.Dir(), "last_port.data"), []byte("8080"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := store.ListForItem("11111111")
	if err != nil {
		t.Fatalf("ListForItem: %v", err)
	}
	// Creation + entry + the dependency where 11111111 is the needed side.
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3: %+v", len(files), files)
	}

	onlyEntries, err := store.ListForItem("11111111", KindEntry)
	if err != nil {
		t.Fatalf("ListForItem restricted: %v", err)
	}
	if len(onlyEntries) != 1 || onlyEntries[0].Name.Kind != KindEntry {
		t.Errorf("restricted list = %+v, want single entry event", onlyEntries)
	}
}

func TestAllItemIDs(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"33333333", "11111111", "22222222"} {
		if _, err := store.WriteEvent(Name{Kind: KindCreate, ItemID: id}, types.CreatePayload{ItemID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.WriteEvent(Name{Kind: KindEntry, ItemID: "11111111"}, types.EntryPayload{Text: "x"}); err != nil {
		t.Fatal(err)
	}

	ids, err := store.AllItemIDs()
	if err != nil {
		t.Fatalf("AllItemIDs: %v", err)
	}
	want := []string{"11111111", "22222222", "33333333"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestAllocateItemID(t *testing.T) {
	store := testStore(t)
	id, err := store.AllocateItemID()
	if err != nil {
		t.Fatalf("AllocateItemID: %v", err)
	}
	if !ValidItemID(id) {
		t.Errorf("allocated id %q is not 8 digits", id)
	}
	if store.HasItem(id) {
		t.Errorf("allocated id %q already exists", id)
	}
}
