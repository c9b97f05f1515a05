// Package types holds the shared data model for sparkle: persons, event
// payloads, aggregates, and the error taxonomy used across the API and
// the daemon HTTP boundary.
package types

// Person identifies the author of an event. Name and Email come from the
// local git configuration; Timestamp is the 17-character sortable stamp
// assigned when the event was written.
type Person struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// Entry is one note on an item.
type Entry struct {
	Text   string `json:"text"`
	Person Person `json:"person"`
}

// AggregateSchemaVersion is bumped whenever the Aggregate shape changes;
// cached aggregates with an older version are rebuilt from events.
const AggregateSchemaVersion = 1

// Aggregate is the folded current state of one item, cached under
// .aggregates/<itemId>.json. Dependencies and dependents hold item ids,
// never pointers.
type Aggregate struct {
	SchemaVersion int      `json:"schemaVersion"`
	ItemID        string   `json:"itemId"`
	Tagline       string   `json:"tagline"`
	Status        string   `json:"status"`
	Created       string   `json:"created"`
	Person        Person   `json:"person"`
	Dependencies  []string `json:"dependencies"`
	Dependents    []string `json:"dependents"`
	Monitors      []Person `json:"monitors"`
	TakenBy       *Person  `json:"takenBy"`
	Entries       []Entry  `json:"entries"`
	Ignored       bool     `json:"ignored"`
}

// Built-in status names. Both are always present in the allowed-status
// list and cannot be removed.
const (
	StatusIncomplete = "incomplete"
	StatusCompleted  = "completed"
)

// DefaultStatuses is the allowed-status list for a fresh store.
func DefaultStatuses() []string {
	return []string{StatusIncomplete, StatusCompleted}
}

// HasTaker reports whether the item is currently taken.
func (a *Aggregate) HasTaker() bool {
	return a.TakenBy != nil
}

// DependsOn reports whether id appears in the aggregate's dependencies.
func (a *Aggregate) DependsOn(id string) bool {
	for _, d := range a.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Monitoring reports whether the given person hash is a current monitor.
// The hash function lives in the events package; callers pass the hash of
// each monitor for comparison.
func (a *Aggregate) MonitoredBy(name, email string) bool {
	for _, m := range a.Monitors {
		if m.Name == name && m.Email == email {
			return true
		}
	}
	return false
}
