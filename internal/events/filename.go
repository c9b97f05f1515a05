// Package events implements the append-only event store: one JSON file per
// mutation in a flat data directory, with the event kind, ordering stamp,
// and affected item ids all encoded in the filename.
package events

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind enumerates the event file kinds.
type Kind string

const (
	KindCreate     Kind = "create"
	KindTagline    Kind = "tagline"
	KindEntry      Kind = "entry"
	KindStatus     Kind = "status"
	KindDependency Kind = "dependency"
	KindMonitor    Kind = "monitor"
	KindTaken      Kind = "taken"
	KindIgnored    Kind = "ignored"
)

// Actions for the kinds that carry one.
const (
	ActionLinked      = "linked"
	ActionUnlinked    = "unlinked"
	ActionAdded       = "added"
	ActionRemoved     = "removed"
	ActionTaken       = "taken"
	ActionSurrendered = "surrendered"
	ActionSet         = "set"
	ActionCleared     = "cleared"
)

var (
	itemIDPattern = regexp.MustCompile(`^\d{8}$`)
	stampPattern  = regexp.MustCompile(`^\d{17}$`)
	randPattern   = regexp.MustCompile(`^[0-9a-f]{6}$`)
	hashPattern   = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// ValidItemID reports whether id has the 8-digit shape.
func ValidItemID(id string) bool {
	return itemIDPattern.MatchString(id)
}

// PersonHash derives the stable 16-hex-char hash of a person used in
// monitor and taken filenames. Equal (name,email) pairs always collide,
// which is what lets add/remove pairs for the same person fold away.
func PersonHash(name, email string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(name+"\x00"+email))
}

// Name is the decoded form of an event filename. ItemID is the primary
// (first) position; NeededID is set only for dependency events and names
// the other endpoint; PersonHash is set for monitor and taken events.
type Name struct {
	Kind       Kind
	ItemID     string
	Action     string
	NeededID   string
	PersonHash string
	Stamp      string
	Rand       string
}

// String reassembles the filename per the grammar.
func (n Name) String() string {
	switch n.Kind {
	case KindCreate:
		return n.ItemID + ".json"
	case KindTagline, KindEntry, KindStatus:
		return fmt.Sprintf("%s.%s.%s.%s.json", n.ItemID, n.Kind, n.Stamp, n.Rand)
	case KindDependency:
		return fmt.Sprintf("%s.dependency.%s.%s.%s.%s.json", n.ItemID, n.Action, n.NeededID, n.Stamp, n.Rand)
	case KindMonitor, KindTaken:
		return fmt.Sprintf("%s.%s.%s.%s.%s.%s.json", n.ItemID, n.Kind, n.Action, n.PersonHash, n.Stamp, n.Rand)
	case KindIgnored:
		return fmt.Sprintf("%s.ignored.%s.%s.%s.json", n.ItemID, n.Action, n.Stamp, n.Rand)
	}
	return ""
}

// Touches reports whether the event affects the given item, in either the
// primary or the needed position.
func (n Name) Touches(itemID string) bool {
	return n.ItemID == itemID || (n.Kind == KindDependency && n.NeededID == itemID)
}

// AffectedItems returns every item id the event affects. Dependency events
// affect both endpoints; everything else affects one item.
func (n Name) AffectedItems() []string {
	if n.Kind == KindDependency {
		return []string{n.ItemID, n.NeededID}
	}
	return []string{n.ItemID}
}

// ParseName decodes an event filename. The parser is total over the
// grammar: any filename it accepts round-trips through String, and
// anything else (including stray files like .gitignore or last_port.data)
// returns an error.
func ParseName(filename string) (Name, error) {
	base, ok := strings.CutSuffix(filename, ".json")
	if !ok {
		return Name{}, fmt.Errorf("event filename %q: missing .json extension", filename)
	}
	parts := strings.Split(base, ".")
	if !ValidItemID(parts[0]) {
		return Name{}, fmt.Errorf("event filename %q: bad item id %q", filename, parts[0])
	}

	n := Name{ItemID: parts[0]}
	switch {
	case len(parts) == 1:
		n.Kind = KindCreate
		return n, nil
	case len(parts) == 4:
		switch parts[1] {
		case "tagline":
			n.Kind = KindTagline
		case "entry":
			n.Kind = KindEntry
		case "status":
			n.Kind = KindStatus
		default:
			return Name{}, fmt.Errorf("event filename %q: unknown kind %q", filename, parts[1])
		}
		return n, finishName(&n, filename, parts[2], parts[3])
	case len(parts) == 5 && parts[1] == "ignored":
		n.Kind = KindIgnored
		if parts[2] != ActionSet && parts[2] != ActionCleared {
			return Name{}, fmt.Errorf("event filename %q: bad ignored action %q", filename, parts[2])
		}
		n.Action = parts[2]
		return n, finishName(&n, filename, parts[3], parts[4])
	case len(parts) == 6 && parts[1] == "dependency":
		n.Kind = KindDependency
		if parts[2] != ActionLinked && parts[2] != ActionUnlinked {
			return Name{}, fmt.Errorf("event filename %q: bad dependency action %q", filename, parts[2])
		}
		n.Action = parts[2]
		if !ValidItemID(parts[3]) {
			return Name{}, fmt.Errorf("event filename %q: bad needed id %q", filename, parts[3])
		}
		n.NeededID = parts[3]
		return n, finishName(&n, filename, parts[4], parts[5])
	case len(parts) == 6 && (parts[1] == "monitor" || parts[1] == "taken"):
		if parts[1] == "monitor" {
			n.Kind = KindMonitor
			if parts[2] != ActionAdded && parts[2] != ActionRemoved {
				return Name{}, fmt.Errorf("event filename %q: bad monitor action %q", filename, parts[2])
			}
		} else {
			n.Kind = KindTaken
			if parts[2] != ActionTaken && parts[2] != ActionSurrendered {
				return Name{}, fmt.Errorf("event filename %q: bad taken action %q", filename, parts[2])
			}
		}
		n.Action = parts[2]
		if !hashPattern.MatchString(parts[3]) {
			return Name{}, fmt.Errorf("event filename %q: bad person hash %q", filename, parts[3])
		}
		n.PersonHash = parts[3]
		return n, finishName(&n, filename, parts[4], parts[5])
	}
	return Name{}, fmt.Errorf("event filename %q: unrecognized shape", filename)
}

func finishName(n *Name, filename, stamp, rand string) error {
	if !stampPattern.MatchString(stamp) {
		return fmt.Errorf("event filename %q: bad timestamp %q", filename, stamp)
	}
	if !randPattern.MatchString(rand) {
		return fmt.Errorf("event filename %q: bad random suffix %q", filename, rand)
	}
	n.Stamp = stamp
	n.Rand = rand
	return nil
}
