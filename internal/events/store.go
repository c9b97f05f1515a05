package events

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
)

// File is one event read from the data directory.
type File struct {
	Name Name
	Data []byte
}

// Store reads and writes event files in a single flat data directory.
// It is pure filesystem: replication across machines happens because git
// carries the directory, not because the store coordinates anything.
type Store struct {
	dir   string
	clock *Clock

	// beforeWrite, when set, receives each final filename before the file
	// is renamed into place. The aggregate watcher uses it to tell
	// first-party writes from external ones without racing the rename.
	beforeWrite func(filename string)
}

// NewStore returns a store over dir using clock for event stamps.
func NewStore(dir string, clock *Clock) *Store {
	return &Store{dir: dir, clock: clock}
}

// Dir returns the data directory path.
func (s *Store) Dir() string { return s.dir }

// Clock returns the store's timestamp source.
func (s *Store) Clock() *Clock { return s.clock }

// SetWriteHook registers the pre-write filename hook. Set once during
// startup, before any writes.
func (s *Store) SetWriteHook(hook func(filename string)) {
	s.beforeWrite = hook
}

// WriteEvent assigns the stamp and random suffix to name (create events
// carry neither), serializes payload, and writes the file atomically via
// temp-file-plus-rename. On a filename collision it retries with a fresh
// random suffix. Returns the final filename.
func (s *Store) WriteEvent(name Name, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling %s event: %w", name.Kind, err)
	}
	data = append(data, '\n')

	if name.Kind != KindCreate && name.Stamp == "" {
		name.Stamp = s.clock.Next()
	}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		if name.Kind != KindCreate {
			name.Rand = randSuffix()
		}
		filename := name.String()
		path := filepath.Join(s.dir, filename)

		// Collision check first: rename would silently replace.
		if _, err := os.Lstat(path); err == nil {
			if name.Kind == KindCreate {
				return "", fmt.Errorf("event file %s already exists", filename)
			}
			continue
		}

		if s.beforeWrite != nil {
			s.beforeWrite(filename)
		}
		if err := writeFileAtomic(path, data); err != nil {
			return "", fmt.Errorf("writing event %s: %w", filename, err)
		}
		return filename, nil
	}
	return "", fmt.Errorf("could not find a free filename for %s event on item %s", name.Kind, name.ItemID)
}

// ListForItem returns every event file affecting itemID, in either the
// primary or the needed position. Restrict limits the result to the given
// kinds when non-empty.
func (s *Store) ListForItem(itemID string, restrict ...Kind) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	var out []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := ParseName(entry.Name())
		if err != nil {
			continue // .gitignore, last_port.data, logs
		}
		if !name.Touches(itemID) {
			continue
		}
		if len(restrict) > 0 && !kindIn(name.Kind, restrict) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name())) // #nosec G304 - name validated by ParseName
		if err != nil {
			return nil, fmt.Errorf("reading event %s: %w", entry.Name(), err)
		}
		out = append(out, File{Name: name, Data: data})
	}
	return out, nil
}

// AllItemIDs returns every id appearing in the primary position of a
// creation event, sorted.
func (s *Store) AllItemIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := ParseName(entry.Name())
		if err != nil || name.Kind != KindCreate {
			continue
		}
		ids = append(ids, name.ItemID)
	}
	sort.Strings(ids)
	return ids, nil
}

// HasItem reports whether a creation event exists for id.
func (s *Store) HasItem(id string) bool {
	_, err := os.Lstat(filepath.Join(s.dir, id+".json"))
	return err == nil
}

// AllocateItemID picks a random free 8-digit id, retrying on collision
// against existing creation events.
func (s *Store) AllocateItemID() (string, error) {
	const attempts = 100
	for i := 0; i < attempts; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
		if err != nil {
			return "", fmt.Errorf("generating item id: %w", err)
		}
		id := fmt.Sprintf("%08d", n.Int64())
		if !s.HasItem(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a free item id after %d attempts", 100)
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, other := range kinds {
		if k == other {
			return true
		}
	}
	return false
}

// randSuffix returns 6 hex characters from crypto/rand.
func randSuffix() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; keep the event
		// write alive regardless.
		return "000000"
	}
	return hex.EncodeToString(b[:])
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it into place so readers never observe a partial event.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-event-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
