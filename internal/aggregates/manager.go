// Package aggregates owns the per-item aggregate cache: lazy creation,
// incremental folds on local writes, invalidation on inbound git merges,
// validation, and full background rebuilds. Cache files live in a hidden
// .aggregates directory that git never sees.
package aggregates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/sparkle-tasks/sparkle/internal/events"
	"github.com/sparkle-tasks/sparkle/internal/state"
	"github.com/sparkle-tasks/sparkle/internal/types"
)

// DirName is the aggregate cache directory inside the data directory.
const DirName = ".aggregates"

// Cause classifies why an aggregate changed, for change subscribers and
// the aggregatesUpdated broadcast.
type Cause string

const (
	CauseUserEdit      Cause = "user_edit"
	CauseExternalWrite Cause = "external_write"
	CauseGitPull       Cause = "git_pull"
)

// ChangeFunc receives every aggregate update.
type ChangeFunc func(itemID string, cause Cause)

// Manager caches folded item state on disk. Aggregate writes for one item
// never interleave: each id has its own lock.
type Manager struct {
	store *events.Store
	dir   string
	log   *log.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	subsMu sync.RWMutex
	subs   []ChangeFunc

	// Event filenames written by this process, so the directory watcher
	// can tell first-party writes from external ones.
	authoredMu sync.Mutex
	authored   map[string]bool

	// Inbound-merge window. Files a git merge materializes also fire
	// filesystem events; while the window is open the watcher stays
	// quiet, and the pulled set catches events delivered after it
	// closes, so each pulled file is reported once, as a pull.
	pullMu  sync.Mutex
	pulling bool
	pulled  map[string]bool

	globalMu sync.Mutex // serializes statuses.json / takers.json writes
}

// NewManager creates the cache directory if needed and returns a manager
// over it.
func NewManager(store *events.Store, logger *log.Logger) (*Manager, error) {
	dir := filepath.Join(store.Dir(), DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating aggregates directory: %w", err)
	}
	return &Manager{
		store:    store,
		dir:      dir,
		log:      logger,
		locks:    map[string]*sync.Mutex{},
		authored: map[string]bool{},
		pulled:   map[string]bool{},
	}, nil
}

// Dir returns the aggregate cache directory.
func (m *Manager) Dir() string { return m.dir }

// OnChange registers a subscriber for aggregate updates.
func (m *Manager) OnChange(cb ChangeFunc) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs, cb)
}

func (m *Manager) notify(itemID string, cause Cause) {
	m.subsMu.RLock()
	subs := make([]ChangeFunc, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.RUnlock()
	for _, cb := range subs {
		cb(itemID, cause)
	}
}

func (m *Manager) lockFor(itemID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[itemID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[itemID] = l
	}
	return l
}

// MarkAuthored records a filename this process wrote, so the watcher does
// not report it as an external write. Call before the event hits disk.
func (m *Manager) MarkAuthored(filename string) {
	m.authoredMu.Lock()
	defer m.authoredMu.Unlock()
	m.authored[filename] = true
}

// WasAuthored reports and consumes the authored mark for filename.
func (m *Manager) WasAuthored(filename string) bool {
	m.authoredMu.Lock()
	defer m.authoredMu.Unlock()
	if m.authored[filename] {
		delete(m.authored, filename)
		return true
	}
	return false
}

// BeginPull opens the inbound-merge window. The fetch path calls it
// before merging and EndPull after the pulled files are invalidated.
func (m *Manager) BeginPull() {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	m.pulling = true
}

// EndPull closes the inbound-merge window.
func (m *Manager) EndPull() {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	m.pulling = false
}

// PullInProgress reports whether an inbound merge window is open.
func (m *Manager) PullInProgress() bool {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	return m.pulling
}

func (m *Manager) markPulled(filename string) {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	m.pulled[filename] = true
}

// WasPulled reports and consumes the pulled mark for filename.
func (m *Manager) WasPulled(filename string) bool {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	if m.pulled[filename] {
		delete(m.pulled, filename)
		return true
	}
	return false
}

func (m *Manager) cachePath(itemID string) string {
	return filepath.Join(m.dir, itemID+".json")
}

// Get returns the item's aggregate, rebuilding the cache from events when
// it is missing or unreadable.
func (m *Manager) Get(itemID string) (*types.Aggregate, error) {
	if !events.ValidItemID(itemID) {
		return nil, types.Validationf("malformed item id %q", itemID)
	}
	lock := m.lockFor(itemID)
	lock.Lock()
	defer lock.Unlock()
	return m.getLocked(itemID)
}

func (m *Manager) getLocked(itemID string) (*types.Aggregate, error) {
	data, err := os.ReadFile(m.cachePath(itemID)) // #nosec G304 - id validated
	if err == nil {
		var agg types.Aggregate
		if jsonErr := json.Unmarshal(data, &agg); jsonErr == nil && agg.SchemaVersion == types.AggregateSchemaVersion {
			return &agg, nil
		}
		m.log.Printf("aggregate cache for %s unreadable or stale, rebuilding", itemID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		m.log.Printf("aggregate cache for %s: %v, rebuilding", itemID, err)
	}
	return m.rebuildLocked(itemID)
}

// rebuildLocked recomputes the aggregate from events and writes the cache.
// If the item has no events at all, any stale cache file is removed.
func (m *Manager) rebuildLocked(itemID string) (*types.Aggregate, error) {
	files, err := m.store.ListForItem(itemID)
	if err != nil {
		return nil, err
	}
	agg, err := state.Build(itemID, files)
	if err != nil {
		if types.KindOf(err) == types.ErrNotFound {
			_ = os.Remove(m.cachePath(itemID))
		}
		return nil, err
	}
	if err := m.writeCache(agg); err != nil {
		return nil, err
	}
	return agg, nil
}

func (m *Manager) writeCache(agg *types.Aggregate) error {
	data, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling aggregate %s: %w", agg.ItemID, err)
	}
	if err := writeFileAtomic(m.cachePath(agg.ItemID), append(data, '\n')); err != nil {
		return fmt.Errorf("writing aggregate %s: %w", agg.ItemID, err)
	}
	return nil
}

// Invalidate recomputes the aggregates for every item affected by the
// given event filenames and notifies subscribers with cause. Dependency
// filenames invalidate both endpoints. Unparseable names are reported,
// never silently dropped.
func (m *Manager) Invalidate(filenames []string, cause Cause) []string {
	seen := map[string]bool{}
	var updated []string
	for _, filename := range filenames {
		if cause == CauseGitPull {
			m.markPulled(filepath.Base(filename))
		}
		name, err := events.ParseName(filepath.Base(filename))
		if err != nil {
			m.log.Printf("invalidate: skipping non-event file %s: %v", filename, err)
			continue
		}
		for _, id := range name.AffectedItems() {
			if seen[id] {
				continue
			}
			seen[id] = true
			lock := m.lockFor(id)
			lock.Lock()
			_, err := m.rebuildLocked(id)
			lock.Unlock()
			if err != nil {
				if types.KindOf(err) == types.ErrNotFound {
					// Event removed by the merge; stale cache is gone too.
					continue
				}
				m.log.Printf("invalidate: rebuilding %s: %v", id, err)
				continue
			}
			updated = append(updated, id)
			m.notify(id, cause)
		}
	}
	return updated
}

// ValidationResult reports the outcome of ValidateAll.
type ValidationResult struct {
	Total   int      `json:"total"`
	Valid   bool     `json:"valid"`
	Invalid []string `json:"invalid"`
}

// ValidateAll cheaply checks every known item's cache: it must exist,
// decode, carry the current schema version, and name the right item.
func (m *Manager) ValidateAll() (ValidationResult, error) {
	ids, err := m.store.AllItemIDs()
	if err != nil {
		return ValidationResult{}, err
	}
	result := ValidationResult{Total: len(ids), Valid: true, Invalid: []string{}}
	for _, id := range ids {
		data, err := os.ReadFile(m.cachePath(id)) // #nosec G304 - id from store scan
		if err != nil {
			result.Invalid = append(result.Invalid, id)
			continue
		}
		var agg types.Aggregate
		if err := json.Unmarshal(data, &agg); err != nil ||
			agg.SchemaVersion != types.AggregateSchemaVersion || agg.ItemID != id {
			result.Invalid = append(result.Invalid, id)
		}
	}
	result.Valid = len(result.Invalid) == 0
	return result, nil
}

// ProgressFunc reports rebuild progress after each item.
type ProgressFunc func(current, total int)

// RebuildAll recomputes every aggregate from events, invoking progress
// after each item and notifying subscribers per rebuilt item.
func (m *Manager) RebuildAll(progress ProgressFunc, cause Cause) error {
	ids, err := m.store.AllItemIDs()
	if err != nil {
		return err
	}
	total := len(ids)
	for i, id := range ids {
		lock := m.lockFor(id)
		lock.Lock()
		_, err := m.rebuildLocked(id)
		lock.Unlock()
		if err != nil {
			return fmt.Errorf("rebuilding aggregate %s: %w", id, err)
		}
		if progress != nil {
			progress(i+1, total)
		}
		m.notify(id, cause)
	}
	return nil
}

// All returns the aggregates of every known item, rebuilding caches as
// needed.
func (m *Manager) All() ([]*types.Aggregate, error) {
	ids, err := m.store.AllItemIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Aggregate, 0, len(ids))
	for _, id := range ids {
		agg, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// writeFileAtomic mirrors the event store's temp-and-rename discipline for
// cache files.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-agg-*")
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
