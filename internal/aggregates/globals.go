package aggregates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

// Global aggregate filenames inside the .aggregates directory.
const (
	statusesFile = "statuses.json"
	takersFile   = "takers.json"
)

// Statuses returns the ordered allowed-status list, seeding the built-in
// defaults when no file exists yet.
func (m *Manager) Statuses() ([]string, error) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	data, err := os.ReadFile(filepath.Join(m.dir, statusesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.DefaultStatuses(), nil
		}
		return nil, fmt.Errorf("reading statuses: %w", err)
	}
	var statuses []string
	if err := json.Unmarshal(data, &statuses); err != nil {
		m.log.Printf("statuses.json unreadable (%v), falling back to defaults", err)
		return types.DefaultStatuses(), nil
	}
	return statuses, nil
}

// SetStatuses validates and persists a new allowed-status list. The list
// must keep both built-ins and contain no duplicates.
func (m *Manager) SetStatuses(statuses []string) error {
	seen := map[string]bool{}
	hasIncomplete, hasCompleted := false, false
	for _, s := range statuses {
		if s == "" {
			return types.Validationf("status names must be non-empty")
		}
		if seen[s] {
			return types.Validationf("duplicate status %q", s)
		}
		seen[s] = true
		if s == types.StatusIncomplete {
			hasIncomplete = true
		}
		if s == types.StatusCompleted {
			hasCompleted = true
		}
	}
	if !hasIncomplete || !hasCompleted {
		return types.Validationf("status list must include %q and %q",
			types.StatusIncomplete, types.StatusCompleted)
	}

	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling statuses: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.dir, statusesFile), append(data, '\n')); err != nil {
		return fmt.Errorf("writing statuses: %w", err)
	}
	return nil
}

// StatusAllowed reports whether status is in the allowed list.
func (m *Manager) StatusAllowed(status string) (bool, error) {
	statuses, err := m.Statuses()
	if err != nil {
		return false, err
	}
	for _, s := range statuses {
		if s == status {
			return true, nil
		}
	}
	return false, nil
}

// Takers returns every person who has ever taken any item, sorted by name
// then email, for the filter UIs.
func (m *Manager) Takers() ([]types.Person, error) {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return m.readTakersLocked()
}

func (m *Manager) readTakersLocked() ([]types.Person, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, takersFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []types.Person{}, nil
		}
		return nil, fmt.Errorf("reading takers: %w", err)
	}
	var takers []types.Person
	if err := json.Unmarshal(data, &takers); err != nil {
		m.log.Printf("takers.json unreadable (%v), starting empty", err)
		return []types.Person{}, nil
	}
	return takers, nil
}

// RecordTaker adds the person to the historical takers set. The stored
// timestamp is the first take observed; later takes do not update it.
func (m *Manager) RecordTaker(person types.Person) error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	takers, err := m.readTakersLocked()
	if err != nil {
		return err
	}
	for _, t := range takers {
		if t.Name == person.Name && t.Email == person.Email {
			return nil
		}
	}
	takers = append(takers, person)
	sort.Slice(takers, func(i, j int) bool {
		if takers[i].Name != takers[j].Name {
			return takers[i].Name < takers[j].Name
		}
		return takers[i].Email < takers[j].Email
	})
	data, err := json.MarshalIndent(takers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling takers: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.dir, takersFile), append(data, '\n')); err != nil {
		return fmt.Errorf("writing takers: %w", err)
	}
	return nil
}
