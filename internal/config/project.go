// Package config loads sparkle's two configuration layers: the committed
// project config under the sparkle_config key of the host repository's
// package.json, and per-machine preferences kept next to the aggregates.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

// ManifestName is the host-repo manifest carrying the project config.
const ManifestName = "package.json"

// ConfigKey is the manifest key sparkle owns.
const ConfigKey = "sparkle_config"

// Project names the branch carrying the event store, the data directory
// inside it, and the worktree path used to check it out. All three are
// committed and shared by every clone.
type Project struct {
	GitBranch    string `json:"git_branch"`
	Directory    string `json:"directory"`
	WorktreePath string `json:"worktree_path"`
	// Optional override for the commit debounce, in seconds.
	CommitDebounceSeconds int `json:"commit_debounce_seconds,omitempty"`
}

// DataDir returns the event-store directory for a repo root.
func (p *Project) DataDir(repoRoot string) string {
	return filepath.Join(repoRoot, p.WorktreePath, p.Directory)
}

// Validate checks the three required fields.
func (p *Project) Validate() error {
	if p.GitBranch == "" {
		return types.Validationf("sparkle_config.git_branch is required")
	}
	if p.Directory == "" {
		return types.Validationf("sparkle_config.directory is required")
	}
	if p.WorktreePath == "" {
		return types.Validationf("sparkle_config.worktree_path is required")
	}
	return nil
}

// LoadProject reads the project config from repoRoot's manifest. A
// missing manifest or missing key is a ConfigMissing error so the daemon
// can serve its configure-me page instead of failing.
func LoadProject(repoRoot string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.Error{Kind: types.ErrConfig, Message: "no " + ManifestName + " in repository root"}
		}
		return nil, fmt.Errorf("reading %s: %w", ManifestName, err)
	}

	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestName, err)
	}
	raw, ok := manifest[ConfigKey]
	if !ok {
		return nil, &types.Error{Kind: types.ErrConfig, Message: ConfigKey + " not present in " + ManifestName}
	}
	var project Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ConfigKey, err)
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

// SaveProject writes the project config into the manifest, preserving
// every other key. A missing manifest is created with just our key.
func SaveProject(repoRoot string, project *Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	path := filepath.Join(repoRoot, ManifestName)

	manifest := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 - repo root from caller
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parsing existing %s: %w", ManifestName, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", ManifestName, err)
	}

	raw, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshaling project config: %w", err)
	}
	manifest[ConfigKey] = raw

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", ManifestName, err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil { // #nosec G306 - manifest is committed
		return fmt.Errorf("writing %s: %w", ManifestName, err)
	}
	return nil
}

// EnsureGitignore appends line to repoRoot's .gitignore unless already
// present. Used for the worktree path so the checkout never shows up as
// untracked in the host repo.
func EnsureGitignore(repoRoot, line string) error {
	path := filepath.Join(repoRoot, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading .gitignore: %w", err)
	}
	for _, existing := range splitLines(string(data)) {
		if existing == line {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G302,G304
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()
	prefix := ""
	if len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + line + "\n"); err != nil {
		return fmt.Errorf("appending to .gitignore: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
