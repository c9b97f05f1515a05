package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LocalFileName is the per-machine preference file inside .aggregates.
const LocalFileName = "config.json"

// EnvPrefix for overriding local preferences: SPARKLE_PORT and friends.
const EnvPrefix = "SPARKLE"

// Local holds per-machine preferences. Nothing here is committed; the
// file lives in the git-ignored aggregates directory.
type Local struct {
	// Port fixes the daemon port; 0 asks the OS for an ephemeral one.
	Port int `json:"port" mapstructure:"port"`
	// DarkMode is the browser UI theme preference.
	DarkMode bool `json:"dark_mode" mapstructure:"dark_mode"`
	// DefaultFilters seeds the browser UI filter controls.
	DefaultFilters map[string]string `json:"default_filters" mapstructure:"default_filters"`
	// FetchIntervalMinutes overrides the periodic fetch cadence.
	FetchIntervalMinutes int `json:"fetch_interval_minutes" mapstructure:"fetch_interval_minutes"`
}

// FetchInterval returns the configured fetch cadence, defaulting to 10
// minutes.
func (l *Local) FetchInterval() time.Duration {
	if l.FetchIntervalMinutes > 0 {
		return time.Duration(l.FetchIntervalMinutes) * time.Minute
	}
	return 10 * time.Minute
}

// LoadLocal reads local preferences from the aggregates directory with
// SPARKLE_* environment overrides. A missing file yields the defaults.
func LoadLocal(aggregatesDir string) (*Local, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault("port", 0)
	v.SetDefault("dark_mode", false)
	v.SetDefault("fetch_interval_minutes", 0)

	path := filepath.Join(aggregatesDir, LocalFileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", LocalFileName, err)
		}
	}

	var local Local
	if err := v.Unmarshal(&local); err != nil {
		return nil, fmt.Errorf("decoding local config: %w", err)
	}
	if local.DefaultFilters == nil {
		local.DefaultFilters = map[string]string{}
	}
	return &local, nil
}

// SaveLocal persists local preferences.
func SaveLocal(aggregatesDir string, local *Local) error {
	if err := os.MkdirAll(aggregatesDir, 0o750); err != nil {
		return fmt.Errorf("creating aggregates directory: %w", err)
	}
	data, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling local config: %w", err)
	}
	path := filepath.Join(aggregatesDir, LocalFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { // #nosec G306
		return fmt.Errorf("writing %s: %w", LocalFileName, err)
	}
	return nil
}

// Verbose reports whether CLI diagnostics are enabled via SPARKLE_VERBOSE.
func Verbose() bool {
	switch os.Getenv(EnvPrefix + "_VERBOSE") {
	case "", "0", "false":
		return false
	}
	return true
}

// LogEndpoint returns the optional external log-aggregation endpoint
// (host, port) from SPARKLE_LOG_HOST / SPARKLE_LOG_PORT, or ok=false.
func LogEndpoint() (host, port string, ok bool) {
	host = os.Getenv(EnvPrefix + "_LOG_HOST")
	port = os.Getenv(EnvPrefix + "_LOG_PORT")
	return host, port, host != "" && port != ""
}

// ReadPortFile reads last_port.data from the data directory, 0 if absent.
func ReadPortFile(dataDir string) int {
	data, err := os.ReadFile(filepath.Join(dataDir, "last_port.data"))
	if err != nil {
		return 0
	}
	var port int
	if _, err := fmt.Sscanf(string(data), "%d", &port); err != nil {
		return 0
	}
	return port
}

// WritePortFile records the daemon's bound port for later launches.
func WritePortFile(dataDir string, port int) error {
	path := filepath.Join(dataDir, "last_port.data")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", port)), 0o644); err != nil { // #nosec G306
		return fmt.Errorf("writing last_port.data: %w", err)
	}
	return nil
}

// RemovePortFile clears a stale port record. Best effort; a stale file
// only costs one failed probe on the next launch.
func RemovePortFile(dataDir string) {
	_ = os.Remove(filepath.Join(dataDir, "last_port.data"))
}
