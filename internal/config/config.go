package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config holds application configuration.
type Config struct {
	// VinaPath is the scoring tool executable. Resolved via PATH when
	// it contains no directory separator.
	VinaPath string `json:"vina_path,omitempty"`

	// VinaSplitPath is the multi-pose splitter executable.
	VinaSplitPath string `json:"vina_split_path,omitempty"`

	// CPU is the parallelism hint passed to the scoring tool.
	// 0 means let the tool decide.
	CPU int `json:"cpu,omitempty"`

	// Exhaustiveness is the tool's search exhaustiveness. 0 means tool default.
	Exhaustiveness int `json:"exhaustiveness,omitempty"`

	// EnergyRange is the tool's energy window in kcal/mol. 0 means tool default.
	EnergyRange float64 `json:"energy_range,omitempty"`

	// NumModes is the number of binding modes the tool should emit.
	// 0 means tool default.
	NumModes int `json:"num_modes,omitempty"`

	// PollIntervalMs is how often the task log is polled for progress.
	PollIntervalMs int `json:"poll_interval_ms,omitempty"`

	// TaskTimeoutMin bounds a single scoring invocation. A hung tool is
	// killed and the run aborts once the timeout elapses. 0 disables the
	// bound (original behavior, not recommended).
	TaskTimeoutMin int `json:"task_timeout_min,omitempty"`

	// DefaultBoxSize is the docking box edge length (angstroms) used when
	// no per-target override supplies explicit sizes.
	DefaultBoxSize float64 `json:"default_box_size,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		VinaPath:       "vina",
		VinaSplitPath:  "vina_split",
		PollIntervalMs: 200,
		TaskTimeoutMin: 120,
		DefaultBoxSize: 20,
	}
}

// Load loads configuration from configDir/dockflow.json.
// Returns default config if the file doesn't exist.
// The configDir parameter allows tests to use t.TempDir().
func Load(configDir string) (*Config, error) {
	return loadFile(filepath.Join(configDir, "dockflow.json"))
}

// loadFile loads configuration from a specific file path.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs. Overlay values take
// precedence for non-zero scalars.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.VinaPath = overlay.VinaPath
	if result.VinaPath == "" {
		result.VinaPath = base.VinaPath
	}

	result.VinaSplitPath = overlay.VinaSplitPath
	if result.VinaSplitPath == "" {
		result.VinaSplitPath = base.VinaSplitPath
	}

	result.CPU = overlay.CPU
	if result.CPU == 0 {
		result.CPU = base.CPU
	}

	result.Exhaustiveness = overlay.Exhaustiveness
	if result.Exhaustiveness == 0 {
		result.Exhaustiveness = base.Exhaustiveness
	}

	result.EnergyRange = overlay.EnergyRange
	if result.EnergyRange == 0 {
		result.EnergyRange = base.EnergyRange
	}

	result.NumModes = overlay.NumModes
	if result.NumModes == 0 {
		result.NumModes = base.NumModes
	}

	result.PollIntervalMs = overlay.PollIntervalMs
	if result.PollIntervalMs == 0 {
		result.PollIntervalMs = base.PollIntervalMs
	}

	result.TaskTimeoutMin = overlay.TaskTimeoutMin
	if result.TaskTimeoutMin == 0 {
		result.TaskTimeoutMin = base.TaskTimeoutMin
	}

	result.DefaultBoxSize = overlay.DefaultBoxSize
	if result.DefaultBoxSize == 0 {
		result.DefaultBoxSize = base.DefaultBoxSize
	}

	return result
}
