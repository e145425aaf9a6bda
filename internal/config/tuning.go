// Package config loads the JSON tuning overlay a tracker run is started
// with: detection/gating probabilities, process and measurement noise,
// window and termination thresholds, and the radar geometry. The schema
// mirrors spec.md §6's enumerated configuration list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical tuning defaults file shipped with the
// repository.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for one tracker run. Every field
// is a pointer so a partial JSON document leaves the rest at their
// documented defaults; LoadTuningConfig still requires every key to be
// present, matching the teacher's "reject partial configs" discipline.
type TuningConfig struct {
	PD *float64 `json:"p_d,omitempty"` // default detection probability
	P0 *float64 `json:"p_0,omitempty"` // initial covariance diagonal value

	RRadar *float64 `json:"r_radar,omitempty"` // radar measurement noise std dev (m)
	RAIS   *float64 `json:"r_ais,omitempty"`   // AIS measurement noise std dev (m)
	Q      *float64 `json:"q,omitempty"`       // process noise spectral density

	LambdaPhi *float64 `json:"lambda_phi,omitempty"` // clutter (extraneous-measurement) density
	LambdaNu  *float64 `json:"lambda_nu,omitempty"`  // new-target (AIS fusion) density
	Eta2      *float64 `json:"eta2,omitempty"`       // chi-squared gating threshold

	WindowCeiling   *int `json:"window_ceiling,omitempty"`    // N, the global window ceiling
	InitialWindow   *int `json:"initial_window,omitempty"`    // window size seeded on confirmed targets
	TargetSizeLimit *int `json:"target_size_limit,omitempty"` // node-count ceiling forcing window shrink

	RadarPositionX *float64 `json:"radar_position_x,omitempty"`
	RadarPositionY *float64 `json:"radar_position_y,omitempty"`
	Range          *float64 `json:"range,omitempty"`
	Period         *string  `json:"period,omitempty"` // duration string, e.g. "1s"
	MaxSpeed       *float64 `json:"max_speed,omitempty"`

	MRequired      *int     `json:"m_required,omitempty"`
	NChecks        *int     `json:"n_checks,omitempty"`
	MergeThreshold *float64 `json:"merge_threshold,omitempty"`
	PruneThreshold *float64 `json:"prune_threshold,omitempty"`
	PairGate       *float64 `json:"pair_gate,omitempty"`

	Solver *string `json:"solver,omitempty"` // "branch_and_bound" or "exhaustive"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyTuningConfig returns a TuningConfig with every field nil.
func EmptyTuningConfig() *TuningConfig { return &TuningConfig{} }

var requiredKeys = []string{
	"p_d", "p_0", "r_radar", "r_ais", "q", "lambda_phi", "lambda_nu", "eta2",
	"window_ceiling", "initial_window", "target_size_limit",
	"radar_position_x", "radar_position_y", "range", "period", "max_speed",
	"m_required", "n_checks", "merge_threshold", "prune_threshold", "pair_gate",
	"solver",
}

// LoadTuningConfig loads a TuningConfig from a JSON file at path. The file
// must have a .json extension, be under 1MB, and declare every required
// key — partial overlays are rejected rather than silently defaulted,
// matching the teacher's tuning-config discipline.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config file missing required keys: %v", missing)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults, searching upward from
// the current directory. Panics if not found; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate range-checks p_d, eta2, window_ceiling, target_size_limit,
// period, m_required against n_checks, and solver, each only when set.
// The other fields are not checked.
func (c *TuningConfig) Validate() error {
	if c.PD != nil && (*c.PD <= 0 || *c.PD > 1) {
		return fmt.Errorf("p_d must be in (0, 1], got %f", *c.PD)
	}
	if c.Eta2 != nil && *c.Eta2 <= 0 {
		return fmt.Errorf("eta2 must be positive, got %f", *c.Eta2)
	}
	if c.WindowCeiling != nil && *c.WindowCeiling < 1 {
		return fmt.Errorf("window_ceiling must be >= 1, got %d", *c.WindowCeiling)
	}
	if c.TargetSizeLimit != nil && *c.TargetSizeLimit < 1 {
		return fmt.Errorf("target_size_limit must be >= 1, got %d", *c.TargetSizeLimit)
	}
	if c.Period != nil && *c.Period != "" {
		if _, err := time.ParseDuration(*c.Period); err != nil {
			return fmt.Errorf("invalid period %q: %w", *c.Period, err)
		}
	}
	if c.MRequired != nil && c.NChecks != nil && *c.MRequired > *c.NChecks {
		return fmt.Errorf("m_required (%d) cannot exceed n_checks (%d)", *c.MRequired, *c.NChecks)
	}
	if c.Solver != nil {
		switch *c.Solver {
		case "branch_and_bound", "exhaustive":
		default:
			return fmt.Errorf("unknown solver %q", *c.Solver)
		}
	}
	return nil
}

// GetPD returns p_d or its default.
func (c *TuningConfig) GetPD() float64 {
	if c.PD == nil {
		return 0.9
	}
	return *c.PD
}

// GetEta2 returns eta2 or its default (95% chi-squared(2) threshold).
func (c *TuningConfig) GetEta2() float64 {
	if c.Eta2 == nil {
		return 5.99
	}
	return *c.Eta2
}

// GetPeriod parses and returns period as a time.Duration, or its default.
func (c *TuningConfig) GetPeriod() time.Duration {
	if c.Period == nil || *c.Period == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.Period)
	if err != nil {
		return time.Second
	}
	return d
}

// GetWindowCeiling returns window_ceiling or its default.
func (c *TuningConfig) GetWindowCeiling() int {
	if c.WindowCeiling == nil {
		return 5
	}
	return *c.WindowCeiling
}

// GetTargetSizeLimit returns target_size_limit or its default.
func (c *TuningConfig) GetTargetSizeLimit() int {
	if c.TargetSizeLimit == nil {
		return 3000
	}
	return *c.TargetSizeLimit
}

// GetSolver returns solver or its default.
func (c *TuningConfig) GetSolver() string {
	if c.Solver == nil {
		return "branch_and_bound"
	}
	return *c.Solver
}
