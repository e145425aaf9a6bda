package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.PD == nil || cfg.Eta2 == nil || cfg.Period == nil || cfg.Solver == nil {
		t.Fatal("defaults file must populate every tunable field")
	}
	if *cfg.PD <= 0 || *cfg.PD > 1 {
		t.Errorf("p_d out of range: %f", *cfg.PD)
	}
	if _, err := time.ParseDuration(*cfg.Period); err != nil {
		t.Errorf("period must parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must pass Validate(): %v", err)
	}
}

func TestEmptyTuningConfig(t *testing.T) {
	cfg := EmptyTuningConfig()
	if cfg.PD != nil || cfg.Eta2 != nil || cfg.Solver != nil {
		t.Error("expected every field nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("an empty config should still pass structural validation: %v", err)
	}
}

func TestLoadTuningConfigMissingKey(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "partial.json")
	if err := os.WriteFile(path, []byte(`{"p_d": 0.8}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Fatal("expected error for a config missing required keys")
	}
}

func TestLoadTuningConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(path, []byte(`{"p_d": `), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("/some/path/config.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "large.json")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for file size > 1MB")
	}
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.example.json")
	require.NoError(t, err)
	assert.Equal(t, "branch_and_bound", cfg.GetSolver())
	assert.Equal(t, 6, cfg.GetWindowCeiling())
	assert.Equal(t, 1500*time.Millisecond, cfg.GetPeriod())
}

func TestValidateRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  *TuningConfig
	}{
		{"m_required above n_checks", &TuningConfig{MRequired: ptrInt(5), NChecks: ptrInt(3)}},
		{"unknown solver", &TuningConfig{Solver: ptrString("cbc_magic")}},
		{"p_d above 1", &TuningConfig{PD: ptrFloat64(1.5)}},
		{"p_d zero", &TuningConfig{PD: ptrFloat64(0)}},
		{"non-positive eta2", &TuningConfig{Eta2: ptrFloat64(-1)}},
		{"zero window_ceiling", &TuningConfig{WindowCeiling: ptrInt(0)}},
		{"unparseable period", &TuningConfig{Period: ptrString("not-a-duration")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestGetters(t *testing.T) {
	cfg := EmptyTuningConfig()
	if cfg.GetPD() != 0.9 {
		t.Errorf("GetPD() default = %v, want 0.9", cfg.GetPD())
	}
	if cfg.GetEta2() != 5.99 {
		t.Errorf("GetEta2() default = %v, want 5.99", cfg.GetEta2())
	}
	if cfg.GetPeriod() != time.Second {
		t.Errorf("GetPeriod() default = %v, want 1s", cfg.GetPeriod())
	}
	if cfg.GetTargetSizeLimit() != 3000 {
		t.Errorf("GetTargetSizeLimit() default = %v, want 3000", cfg.GetTargetSizeLimit())
	}
}
