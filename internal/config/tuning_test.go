package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsWhenUnset(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetDetectionThreshold(); got != 0.5 {
		t.Errorf("GetDetectionThreshold default = %v, want 0.5", got)
	}
	if got := cfg.GetRecognitionThreshold(); got != 0.02 {
		t.Errorf("GetRecognitionThreshold default = %v, want 0.02", got)
	}
	if got := cfg.GetCosineDistanceThreshold(); got != 0.4 {
		t.Errorf("GetCosineDistanceThreshold default = %v, want 0.4", got)
	}
	if got := cfg.GetConfirmationHits(); got != 10 {
		t.Errorf("GetConfirmationHits default = %v, want 10", got)
	}
	if got := cfg.GetMaxAge(); got != 60 {
		t.Errorf("GetMaxAge default = %v, want 60", got)
	}
	if got := cfg.GetTrajectoryCapacity(); got != 50 {
		t.Errorf("GetTrajectoryCapacity default = %v, want 50", got)
	}
	if got := cfg.GetAppearanceHistoryCapacity(); got != 100 {
		t.Errorf("GetAppearanceHistoryCapacity default = %v, want 100", got)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	body := `{"max_age": 30, "cosine_distance_threshold": 0.25}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetMaxAge(); got != 30 {
		t.Errorf("GetMaxAge = %v, want 30", got)
	}
	if got := cfg.GetCosineDistanceThreshold(); got != 0.25 {
		t.Errorf("GetCosineDistanceThreshold = %v, want 0.25", got)
	}
	// Unset fields keep defaults.
	if got := cfg.GetConfirmationHits(); got != 10 {
		t.Errorf("GetConfirmationHits = %v, want default 10", got)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("tuning.yaml"); err == nil {
		t.Error("expected error for non-JSON extension")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	bad := 1.5
	cfg := &TuningConfig{DetectionThreshold: &bad}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for detection_threshold > 1")
	}

	zero := 0
	cfg = &TuningConfig{ConfirmationHits: &zero}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for confirmation_hits < 1")
	}

	negAge := -1
	cfg = &TuningConfig{MaxAge: &negAge}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative max_age")
	}
}
