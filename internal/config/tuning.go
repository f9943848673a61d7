// Package config holds the tuning configuration for the tracking engine.
//
// The schema matches the /api/params endpoint so the same JSON can be used
// for both startup configuration and runtime updates. Fields are pointers:
// nil means "use the built-in default", so partial config files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TuningConfig represents the tunable parameters for detection, association,
// track lifecycle and recognition aggregation.
type TuningConfig struct {
	// Detection params
	DetectionThreshold *float64 `json:"detection_threshold,omitempty"`

	// Association params
	CosineDistanceThreshold *float64 `json:"cosine_distance_threshold,omitempty"`
	SpatialCostWeight       *float64 `json:"spatial_cost_weight,omitempty"`

	// Lifecycle params
	ConfirmationHits *int `json:"confirmation_hits,omitempty"`
	MaxAge           *int `json:"max_age,omitempty"`
	MaxTracks        *int `json:"max_tracks,omitempty"`

	// Per-track history limits
	TrajectoryCapacity        *int `json:"trajectory_capacity,omitempty"`
	AppearanceHistoryCapacity *int `json:"appearance_history_capacity,omitempty"`

	// Recognition params
	RecognitionThreshold *float64 `json:"recognition_threshold,omitempty"`

	// Pipeline params
	MaxDetectionFailures *int `json:"max_detection_failures,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields nil. The Get*
// accessors supply defaults for unset fields.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under the max file size. Fields omitted from
// the JSON retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
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

// Validate checks that the configuration values are within valid ranges.
func (c *TuningConfig) Validate() error {
	if c.DetectionThreshold != nil {
		if *c.DetectionThreshold < 0 || *c.DetectionThreshold > 1 {
			return fmt.Errorf("detection_threshold must be between 0 and 1, got %f", *c.DetectionThreshold)
		}
	}
	if c.RecognitionThreshold != nil {
		if *c.RecognitionThreshold < 0 || *c.RecognitionThreshold > 1 {
			return fmt.Errorf("recognition_threshold must be between 0 and 1, got %f", *c.RecognitionThreshold)
		}
	}
	if c.CosineDistanceThreshold != nil {
		if *c.CosineDistanceThreshold <= 0 || *c.CosineDistanceThreshold > 2 {
			return fmt.Errorf("cosine_distance_threshold must be in (0, 2], got %f", *c.CosineDistanceThreshold)
		}
	}
	if c.SpatialCostWeight != nil && *c.SpatialCostWeight < 0 {
		return fmt.Errorf("spatial_cost_weight must be non-negative, got %f", *c.SpatialCostWeight)
	}
	if c.ConfirmationHits != nil && *c.ConfirmationHits < 1 {
		return fmt.Errorf("confirmation_hits must be >= 1, got %d", *c.ConfirmationHits)
	}
	if c.MaxAge != nil && *c.MaxAge < 1 {
		return fmt.Errorf("max_age must be >= 1, got %d", *c.MaxAge)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be >= 1, got %d", *c.MaxTracks)
	}
	if c.TrajectoryCapacity != nil && *c.TrajectoryCapacity < 1 {
		return fmt.Errorf("trajectory_capacity must be >= 1, got %d", *c.TrajectoryCapacity)
	}
	if c.AppearanceHistoryCapacity != nil && *c.AppearanceHistoryCapacity < 1 {
		return fmt.Errorf("appearance_history_capacity must be >= 1, got %d", *c.AppearanceHistoryCapacity)
	}
	if c.MaxDetectionFailures != nil && *c.MaxDetectionFailures < 1 {
		return fmt.Errorf("max_detection_failures must be >= 1, got %d", *c.MaxDetectionFailures)
	}
	return nil
}

// GetDetectionThreshold returns the detection_threshold value or the default.
func (c *TuningConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return 0.5
	}
	return *c.DetectionThreshold
}

// GetCosineDistanceThreshold returns the cosine_distance_threshold value or the default.
func (c *TuningConfig) GetCosineDistanceThreshold() float64 {
	if c.CosineDistanceThreshold == nil {
		return 0.4
	}
	return *c.CosineDistanceThreshold
}

// GetSpatialCostWeight returns the spatial_cost_weight value or the default.
func (c *TuningConfig) GetSpatialCostWeight() float64 {
	if c.SpatialCostWeight == nil {
		return 0.2
	}
	return *c.SpatialCostWeight
}

// GetConfirmationHits returns the confirmation_hits value or the default.
func (c *TuningConfig) GetConfirmationHits() int {
	if c.ConfirmationHits == nil {
		return 10
	}
	return *c.ConfirmationHits
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 60
	}
	return *c.MaxAge
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 200
	}
	return *c.MaxTracks
}

// GetTrajectoryCapacity returns the trajectory_capacity value or the default.
func (c *TuningConfig) GetTrajectoryCapacity() int {
	if c.TrajectoryCapacity == nil {
		return 50
	}
	return *c.TrajectoryCapacity
}

// GetAppearanceHistoryCapacity returns the appearance_history_capacity value or the default.
func (c *TuningConfig) GetAppearanceHistoryCapacity() int {
	if c.AppearanceHistoryCapacity == nil {
		return 100
	}
	return *c.AppearanceHistoryCapacity
}

// GetRecognitionThreshold returns the recognition_threshold value or the default.
func (c *TuningConfig) GetRecognitionThreshold() float64 {
	if c.RecognitionThreshold == nil {
		return 0.02
	}
	return *c.RecognitionThreshold
}

// GetMaxDetectionFailures returns the max_detection_failures value or the default.
func (c *TuningConfig) GetMaxDetectionFailures() int {
	if c.MaxDetectionFailures == nil {
		return 30
	}
	return *c.MaxDetectionFailures
}

// EffectiveTuning is a fully-resolved view of a TuningConfig: every field
// carries its effective value, defaults applied.
type EffectiveTuning struct {
	DetectionThreshold        float64 `json:"detection_threshold"`
	CosineDistanceThreshold   float64 `json:"cosine_distance_threshold"`
	SpatialCostWeight         float64 `json:"spatial_cost_weight"`
	ConfirmationHits          int     `json:"confirmation_hits"`
	MaxAge                    int     `json:"max_age"`
	MaxTracks                 int     `json:"max_tracks"`
	TrajectoryCapacity        int     `json:"trajectory_capacity"`
	AppearanceHistoryCapacity int     `json:"appearance_history_capacity"`
	RecognitionThreshold      float64 `json:"recognition_threshold"`
	MaxDetectionFailures      int     `json:"max_detection_failures"`
}

// Effective resolves all fields against their defaults.
func (c *TuningConfig) Effective() EffectiveTuning {
	return EffectiveTuning{
		DetectionThreshold:        c.GetDetectionThreshold(),
		CosineDistanceThreshold:   c.GetCosineDistanceThreshold(),
		SpatialCostWeight:         c.GetSpatialCostWeight(),
		ConfirmationHits:          c.GetConfirmationHits(),
		MaxAge:                    c.GetMaxAge(),
		MaxTracks:                 c.GetMaxTracks(),
		TrajectoryCapacity:        c.GetTrajectoryCapacity(),
		AppearanceHistoryCapacity: c.GetAppearanceHistoryCapacity(),
		RecognitionThreshold:      c.GetRecognitionThreshold(),
		MaxDetectionFailures:      c.GetMaxDetectionFailures(),
	}
}
