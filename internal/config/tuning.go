package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Classifier strategies accepted by classifier_strategy.
const (
	StrategyHeuristic = "heuristic"
	StrategyExternal  = "external"
)

// TuningConfig represents the root configuration for detection, fusion,
// classification and attribution thresholds. All thresholds are
// empirically tuned for one sport's physical scale and are meant to be
// adjusted without code changes.
type TuningConfig struct {
	// Pose proposal detector
	VelocityThreshold       *float64 `json:"velocity_threshold,omitempty"` // px/s
	MinPeakSeparationFrames *int     `json:"min_peak_separation_frames,omitempty"`
	WindowRatio             *float64 `json:"window_ratio,omitempty"`
	MinStrokeFrames         *int     `json:"min_stroke_frames,omitempty"`
	MaxStrokeFrames         *int     `json:"max_stroke_frames,omitempty"`
	ElbowGateDegrees        *float64 `json:"elbow_gate_degrees,omitempty"`
	ElbowGateLookbackFrames *int     `json:"elbow_gate_lookback_frames,omitempty"`
	KeypointConfidence      *float64 `json:"keypoint_confidence,omitempty"`

	// Trajectory reversal detector
	ReversalWindowFrames  *int     `json:"reversal_window_frames,omitempty"`
	ReversalMinConfidence *float64 `json:"reversal_min_confidence,omitempty"`
	ReversalMinDelta      *float64 `json:"reversal_min_delta,omitempty"` // px/frame
	ReversalMinSpan       *float64 `json:"reversal_min_span,omitempty"`  // px
	ReversalMinGapFrames  *int     `json:"reversal_min_gap_frames,omitempty"`
	ReversalSmoothing     *int     `json:"reversal_smoothing,omitempty"`

	// Contact detector
	ContactMinConfidence  *float64 `json:"contact_min_confidence,omitempty"`
	ContactDistanceFactor *float64 `json:"contact_distance_factor,omitempty"` // fraction of frame diagonal
	ContactFrameTolerance *int     `json:"contact_frame_tolerance,omitempty"`
	ContactMinGapFrames   *int     `json:"contact_min_gap_frames,omitempty"`

	// Fusion
	PreMergeSeconds        *float64 `json:"premerge_seconds,omitempty"`
	MergeGapFrames         *int     `json:"merge_gap_frames,omitempty"`
	BaseHalfWindowFrames   *int     `json:"base_half_window_frames,omitempty"`
	SpeedGain              *float64 `json:"speed_gain,omitempty"` // frames per px/frame
	MaxExtraFrames         *int     `json:"max_extra_frames,omitempty"`
	SpeedRadiusFrames      *int     `json:"speed_radius_frames,omitempty"`
	ProposalMatchTolerance *int     `json:"proposal_match_tolerance,omitempty"`

	// Classification
	ClassifierStrategy   *string  `json:"classifier_strategy,omitempty"`
	ElbowLookbackFrames  *int     `json:"elbow_lookback_frames,omitempty"`
	ElbowLookaheadFrames *int     `json:"elbow_lookahead_frames,omitempty"`
	ElbowMinDelta        *float64 `json:"elbow_min_delta,omitempty"`
	ExternalOffsets      []int    `json:"external_offsets,omitempty"`
	ExternalEndpoint     *string  `json:"external_endpoint,omitempty"`
	ExternalModel        *string  `json:"external_model,omitempty"`
	ExternalTimeout      *string  `json:"external_timeout,omitempty"` // duration string like "30s"
	ExternalMaxTokens    *int     `json:"external_max_tokens,omitempty"`
	ExternalAPIKeyEnv    *string  `json:"external_api_key_env,omitempty"`
	IncludeHeuristicHint *bool    `json:"include_heuristic_hint,omitempty"`

	// Hitter attribution
	HitterFrameTolerance    *int     `json:"hitter_frame_tolerance,omitempty"`
	HitterProximityFraction *float64 `json:"hitter_proximity_fraction,omitempty"` // fraction of frame width
	HitterMarginFraction    *float64 `json:"hitter_margin_fraction,omitempty"`
	HitterSingleSidedFactor *float64 `json:"hitter_single_sided_factor,omitempty"`

	// Subject
	Handedness   *string `json:"handedness,omitempty"`
	CameraFacing *string `json:"camera_facing,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON tuning document, such
// as the params object of an analysis request.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/rally/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.VelocityThreshold != nil && *c.VelocityThreshold <= 0 {
		return fmt.Errorf("velocity_threshold must be positive, got %f", *c.VelocityThreshold)
	}
	if c.WindowRatio != nil && (*c.WindowRatio <= 0 || *c.WindowRatio >= 1) {
		return fmt.Errorf("window_ratio must be between 0 and 1, got %f", *c.WindowRatio)
	}
	if c.MinStrokeFrames != nil && *c.MinStrokeFrames < 1 {
		return fmt.Errorf("min_stroke_frames must be at least 1, got %d", *c.MinStrokeFrames)
	}
	if minF, maxF := c.GetMinStrokeFrames(), c.GetMaxStrokeFrames(); maxF > 0 && maxF < minF {
		return fmt.Errorf("max_stroke_frames (%d) must not be below min_stroke_frames (%d)", maxF, minF)
	}

	for name, v := range map[string]*float64{
		"keypoint_confidence":        c.KeypointConfidence,
		"reversal_min_confidence":    c.ReversalMinConfidence,
		"contact_min_confidence":     c.ContactMinConfidence,
		"contact_distance_factor":    c.ContactDistanceFactor,
		"hitter_proximity_fraction":  c.HitterProximityFraction,
		"hitter_margin_fraction":     c.HitterMarginFraction,
		"hitter_single_sided_factor": c.HitterSingleSidedFactor,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"premerge_seconds": c.PreMergeSeconds,
		"speed_gain":       c.SpeedGain,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"min_peak_separation_frames": c.MinPeakSeparationFrames,
		"elbow_gate_lookback_frames": c.ElbowGateLookbackFrames,
		"reversal_window_frames":     c.ReversalWindowFrames,
		"reversal_min_gap_frames":    c.ReversalMinGapFrames,
		"contact_frame_tolerance":    c.ContactFrameTolerance,
		"contact_min_gap_frames":     c.ContactMinGapFrames,
		"merge_gap_frames":           c.MergeGapFrames,
		"base_half_window_frames":    c.BaseHalfWindowFrames,
		"max_extra_frames":           c.MaxExtraFrames,
		"speed_radius_frames":        c.SpeedRadiusFrames,
		"proposal_match_tolerance":   c.ProposalMatchTolerance,
		"elbow_lookback_frames":      c.ElbowLookbackFrames,
		"elbow_lookahead_frames":     c.ElbowLookaheadFrames,
		"hitter_frame_tolerance":     c.HitterFrameTolerance,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	if c.ClassifierStrategy != nil {
		switch strings.ToLower(*c.ClassifierStrategy) {
		case StrategyHeuristic, StrategyExternal:
		default:
			return fmt.Errorf("classifier_strategy must be %q or %q, got %q", StrategyHeuristic, StrategyExternal, *c.ClassifierStrategy)
		}
	}
	if c.ExternalTimeout != nil && *c.ExternalTimeout != "" {
		if _, err := time.ParseDuration(*c.ExternalTimeout); err != nil {
			return fmt.Errorf("invalid external_timeout '%s': %w", *c.ExternalTimeout, err)
		}
	}
	for _, off := range c.ExternalOffsets {
		if off > 0 {
			return fmt.Errorf("external_offsets must not look past the event frame, got %d", off)
		}
	}
	if c.Handedness != nil {
		switch strings.ToLower(*c.Handedness) {
		case "", "right", "left":
		default:
			return fmt.Errorf("handedness must be right or left, got %q", *c.Handedness)
		}
	}
	if c.CameraFacing != nil {
		switch strings.ToLower(*c.CameraFacing) {
		case "", "toward", "away":
		default:
			return fmt.Errorf("camera_facing must be toward or away, got %q", *c.CameraFacing)
		}
	}
	return nil
}

// Merge overlays the fields set in other onto a copy of c.
func (c *TuningConfig) Merge(other *TuningConfig) *TuningConfig {
	out := *c
	if other == nil {
		return &out
	}
	base, _ := json.Marshal(c)
	over, _ := json.Marshal(other)
	merged := map[string]json.RawMessage{}
	_ = json.Unmarshal(base, &merged)
	overlay := map[string]json.RawMessage{}
	_ = json.Unmarshal(over, &overlay)
	for k, v := range overlay {
		merged[k] = v
	}
	data, _ := json.Marshal(merged)
	res := EmptyTuningConfig()
	_ = json.Unmarshal(data, res)
	return res
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (c *TuningConfig) GetVelocityThreshold() float64 { return valueOr(c.VelocityThreshold, 800) }
func (c *TuningConfig) GetMinPeakSeparationFrames() int {
	return valueOr(c.MinPeakSeparationFrames, 10)
}
func (c *TuningConfig) GetWindowRatio() float64   { return valueOr(c.WindowRatio, 0.3) }
func (c *TuningConfig) GetMinStrokeFrames() int   { return valueOr(c.MinStrokeFrames, 4) }
func (c *TuningConfig) GetMaxStrokeFrames() int   { return valueOr(c.MaxStrokeFrames, 60) }
func (c *TuningConfig) GetElbowGateDegrees() float64 {
	return valueOr(c.ElbowGateDegrees, 5)
}
func (c *TuningConfig) GetElbowGateLookbackFrames() int {
	return valueOr(c.ElbowGateLookbackFrames, 2)
}
func (c *TuningConfig) GetKeypointConfidence() float64 { return valueOr(c.KeypointConfidence, 0.3) }

func (c *TuningConfig) GetReversalWindowFrames() int { return valueOr(c.ReversalWindowFrames, 4) }
func (c *TuningConfig) GetReversalMinConfidence() float64 {
	return valueOr(c.ReversalMinConfidence, 0.3)
}
func (c *TuningConfig) GetReversalMinDelta() float64 { return valueOr(c.ReversalMinDelta, 2.0) }
func (c *TuningConfig) GetReversalMinSpan() float64  { return valueOr(c.ReversalMinSpan, 20.0) }
func (c *TuningConfig) GetReversalMinGapFrames() int { return valueOr(c.ReversalMinGapFrames, 10) }
func (c *TuningConfig) GetReversalSmoothing() int    { return valueOr(c.ReversalSmoothing, 3) }

func (c *TuningConfig) GetContactMinConfidence() float64 {
	return valueOr(c.ContactMinConfidence, 0.3)
}
func (c *TuningConfig) GetContactDistanceFactor() float64 {
	return valueOr(c.ContactDistanceFactor, 0.06)
}
func (c *TuningConfig) GetContactFrameTolerance() int { return valueOr(c.ContactFrameTolerance, 2) }
func (c *TuningConfig) GetContactMinGapFrames() int   { return valueOr(c.ContactMinGapFrames, 10) }

func (c *TuningConfig) GetPreMergeSeconds() float64  { return valueOr(c.PreMergeSeconds, 0.01) }
func (c *TuningConfig) GetMergeGapFrames() int       { return valueOr(c.MergeGapFrames, 8) }
func (c *TuningConfig) GetBaseHalfWindowFrames() int { return valueOr(c.BaseHalfWindowFrames, 6) }
func (c *TuningConfig) GetSpeedGain() float64        { return valueOr(c.SpeedGain, 0.25) }
func (c *TuningConfig) GetMaxExtraFrames() int       { return valueOr(c.MaxExtraFrames, 6) }
func (c *TuningConfig) GetSpeedRadiusFrames() int    { return valueOr(c.SpeedRadiusFrames, 3) }
func (c *TuningConfig) GetProposalMatchTolerance() int {
	return valueOr(c.ProposalMatchTolerance, 10)
}

// GetClassifierStrategy returns the lower-cased strategy name or
// "heuristic".
func (c *TuningConfig) GetClassifierStrategy() string {
	if c.ClassifierStrategy == nil || *c.ClassifierStrategy == "" {
		return StrategyHeuristic
	}
	return strings.ToLower(*c.ClassifierStrategy)
}
func (c *TuningConfig) GetElbowLookbackFrames() int  { return valueOr(c.ElbowLookbackFrames, 8) }
func (c *TuningConfig) GetElbowLookaheadFrames() int { return valueOr(c.ElbowLookaheadFrames, 4) }
func (c *TuningConfig) GetElbowMinDelta() float64    { return valueOr(c.ElbowMinDelta, 15) }

// GetExternalOffsets returns the sampled frame offsets, ending at the
// event frame.
func (c *TuningConfig) GetExternalOffsets() []int {
	if len(c.ExternalOffsets) == 0 {
		return []int{-6, -4, -2, 0}
	}
	return append([]int(nil), c.ExternalOffsets...)
}
func (c *TuningConfig) GetExternalEndpoint() string {
	return valueOr(c.ExternalEndpoint, "https://api.openai.com/v1/chat/completions")
}
func (c *TuningConfig) GetExternalModel() string { return valueOr(c.ExternalModel, "gpt-4o-mini") }

// GetExternalTimeout parses and returns the ExternalTimeout as a time.Duration.
func (c *TuningConfig) GetExternalTimeout() time.Duration {
	if c.ExternalTimeout == nil || *c.ExternalTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ExternalTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}
func (c *TuningConfig) GetExternalMaxTokens() int { return valueOr(c.ExternalMaxTokens, 300) }

// GetExternalAPIKeyEnv names the environment variable holding the model
// service API key.
func (c *TuningConfig) GetExternalAPIKeyEnv() string {
	return valueOr(c.ExternalAPIKeyEnv, "STROKE_MODEL_API_KEY")
}
func (c *TuningConfig) GetIncludeHeuristicHint() bool { return valueOr(c.IncludeHeuristicHint, false) }

func (c *TuningConfig) GetHitterFrameTolerance() int { return valueOr(c.HitterFrameTolerance, 3) }
func (c *TuningConfig) GetHitterProximityFraction() float64 {
	return valueOr(c.HitterProximityFraction, 0.25)
}
func (c *TuningConfig) GetHitterMarginFraction() float64 {
	return valueOr(c.HitterMarginFraction, 0.08)
}
func (c *TuningConfig) GetHitterSingleSidedFactor() float64 {
	return valueOr(c.HitterSingleSidedFactor, 0.5)
}

func (c *TuningConfig) GetHandedness() string   { return valueOr(c.Handedness, "right") }
func (c *TuningConfig) GetCameraFacing() string { return valueOr(c.CameraFacing, "toward") }
