package pipeline

import (
	"fmt"

	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l3detect"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

// Config gathers every stage's tunables for one run.
type Config struct {
	Proposals   l2proposals.Config
	Reversal    l3detect.ReversalConfig
	Contact     l3detect.ContactConfig
	Fusion      l4fusion.Config
	Strategy    string
	Heuristic   l5classify.HeuristicConfig
	External    l5classify.ExternalConfig
	Attribution l6strokes.AttributionConfig
}

// DefaultConfig returns every stage's defaults with the heuristic
// classifier.
func DefaultConfig() Config {
	return Config{
		Proposals:   l2proposals.DefaultConfig(),
		Reversal:    l3detect.DefaultReversalConfig(),
		Contact:     l3detect.DefaultContactConfig(),
		Fusion:      l4fusion.DefaultConfig(),
		Strategy:    l5classify.StrategyHeuristic,
		Heuristic:   l5classify.DefaultHeuristicConfig(),
		External:    l5classify.DefaultExternalConfig(),
		Attribution: l6strokes.DefaultAttributionConfig(),
	}
}

// ConfigFromTuning converts a tuning document into stage configs. apiKey
// is the external model credential; it never lives in the tuning file.
func ConfigFromTuning(tc *config.TuningConfig, apiKey string) (Config, error) {
	if tc == nil {
		tc = config.EmptyTuningConfig()
	}
	hand, err := geometry.ParseHandedness(tc.GetHandedness())
	if err != nil {
		return Config{}, fmt.Errorf("handedness: %w", err)
	}
	facing, err := geometry.ParseFacing(tc.GetCameraFacing())
	if err != nil {
		return Config{}, fmt.Errorf("camera facing: %w", err)
	}
	kpConf := tc.GetKeypointConfidence()

	cfg := DefaultConfig()
	cfg.Proposals = l2proposals.Config{
		VelocityThreshold:  tc.GetVelocityThreshold(),
		MinPeakSeparation:  tc.GetMinPeakSeparationFrames(),
		WindowRatio:        tc.GetWindowRatio(),
		MinStrokeFrames:    tc.GetMinStrokeFrames(),
		MaxStrokeFrames:    tc.GetMaxStrokeFrames(),
		ElbowGateDegrees:   tc.GetElbowGateDegrees(),
		ElbowGateLookback:  tc.GetElbowGateLookbackFrames(),
		KeypointConfidence: kpConf,
		Handedness:         hand,
		Facing:             facing,
	}
	cfg.Reversal = l3detect.ReversalConfig{
		Window:        tc.GetReversalWindowFrames(),
		MinConfidence: tc.GetReversalMinConfidence(),
		MinDelta:      tc.GetReversalMinDelta(),
		MinSpan:       tc.GetReversalMinSpan(),
		MinGap:        tc.GetReversalMinGapFrames(),
		Smoothing:     tc.GetReversalSmoothing(),
	}
	cfg.Contact = l3detect.ContactConfig{
		MinConfidence:      tc.GetContactMinConfidence(),
		DistanceFactor:     tc.GetContactDistanceFactor(),
		FrameTolerance:     tc.GetContactFrameTolerance(),
		MinGap:             tc.GetContactMinGapFrames(),
		KeypointConfidence: kpConf,
	}
	cfg.Fusion = l4fusion.Config{
		PreMergeSeconds:   tc.GetPreMergeSeconds(),
		MergeGap:          tc.GetMergeGapFrames(),
		BaseHalfWindow:    tc.GetBaseHalfWindowFrames(),
		SpeedGain:         tc.GetSpeedGain(),
		MaxExtraFrames:    tc.GetMaxExtraFrames(),
		SpeedRadius:       tc.GetSpeedRadiusFrames(),
		ProposalTolerance: tc.GetProposalMatchTolerance(),
	}
	cfg.Strategy = tc.GetClassifierStrategy()
	cfg.Heuristic = l5classify.HeuristicConfig{
		Lookback:           tc.GetElbowLookbackFrames(),
		Lookahead:          tc.GetElbowLookaheadFrames(),
		MinDelta:           tc.GetElbowMinDelta(),
		KeypointConfidence: kpConf,
	}
	cfg.External = l5classify.ExternalConfig{
		Endpoint:    tc.GetExternalEndpoint(),
		Model:       tc.GetExternalModel(),
		APIKey:      apiKey,
		Timeout:     tc.GetExternalTimeout(),
		Offsets:     tc.GetExternalOffsets(),
		MaxTokens:   tc.GetExternalMaxTokens(),
		IncludeHint: tc.GetIncludeHeuristicHint(),
	}
	cfg.Attribution = l6strokes.AttributionConfig{
		FrameTolerance:     tc.GetHitterFrameTolerance(),
		ProximityFraction:  tc.GetHitterProximityFraction(),
		MarginFraction:     tc.GetHitterMarginFraction(),
		SingleSidedFactor:  tc.GetHitterSingleSidedFactor(),
		KeypointConfidence: kpConf,
	}
	return cfg, nil
}
