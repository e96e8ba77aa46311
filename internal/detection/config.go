package detection

import (
	"fmt"
	"math"
	"sort"
)

// Scale profiles selectable with Config.Profile.
var profiles = map[string][]float64{
	"default": {0.5, 0.75, 1.0, 1.25, 1.5},
	"narrow":  {0.8, 0.9, 1.0, 1.1, 1.2},
}

// ProfileScales returns the scale set of a named profile.
func ProfileScales(name string) ([]float64, bool) {
	s, ok := profiles[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), s...), true
}

// ProfileNames lists the known profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Cutoffs are the lower bounds of the high and medium confidence classes.
type Cutoffs struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

// LayerWeights scale each layer's base confidence.
type LayerWeights struct {
	Template float64 `yaml:"template" json:"template"`
	Feature  float64 `yaml:"feature" json:"feature"`
	ML       float64 `yaml:"ml" json:"ml"`
}

func (w LayerWeights) of(k LayerKind) float64 {
	switch k {
	case LayerTemplate:
		return w.Template
	case LayerFeature:
		return w.Feature
	case LayerML:
		return w.ML
	}
	return 0
}

// Feature transform models.
const (
	TransformPartial = "partial"
	TransformAffine  = "affine"
)

// FeatureConfig tunes the keypoint matcher.
type FeatureConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	MaxKeypoints        int     `yaml:"max_keypoints" json:"max_keypoints"`
	TemplateKeypoints   int     `yaml:"template_keypoints" json:"template_keypoints"`
	PyramidLevels       int     `yaml:"pyramid_levels" json:"pyramid_levels"`
	PyramidScale        float64 `yaml:"pyramid_scale" json:"pyramid_scale"`
	MatchRatio          float64 `yaml:"match_ratio" json:"match_ratio"`
	MaxDescriptorDist   int     `yaml:"max_descriptor_distance" json:"max_descriptor_distance"`
	RansacIterations    int     `yaml:"ransac_iterations" json:"ransac_iterations"`
	RansacReprojThresh  float64 `yaml:"ransac_reproj_thresh" json:"ransac_reproj_thresh"`
	Transform           string  `yaml:"transform" json:"transform"`
	MinScale            float64 `yaml:"min_scale" json:"min_scale"`
	MaxScale            float64 `yaml:"max_scale" json:"max_scale"`
	MaxAspectDistortion float64 `yaml:"max_aspect_distortion" json:"max_aspect_distortion"`
	VerifyThresh        float64 `yaml:"verify_thresh" json:"verify_thresh"`
	MaxInstances        int     `yaml:"max_instances" json:"max_instances"`
}

// SymbolOptions overrides the global settings for one symbol. Nil fields
// inherit the global value.
type SymbolOptions struct {
	MatchThresh       *float64  `yaml:"match_thresh" json:"match_thresh,omitempty"`
	IoUThresh         *float64  `yaml:"iou_thresh" json:"iou_thresh,omitempty"`
	MinFeatureInliers *int      `yaml:"min_feature_inliers" json:"min_feature_inliers,omitempty"`
	Scales            []float64 `yaml:"scales" json:"scales,omitempty"`
	Rotations         []float64 `yaml:"rotations" json:"rotations,omitempty"`
}

// Config holds every tunable of a detection run.
//
// A nil Scales slice takes the scales of Profile; an empty non-nil slice is
// an error. A nil Rotations slice means {0, 90, 180, 270}.
type Config struct {
	Profile                 string                   `yaml:"profile" json:"profile"`
	Scales                  []float64                `yaml:"scales" json:"scales,omitempty"`
	Rotations               []float64                `yaml:"rotations" json:"rotations,omitempty"`
	MatchThresh             float64                  `yaml:"match_thresh" json:"match_thresh"`
	IoUThresh               float64                  `yaml:"iou_thresh" json:"iou_thresh"`
	MinFeatureInliers       int                      `yaml:"min_feature_inliers" json:"min_feature_inliers"`
	ConfidenceCutoffs       Cutoffs                  `yaml:"confidence_cutoffs" json:"confidence_cutoffs"`
	LayerWeights            LayerWeights             `yaml:"layer_weights" json:"layer_weights"`
	AgreementBoost          float64                  `yaml:"agreement_boost" json:"agreement_boost"`
	DenoiseSigma            float64                  `yaml:"denoise_sigma" json:"denoise_sigma"`
	MaxCandidatesPerVariant int                      `yaml:"max_candidates_per_variant" json:"max_candidates_per_variant"`
	Feature                 FeatureConfig            `yaml:"feature" json:"feature"`
	Symbols                 map[string]SymbolOptions `yaml:"symbols" json:"symbols,omitempty"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Profile:                 "default",
		MatchThresh:             0.75,
		IoUThresh:               0.3,
		MinFeatureInliers:       4,
		ConfidenceCutoffs:       Cutoffs{High: 0.85, Medium: 0.65},
		LayerWeights:            LayerWeights{Template: 1, Feature: 1, ML: 1},
		AgreementBoost:          0.3,
		MaxCandidatesPerVariant: 5000,
		Feature: FeatureConfig{
			Enabled:             true,
			MaxKeypoints:        1500,
			TemplateKeypoints:   300,
			PyramidLevels:       4,
			PyramidScale:        1.25,
			MatchRatio:          0.85,
			MaxDescriptorDist:   80,
			RansacIterations:    1000,
			RansacReprojThresh:  4,
			Transform:           TransformPartial,
			MinScale:            0.25,
			MaxScale:            4,
			MaxAspectDistortion: 2,
			VerifyThresh:        0.4,
			MaxInstances:        32,
		},
	}
}

// effective returns the scale and rotation sets after profile resolution.
func (c Config) effective() (scales, rotations []float64, err error) {
	scales = c.Scales
	if scales == nil {
		profile := c.Profile
		if profile == "" {
			profile = "default"
		}
		s, ok := ProfileScales(profile)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown profile %q", ErrInvalidConfig, c.Profile)
		}
		scales = s
	}
	rotations = c.Rotations
	if rotations == nil {
		rotations = []float64{0, 90, 180, 270}
	}
	return scales, rotations, nil
}

// Validate reports the first out-of-range setting, wrapped in
// ErrInvalidConfig.
func (c Config) Validate() error {
	scales, rotations, err := c.effective()
	if err != nil {
		return err
	}
	if err := validateSets("", scales, rotations); err != nil {
		return err
	}
	if err := unitRange("match_thresh", c.MatchThresh); err != nil {
		return err
	}
	if err := unitRange("iou_thresh", c.IoUThresh); err != nil {
		return err
	}
	if err := c.validateInliers("min_feature_inliers", c.MinFeatureInliers); err != nil {
		return err
	}
	cut := c.ConfidenceCutoffs
	if err := unitRange("confidence_cutoffs.high", cut.High); err != nil {
		return err
	}
	if err := unitRange("confidence_cutoffs.medium", cut.Medium); err != nil {
		return err
	}
	if cut.Medium > cut.High {
		return fmt.Errorf("%w: confidence_cutoffs.medium %.3f above high %.3f", ErrInvalidConfig, cut.Medium, cut.High)
	}
	w := c.LayerWeights
	for name, v := range map[string]float64{"template": w.Template, "feature": w.Feature, "ml": w.ML} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: layer_weights.%s must be a non-negative number", ErrInvalidConfig, name)
		}
	}
	if err := unitRange("agreement_boost", c.AgreementBoost); err != nil {
		return err
	}
	if c.DenoiseSigma < 0 || math.IsNaN(c.DenoiseSigma) {
		return fmt.Errorf("%w: denoise_sigma must be >= 0", ErrInvalidConfig)
	}
	if c.MaxCandidatesPerVariant < 0 {
		return fmt.Errorf("%w: max_candidates_per_variant must be >= 0", ErrInvalidConfig)
	}
	if err := c.Feature.validate(); err != nil {
		return err
	}

	names := make([]string, 0, len(c.Symbols))
	for n := range c.Symbols {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		o := c.Symbols[name]
		prefix := "symbols." + name + "."
		if o.MatchThresh != nil {
			if err := unitRange(prefix+"match_thresh", *o.MatchThresh); err != nil {
				return err
			}
		}
		if o.IoUThresh != nil {
			if err := unitRange(prefix+"iou_thresh", *o.IoUThresh); err != nil {
				return err
			}
		}
		if o.MinFeatureInliers != nil {
			if err := c.validateInliers(prefix+"min_feature_inliers", *o.MinFeatureInliers); err != nil {
				return err
			}
		}
		if o.Scales != nil || o.Rotations != nil {
			s, r := o.Scales, o.Rotations
			if s == nil {
				s = scales
			}
			if r == nil {
				r = rotations
			}
			if err := validateSets(prefix, s, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Config) validateInliers(key string, n int) error {
	least := 2
	if c.Feature.Transform == TransformAffine {
		least = 3
	}
	if n < least {
		return fmt.Errorf("%w: %s must be at least %d, got %d", ErrInvalidConfig, key, least, n)
	}
	return nil
}

func (f FeatureConfig) validate() error {
	switch {
	case f.MaxKeypoints <= 0:
		return fmt.Errorf("%w: feature.max_keypoints must be positive", ErrInvalidConfig)
	case f.TemplateKeypoints <= 0:
		return fmt.Errorf("%w: feature.template_keypoints must be positive", ErrInvalidConfig)
	case f.PyramidLevels < 1:
		return fmt.Errorf("%w: feature.pyramid_levels must be at least 1", ErrInvalidConfig)
	case !(f.PyramidScale > 1):
		return fmt.Errorf("%w: feature.pyramid_scale must be above 1", ErrInvalidConfig)
	case !(f.MatchRatio > 0 && f.MatchRatio <= 1):
		return fmt.Errorf("%w: feature.match_ratio must be in (0,1]", ErrInvalidConfig)
	case f.MaxDescriptorDist <= 0 || f.MaxDescriptorDist > descriptorBits:
		return fmt.Errorf("%w: feature.max_descriptor_distance must be in [1,%d]", ErrInvalidConfig, descriptorBits)
	case f.RansacIterations <= 0:
		return fmt.Errorf("%w: feature.ransac_iterations must be positive", ErrInvalidConfig)
	case !(f.RansacReprojThresh > 0):
		return fmt.Errorf("%w: feature.ransac_reproj_thresh must be positive", ErrInvalidConfig)
	case f.Transform != TransformPartial && f.Transform != TransformAffine:
		return fmt.Errorf("%w: feature.transform %q (want %s or %s)", ErrInvalidConfig, f.Transform, TransformPartial, TransformAffine)
	case !(f.MinScale > 0) || !(f.MaxScale > f.MinScale):
		return fmt.Errorf("%w: feature scale range [%g,%g]", ErrInvalidConfig, f.MinScale, f.MaxScale)
	case !(f.MaxAspectDistortion >= 1):
		return fmt.Errorf("%w: feature.max_aspect_distortion must be >= 1", ErrInvalidConfig)
	case f.VerifyThresh < 0 || f.VerifyThresh > 1:
		return fmt.Errorf("%w: feature.verify_thresh must be in [0,1]", ErrInvalidConfig)
	case f.MaxInstances < 1:
		return fmt.Errorf("%w: feature.max_instances must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func validateSets(prefix string, scales, rotations []float64) error {
	if len(scales) == 0 {
		return fmt.Errorf("%w: %sscales is empty", ErrInvalidConfig, prefix)
	}
	for _, s := range scales {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: %sscales: %g is not a positive number", ErrInvalidConfig, prefix, s)
		}
	}
	if len(rotations) == 0 {
		return fmt.Errorf("%w: %srotations is empty", ErrInvalidConfig, prefix)
	}
	for _, r := range rotations {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: %srotations: %g is not finite", ErrInvalidConfig, prefix, r)
		}
	}
	return nil
}

func unitRange(key string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w: %s %g outside [0,1]", ErrInvalidConfig, key, v)
	}
	return nil
}

// symbolSettings are the resolved settings of one symbol.
type symbolSettings struct {
	MatchThresh       float64
	IoUThresh         float64
	MinFeatureInliers int
	Scales            []float64
	Rotations         []float64
}

// forSymbol merges the per-symbol overrides of name onto the global values.
// The config must already be valid.
func (c Config) forSymbol(name string) symbolSettings {
	scales, rotations, _ := c.effective()
	s := symbolSettings{
		MatchThresh:       c.MatchThresh,
		IoUThresh:         c.IoUThresh,
		MinFeatureInliers: c.MinFeatureInliers,
		Scales:            scales,
		Rotations:         rotations,
	}
	o, ok := c.Symbols[name]
	if !ok {
		return s
	}
	if o.MatchThresh != nil {
		s.MatchThresh = *o.MatchThresh
	}
	if o.IoUThresh != nil {
		s.IoUThresh = *o.IoUThresh
	}
	if o.MinFeatureInliers != nil {
		s.MinFeatureInliers = *o.MinFeatureInliers
	}
	if o.Scales != nil {
		s.Scales = o.Scales
	}
	if o.Rotations != nil {
		s.Rotations = o.Rotations
	}
	return s
}
