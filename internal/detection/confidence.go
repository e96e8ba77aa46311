package detection

// Scorer turns NMS clusters into scored detections.
type Scorer struct {
	Weights LayerWeights
	Boost   float64
	Cutoffs Cutoffs
}

// NewScorer takes the scoring settings of a validated config.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		Weights: cfg.LayerWeights,
		Boost:   cfg.AgreementBoost,
		Cutoffs: cfg.ConfidenceCutoffs,
	}
}

// Base maps a candidate's raw score onto [0,1] and applies its layer weight.
// Negative correlation counts as no evidence.
func (s *Scorer) Base(c Candidate) float64 {
	return clamp01(clamp01(c.Score) * s.Weights.of(c.Layer))
}

// Classify buckets a confidence value.
func (s *Scorer) Classify(conf float64) Class {
	switch {
	case conf >= s.Cutoffs.High:
		return ClassHigh
	case conf >= s.Cutoffs.Medium:
		return ClassMedium
	default:
		return ClassLow
	}
}

// Score annotates each cluster's best candidate. Every distinct layer in the
// cluster beyond the first moves confidence toward 1:
//
//	c = c + (1 - c) * boost
//
// so agreement never lowers confidence and never exceeds 1.
func (s *Scorer) Score(clusters []Cluster) []Detection {
	out := make([]Detection, 0, len(clusters))
	for _, cl := range clusters {
		layers := map[LayerKind]bool{cl.Best.Layer: true}
		for _, m := range cl.Members {
			layers[m.Layer] = true
		}
		conf := s.Base(cl.Best)
		for i := 1; i < len(layers); i++ {
			conf += (1 - conf) * s.Boost
		}
		conf = clamp01(conf)
		class := s.Classify(conf)
		out = append(out, Detection{
			Candidate:   cl.Best,
			Confidence:  conf,
			Class:       class,
			Agreement:   len(layers),
			Suppressed:  len(cl.Members),
			NeedsReview: class == ClassLow,
		})
	}
	return out
}
