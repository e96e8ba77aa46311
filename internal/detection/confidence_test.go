package detection

import (
	"math"
	"testing"
)

func TestScorer_Base(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := []struct {
		name string
		c    Candidate
		want float64
	}{
		{"template ncc", Candidate{Score: 0.9, Layer: LayerTemplate}, 0.9},
		{"negative ncc", Candidate{Score: -0.4, Layer: LayerTemplate}, 0},
		{"feature ratio", Candidate{Score: 0.6, Layer: LayerFeature}, 0.6},
		{"ml probability", Candidate{Score: 0.75, Layer: LayerML}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Base(tt.c); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Base = %v, want %v", got, tt.want)
			}
		})
	}

	s.Weights.Feature = 0.5
	if got := s.Base(Candidate{Score: 0.8, Layer: LayerFeature}); math.Abs(got-0.4) > 1e-12 {
		t.Errorf("weighted base = %v, want 0.4", got)
	}
}

func TestScorer_Classify(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := map[float64]Class{
		1:    ClassHigh,
		0.85: ClassHigh,
		0.84: ClassMedium,
		0.65: ClassMedium,
		0.64: ClassLow,
		0:    ClassLow,
	}
	for conf, want := range tests {
		if got := s.Classify(conf); got != want {
			t.Errorf("Classify(%v) = %v, want %v", conf, got, want)
		}
	}
}

func TestScorer_AgreementBoost(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cluster := Cluster{
		Best: Candidate{Score: 0.6, Layer: LayerTemplate},
		Members: []Candidate{
			{Score: 0.5, Layer: LayerTemplate},
			{Score: 0.7, Layer: LayerFeature},
		},
	}
	d := s.Score([]Cluster{cluster})[0]
	want := 0.6 + 0.4*0.3
	if math.Abs(d.Confidence-want) > 1e-12 {
		t.Errorf("confidence = %v, want %v", d.Confidence, want)
	}
	if d.Agreement != 2 || d.Suppressed != 2 {
		t.Errorf("agreement %d suppressed %d, want 2 and 2", d.Agreement, d.Suppressed)
	}
	if d.Class != ClassMedium || d.NeedsReview {
		t.Errorf("class %v review %v", d.Class, d.NeedsReview)
	}

	cluster.Members = append(cluster.Members, Candidate{Score: 0.9, Layer: LayerML})
	three := s.Score([]Cluster{cluster})[0]
	if three.Confidence <= d.Confidence || three.Confidence > 1 {
		t.Errorf("third layer should raise confidence within [0,1], got %v", three.Confidence)
	}
}

func TestScorer_LowNeedsReview(t *testing.T) {
	s := NewScorer(DefaultConfig())
	d := s.Score([]Cluster{{Best: Candidate{Score: 0.3, Layer: LayerFeature}}})[0]
	if d.Class != ClassLow || !d.NeedsReview {
		t.Errorf("got class %v review %v, want low with review", d.Class, d.NeedsReview)
	}
}
