package ranker

import (
	"math"

	"feed-workers/internal/models"
)

const (
	qualityStep   = 0.01
	qualityCap    = 0.30
	freshnessStep = 0.005
	freshnessCap  = 0.35
	relevanceStep = 0.005
	relevanceCap  = 0.35

	engagedDwellMs = 3000

	weightEpsilon = 1e-9
)

// Weights are the coefficients of the five ranking signals. After any
// adaptation they sum to 1.
type Weights struct {
	Relevance        float64 `json:"relevance"`
	Quality          float64 `json:"quality"`
	Freshness        float64 `json:"freshness"`
	PriceAdvantage   float64 `json:"priceAdvantage"`
	DiversityPenalty float64 `json:"diversityPenalty"`
}

func DefaultWeights() Weights {
	return Weights{
		Relevance:        0.25,
		Quality:          0.20,
		Freshness:        0.25,
		PriceAdvantage:   0.15,
		DiversityPenalty: 0.15,
	}
}

func (w Weights) Sum() float64 {
	return w.Relevance + w.Quality + w.Freshness + w.PriceAdvantage + w.DiversityPenalty
}

// Normalize rescales the weights so they sum to 1. A degenerate vector
// (non-positive or non-finite sum, or a negative component) falls back to
// the defaults.
func (w Weights) Normalize() Weights {
	sum := w.Sum()
	if sum <= weightEpsilon || math.IsNaN(sum) || math.IsInf(sum, 0) || w.hasNegative() {
		return DefaultWeights()
	}
	return Weights{
		Relevance:        w.Relevance / sum,
		Quality:          w.Quality / sum,
		Freshness:        w.Freshness / sum,
		PriceAdvantage:   w.PriceAdvantage / sum,
		DiversityPenalty: w.DiversityPenalty / sum,
	}
}

func (w Weights) hasNegative() bool {
	return w.Relevance < 0 || w.Quality < 0 || w.Freshness < 0 || w.PriceAdvantage < 0 || w.DiversityPenalty < 0
}

// AsMap returns the weights keyed by signal name.
func (w Weights) AsMap() map[string]float64 {
	return map[string]float64{
		"relevance":        w.Relevance,
		"quality":          w.Quality,
		"freshness":        w.Freshness,
		"priceAdvantage":   w.PriceAdvantage,
		"diversityPenalty": w.DiversityPenalty,
	}
}

// AdaptWeights applies one feedback event to w and renormalizes. Unknown
// actions only renormalize.
func AdaptWeights(w Weights, action models.FeedbackAction, dwellMs *int64) Weights {
	switch action {
	case models.ActionSave, models.ActionOffer:
		w.Quality = math.Min(qualityCap, w.Quality+qualityStep)
	case models.ActionSkip:
		w.Freshness = math.Min(freshnessCap, w.Freshness+freshnessStep)
	case models.ActionView:
		if dwellMs != nil && *dwellMs > engagedDwellMs {
			w.Relevance = math.Min(relevanceCap, w.Relevance+relevanceStep)
		}
	}
	return w.Normalize()
}
