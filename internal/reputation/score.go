// Package reputation tracks task outcomes per agent and folds them
// into a weighted trust score over a trailing window.
package reputation

import (
	"fmt"
	"math"
)

// NeutralScore is reported for agents with no recorded work and used
// for factors with no samples.
const NeutralScore = 0.5

// durationBaselineMs is where the response-time factor bottoms out:
// sub-second completions score near 1, thirty seconds or more scores 0.
const durationBaselineMs = 30000.0

// Factor names as they appear in trust score breakdowns.
const (
	FactorSuccessRate  = "success_rate"
	FactorResponseTime = "response_time"
	FactorPeerRating   = "peer_rating"
	FactorConsistency  = "consistency"
)

// Weights control how much each factor contributes to the trust
// score. They must sum to 1.
type Weights struct {
	SuccessRate  float64 `yaml:"success_rate" json:"success_rate"`
	ResponseTime float64 `yaml:"response_time" json:"response_time"`
	PeerRating   float64 `yaml:"peer_rating" json:"peer_rating"`
	Consistency  float64 `yaml:"consistency" json:"consistency"`
}

// DefaultWeights returns the standard factor mix.
func DefaultWeights() Weights {
	return Weights{
		SuccessRate:  0.40,
		ResponseTime: 0.20,
		PeerRating:   0.30,
		Consistency:  0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.SuccessRate + w.ResponseTime + w.PeerRating + w.Consistency
}

// Validate checks that the weights form a proper mix.
func (w Weights) Validate() error {
	if w.SuccessRate < 0 || w.ResponseTime < 0 || w.PeerRating < 0 || w.Consistency < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// Factor is one component of a trust score breakdown.
type Factor struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
}

// ScoreInputs are the windowed aggregates a trust score is computed
// from. Nil averages mean no samples of that kind exist.
type ScoreInputs struct {
	TotalTasks    int
	SuccessCount  int
	AvgDurationMs *float64
	AvgRating     *float64
}

// ScoreResult is a trust score with its factor breakdown.
type ScoreResult struct {
	TrustScore float64  `json:"trust_score"`
	Factors    []Factor `json:"factors"`
}

// ComputeScore evaluates the weighted trust score for an agent's
// windowed aggregates. The result is clamped to [0, 1] and rounded to
// three decimals. With no tasks at all it falls back to NeutralResult.
func ComputeScore(in ScoreInputs, w Weights) ScoreResult {
	if in.TotalTasks <= 0 {
		return NeutralResult(w)
	}

	factors := []Factor{
		successFactor(in, w.SuccessRate),
		responseTimeFactor(in, w.ResponseTime),
		peerRatingFactor(in, w.PeerRating),
		consistencyFactor(in, w.Consistency),
	}

	total := 0.0
	for _, f := range factors {
		total += f.Weighted
	}
	return ScoreResult{
		TrustScore: roundScore(clamp(total, 0, 1)),
		Factors:    factors,
	}
}

// NeutralResult is the breakdown reported for agents with no recorded
// work: every factor sits at the neutral midpoint.
func NeutralResult(w Weights) ScoreResult {
	return ScoreResult{
		TrustScore: NeutralScore,
		Factors: []Factor{
			neutralFactor(FactorSuccessRate, w.SuccessRate, "no completed tasks"),
			neutralFactor(FactorResponseTime, w.ResponseTime, "no duration samples"),
			neutralFactor(FactorPeerRating, w.PeerRating, "no peer ratings"),
			neutralFactor(FactorConsistency, w.Consistency, "no completed tasks"),
		},
	}
}

func successFactor(in ScoreInputs, weight float64) Factor {
	rate := float64(in.SuccessCount) / float64(in.TotalTasks)
	return Factor{
		Name:      FactorSuccessRate,
		Score:     rate,
		Weight:    weight,
		Weighted:  rate * weight,
		Available: true,
		Reason:    fmt.Sprintf("%d of %d tasks succeeded", in.SuccessCount, in.TotalTasks),
	}
}

func responseTimeFactor(in ScoreInputs, weight float64) Factor {
	if in.AvgDurationMs == nil {
		return neutralFactor(FactorResponseTime, weight, "no duration samples")
	}
	score := math.Max(0, 1-*in.AvgDurationMs/durationBaselineMs)
	return Factor{
		Name:      FactorResponseTime,
		Score:     score,
		Weight:    weight,
		Weighted:  score * weight,
		Available: true,
		Reason:    fmt.Sprintf("avg duration %.0fms", *in.AvgDurationMs),
	}
}

func peerRatingFactor(in ScoreInputs, weight float64) Factor {
	if in.AvgRating == nil {
		return neutralFactor(FactorPeerRating, weight, "no peer ratings")
	}
	score := clamp(*in.AvgRating, 0, 1)
	return Factor{
		Name:      FactorPeerRating,
		Score:     score,
		Weight:    weight,
		Weighted:  score * weight,
		Available: true,
		Reason:    fmt.Sprintf("avg rating %.2f", *in.AvgRating),
	}
}

// consistencyFactor rewards track record length on a log curve that
// saturates around a hundred tasks in the window.
func consistencyFactor(in ScoreInputs, weight float64) Factor {
	score := math.Log10(float64(in.TotalTasks)+1) / 2
	if score > 1 {
		score = 1
	}
	return Factor{
		Name:      FactorConsistency,
		Score:     score,
		Weight:    weight,
		Weighted:  score * weight,
		Available: true,
		Reason:    fmt.Sprintf("%d tasks in window", in.TotalTasks),
	}
}

func neutralFactor(name string, weight float64, reason string) Factor {
	return Factor{
		Name:      name,
		Score:     NeutralScore,
		Weight:    weight,
		Weighted:  NeutralScore * weight,
		Available: false,
		Reason:    reason,
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
