package experiment

import (
	"math"
	"math/rand/v2"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/models"
)

// Confidence labels reported on completion.
const (
	ConfidenceLow           = "low"
	ConfidenceNoDifference  = "no_significant_difference"
	ConfidenceMedium        = "medium"
	ConfidenceHigh          = "high"
	highConfidenceSpread    = 0.15
	minConfidentSample      = 5
	explorationSample       = 5
	explorationBonus        = 1.0
	minWeight               = 0.1
	fullSampleApplications  = 20.0
	completionTargetReached = "target_reached"
	completionMaxDuration   = "max_duration"
	completionEarlyStop     = "early_stop"
)

// PerformanceScore weighs response, interview and offer rates and damps
// samples smaller than twenty applications.
func PerformanceScore(s models.VariantStats) float64 {
	if s.ApplicationsSent <= 0 {
		return 0
	}
	n := float64(s.ApplicationsSent)
	rates := float64(s.Responses)/n*0.3 + float64(s.Interviews)/n*0.4 + float64(s.Offers)/n*0.3
	return math.Round(rates*math.Min(1, n/fullSampleApplications)*1e6) / 1e6
}

// Weight is the sampling weight of a variant.
func Weight(s models.VariantStats) float64 {
	w := math.Max(minWeight, s.PerformanceScore)
	if s.ApplicationsSent < explorationSample {
		w += explorationBonus
	}
	return w
}

// sampler returns the seeded generator for draw number n of an experiment.
// The same experiment state always yields the same draw.
func sampler(seed int64, experimentID string, n int) *rand.Rand {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(experimentID); i++ {
		h ^= uint64(experimentID[i])
		h *= 1099511628211
	}
	return rand.New(rand.NewPCG(uint64(seed)^h, uint64(n)))
}

// pick samples a variant proportionally to its weight.
func pick(stats []models.VariantStats, r *rand.Rand) string {
	total := 0.0
	for _, s := range stats {
		total += Weight(s)
	}
	x := r.Float64() * total
	for _, s := range stats {
		x -= Weight(s)
		if x < 0 {
			return s.VariantID
		}
	}
	return stats[len(stats)-1].VariantID
}

func totalSent(stats []models.VariantStats) int {
	n := 0
	for _, s := range stats {
		n += s.ApplicationsSent
	}
	return n
}

func spread(stats []models.VariantStats) (best, worst float64) {
	best, worst = math.Inf(-1), math.Inf(1)
	for _, s := range stats {
		best = math.Max(best, s.PerformanceScore)
		worst = math.Min(worst, s.PerformanceScore)
	}
	return best, worst
}

// completionReason returns why exp should end now, or "".
func completionReason(exp *models.Experiment, cfg config.ExperimentConfig, now time.Time) string {
	if len(exp.Stats) == 0 {
		return ""
	}
	reached := true
	for _, s := range exp.Stats {
		if s.ApplicationsSent < exp.ApplicationsTarget {
			reached = false
			break
		}
	}
	if reached {
		return completionTargetReached
	}
	if cfg.MaxDuration > 0 && now.Sub(exp.CreatedAt) >= cfg.MaxDuration {
		return completionMaxDuration
	}
	best, worst := spread(exp.Stats)
	if totalSent(exp.Stats) >= cfg.EarlyStopMinTotal && best-worst >= cfg.EarlyStopSpread-1e-9 {
		return completionEarlyStop
	}
	return ""
}

// Confidence labels the strength of a completed experiment's result.
func Confidence(stats []models.VariantStats) string {
	if len(stats) == 0 {
		return ConfidenceLow
	}
	minSent := stats[0].ApplicationsSent
	for _, s := range stats[1:] {
		minSent = min(minSent, s.ApplicationsSent)
	}
	if minSent < minConfidentSample {
		return ConfidenceLow
	}
	best, worst := spread(stats)
	switch {
	case best == worst:
		return ConfidenceNoDifference
	case best-worst >= highConfidenceSpread:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}

// winner is the best performing variant; ties go to the earlier variant.
func winner(stats []models.VariantStats) string {
	if len(stats) == 0 {
		return ""
	}
	best := stats[0]
	for _, s := range stats[1:] {
		if s.PerformanceScore > best.PerformanceScore {
			best = s
		}
	}
	return best.VariantID
}

func complete(exp *models.Experiment, reason string, now time.Time) {
	ended := now.UTC()
	exp.Status = models.ExperimentCompleted
	exp.EndedAt = &ended
	exp.CompletionReason = reason
	exp.Winner = winner(exp.Stats)
	exp.Confidence = Confidence(exp.Stats)
}
