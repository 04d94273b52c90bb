// Package governance implements the accountability regime: performance
// scoring, warning accumulation with demotion and dismissal, and the
// periodic layer elections that act on the scores.
package governance

import (
	"math"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

// Component weights of the performance score
const (
	weightSuccess        = 40.0
	weightResponsiveness = 30.0
	weightReliability    = 30.0

	// responsivenessCeilingMS is the task duration past which the
	// responsiveness component bottoms out
	responsivenessCeilingMS = 60000.0
)

// Rating buckets
type Rating string

const (
	RatingExcellent    Rating = "excellent"
	RatingGood         Rating = "good"
	RatingSatisfactory Rating = "satisfactory"
	RatingFair         Rating = "fair"
	RatingPoor         Rating = "poor"
	RatingCritical     Rating = "critical"
)

// Score computes the 0-100 performance score from a metrics snapshot
func Score(m roster.Metrics) int {
	success := 1.0
	if total := m.TasksCompleted + m.TasksFailed; total > 0 {
		success = float64(m.TasksCompleted) / float64(total)
	}

	responsiveness := 1.0
	if m.AvgTaskDurationMS != 0 {
		responsiveness = math.Max(0, 1-m.AvgTaskDurationMS/responsivenessCeilingMS)
	}

	reliability := 1.0
	if total := m.HeartbeatsResponded + m.HeartbeatsMissed; total > 0 {
		reliability = float64(m.HeartbeatsResponded) / float64(total)
	}
	reliability -= math.Min(0.5, 0.1*float64(m.WarningsReceived))

	raw := weightSuccess*success + weightResponsiveness*responsiveness + weightReliability*reliability
	return int(math.Round(raw))
}

// Rate maps a score to its rating bucket
func Rate(score int) Rating {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 80:
		return RatingGood
	case score >= 70:
		return RatingSatisfactory
	case score >= 60:
		return RatingFair
	case score >= 40:
		return RatingPoor
	default:
		return RatingCritical
	}
}

// PromotionEligible reports whether an agent's record qualifies for
// promotion
func PromotionEligible(m roster.Metrics) bool {
	return Score(m) >= 80 && m.TasksCompleted >= 10 && m.WarningsReceived == 0
}

// DemotionEligible reports whether an agent's record warrants demotion
func DemotionEligible(m roster.Metrics) bool {
	return Score(m) < 60 || m.WarningsReceived >= 2
}

// DismissalEligible reports whether an agent's record warrants dismissal
func DismissalEligible(m roster.Metrics) bool {
	return Score(m) < 40 || m.WarningsReceived >= 3
}
