package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

func TestScore_FreshAgentIsPerfect(t *testing.T) {
	// No tasks and no heartbeats yet: every component defaults to 1
	assert.Equal(t, 100, Score(roster.Metrics{}))
}

func TestScore_SuccessComponent(t *testing.T) {
	// success 0.5, responsiveness 1 (avg 0), reliability 1
	m := roster.Metrics{TasksCompleted: 5, TasksFailed: 5}
	assert.Equal(t, 80, Score(m))
}

func TestScore_ResponsivenessComponent(t *testing.T) {
	// avg 30000ms -> responsiveness 0.5 -> 40 + 15 + 30 = 85
	m := roster.Metrics{TasksCompleted: 10, AvgTaskDurationMS: 30000}
	assert.Equal(t, 85, Score(m))

	// Past the ceiling the component bottoms out at 0
	m.AvgTaskDurationMS = 120000
	assert.Equal(t, 70, Score(m))
}

func TestScore_ReliabilityComponent(t *testing.T) {
	// reliability 0.5 -> 40 + 30 + 15 = 85
	m := roster.Metrics{HeartbeatsResponded: 5, HeartbeatsMissed: 5}
	assert.Equal(t, 85, Score(m))
}

func TestScore_WarningPenalty(t *testing.T) {
	// Each warning shaves 0.1 off reliability, capped at 0.5
	base := roster.Metrics{}
	withOne := roster.Metrics{WarningsReceived: 1}
	withTen := roster.Metrics{WarningsReceived: 10}

	assert.Equal(t, 100, Score(base))
	assert.Equal(t, 97, Score(withOne))
	assert.Equal(t, 85, Score(withTen), "penalty capped at 0.5")
}

func TestRate(t *testing.T) {
	assert.Equal(t, RatingExcellent, Rate(95))
	assert.Equal(t, RatingExcellent, Rate(90))
	assert.Equal(t, RatingGood, Rate(85))
	assert.Equal(t, RatingSatisfactory, Rate(72))
	assert.Equal(t, RatingFair, Rate(60))
	assert.Equal(t, RatingPoor, Rate(45))
	assert.Equal(t, RatingCritical, Rate(39))
}

func TestPromotionEligibility(t *testing.T) {
	good := roster.Metrics{TasksCompleted: 12}
	assert.True(t, PromotionEligible(good))

	tooFew := roster.Metrics{TasksCompleted: 9}
	assert.False(t, PromotionEligible(tooFew))

	warned := roster.Metrics{TasksCompleted: 12, WarningsReceived: 1}
	assert.False(t, PromotionEligible(warned))
}

func TestDemotionAndDismissalEligibility(t *testing.T) {
	healthy := roster.Metrics{TasksCompleted: 10}
	assert.False(t, DemotionEligible(healthy))
	assert.False(t, DismissalEligible(healthy))

	twoWarnings := roster.Metrics{TasksCompleted: 10, WarningsReceived: 2}
	assert.True(t, DemotionEligible(twoWarnings))
	assert.False(t, DismissalEligible(twoWarnings))

	threeWarnings := roster.Metrics{TasksCompleted: 10, WarningsReceived: 3}
	assert.True(t, DismissalEligible(threeWarnings))

	// All tasks failed: success 0 -> score 60 with perfect other parts
	failing := roster.Metrics{TasksFailed: 10}
	assert.Equal(t, 60, Score(failing))
	assert.False(t, DemotionEligible(failing))
}
