package governance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/roster"
	"github.com/ajitpratap0/hivemind/internal/store"
)

// ElectionAction is the outcome decided for one agent in a round
type ElectionAction string

const (
	ActionPromote  ElectionAction = "promote"
	ActionMaintain ElectionAction = "maintain"
	ActionDemote   ElectionAction = "demote"
	ActionDismiss  ElectionAction = "dismiss"
)

// ElectionConfig configures the periodic layer elections
type ElectionConfig struct {
	IntervalTicks int64
	Excellent     int
	Good          int
	Poor          int
	Failing       int
}

// DefaultElectionConfig returns the default election thresholds
func DefaultElectionConfig() ElectionConfig {
	return ElectionConfig{
		IntervalTicks: 50,
		Excellent:     80,
		Good:          60,
		Poor:          40,
		Failing:       20,
	}
}

// Outcome is one agent's result within an election round
type Outcome struct {
	AgentID string         `json:"agent_id"`
	Layer   roster.Layer   `json:"layer"`
	Score   int            `json:"score"`
	Action  ElectionAction `json:"action"`
}

// Election runs the periodic layer-wide performance reviews. Actions
// delegate to accountability (demote, dismiss) or the promotion path.
type Election struct {
	taskID         string
	bus            *bus.Bus
	audit          *audit.Recorder
	roster         Roster
	accountability *Accountability
	lifecycle      Lifecycle
	repo           store.ElectionRepo
	config         ElectionConfig
	log            zerolog.Logger
	round          int64
}

// NewElection creates the election module for one task
func NewElection(taskID string, b *bus.Bus, rec *audit.Recorder, r Roster, acc *Accountability, lc Lifecycle, repo store.ElectionRepo, config ElectionConfig) *Election {
	if config.IntervalTicks <= 0 {
		config.IntervalTicks = 50
	}
	return &Election{
		taskID:         taskID,
		bus:            b,
		audit:          rec,
		roster:         r,
		accountability: acc,
		lifecycle:      lc,
		repo:           repo,
		config:         config,
		log:            log.With().Str("component", "election").Str("task_id", taskID).Logger(),
	}
}

// OnTick fires a round whenever the election interval elapses
func (e *Election) OnTick(tick int64) error {
	if tick == 0 || tick%e.config.IntervalTicks != 0 {
		return nil
	}
	e.RunRound(context.Background())
	return nil
}

// RunRound scores every non-terminated agent per layer, sorts each
// layer descending, decides an action per the thresholds, applies it,
// and persists the round.
func (e *Election) RunRound(ctx context.Context) []Outcome {
	e.round++
	round := e.round

	byLayer := map[roster.Layer][]*roster.Agent{}
	for _, a := range e.roster.Agents() {
		if a.IsTerminal() {
			continue
		}
		byLayer[a.Layer] = append(byLayer[a.Layer], a)
	}

	var outcomes []Outcome
	for _, layer := range []roster.Layer{roster.LayerTop, roster.LayerMid, roster.LayerBottom} {
		agents := byLayer[layer]

		scored := make([]Outcome, 0, len(agents))
		for _, a := range agents {
			score := Score(a.Metrics())
			a.SetPerformanceScore(score)
			scored = append(scored, Outcome{AgentID: a.ID, Layer: layer, Score: score})
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

		for i := range scored {
			scored[i].Action = e.decide(layer, scored[i].Score)
		}
		outcomes = append(outcomes, scored...)

		for _, o := range scored {
			agent, ok := e.roster.Get(o.AgentID)
			if !ok {
				continue
			}
			e.apply(ctx, agent, o)
			e.persist(ctx, round, agent, o)
		}
	}

	e.log.Info().Int64("round", round).Int("agents", len(outcomes)).Msg("Election round completed")
	return outcomes
}

// decide applies the action table to one score
func (e *Election) decide(layer roster.Layer, score int) ElectionAction {
	switch {
	case score < e.config.Failing:
		return ActionDismiss
	case score < e.config.Poor:
		if layer == roster.LayerMid {
			return ActionDemote
		}
		return ActionDismiss
	case score >= e.config.Excellent && layer == roster.LayerBottom:
		return ActionPromote
	default:
		return ActionMaintain
	}
}

func (e *Election) apply(ctx context.Context, agent *roster.Agent, o Outcome) {
	switch o.Action {
	case ActionDismiss:
		e.accountability.DismissAgent(ctx, agent, electionReason(o))
	case ActionDemote:
		e.accountability.DemoteAgent(ctx, agent, electionReason(o))
	case ActionPromote:
		e.promote(ctx, agent, o)
	case ActionMaintain:
		// nothing to do
	}
}

// promote audits the promotion, notifies the agent, and asks the
// lifecycle to instantiate it at the next layer up.
func (e *Election) promote(ctx context.Context, agent *roster.Agent, o Outcome) {
	reason := electionReason(o)
	e.audit.Record(ctx, agent.ID, audit.EventPromotion, reason, map[string]interface{}{
		"score": o.Score,
	})

	if e.bus != nil {
		m := bus.NewMessage(governanceSender, agent.ID, e.taskID, bus.KindPromotionNotice, map[string]interface{}{
			"score":  o.Score,
			"reason": reason,
		}).WithPriority(bus.PriorityHigh)
		if err := e.bus.Send(ctx, m); err != nil {
			e.log.Warn().Err(err).Str("agent", agent.ID).Msg("Failed to send promotion notice")
		}
	}
	if e.lifecycle != nil {
		e.lifecycle.RequestPromotionMove(ctx, agent, reason)
	}

	e.log.Info().Str("agent", agent.ID).Int("score", o.Score).Msg("Agent promoted")
}

func electionReason(o Outcome) string {
	return fmt.Sprintf("election: score %d rated %s", o.Score, Rate(o.Score))
}

func (e *Election) persist(ctx context.Context, round int64, agent *roster.Agent, o Outcome) {
	if e.repo == nil {
		return
	}
	record := &store.ElectionRecord{
		ID:            uuid.NewString(),
		TaskID:        e.taskID,
		Round:         round,
		Action:        string(o.Action),
		TargetAgentID: agent.ID,
		Result: map[string]interface{}{
			"score": o.Score,
			"layer": string(o.Layer),
		},
		CreatedAt: time.Now(),
	}
	if err := e.repo.AppendElection(ctx, record); err != nil {
		e.log.Error().Err(err).Str("agent", agent.ID).Msg("Failed to persist election outcome")
	}
}
