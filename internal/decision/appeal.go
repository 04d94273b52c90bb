package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/store"
)

// Vote is one top agent's position on an appeal
type Vote string

const (
	VoteSupport Vote = "support"
	VoteOppose  Vote = "oppose"
)

// Appeal result values. The result is unset while votes are pending and
// set exactly once on resolution.
const (
	AppealUnset   = ""
	AppealSuccess = "success"
	AppealFailed  = "failed"
)

// AppealVote records one roster member's vote
type AppealVote struct {
	Voter string `json:"voter"`
	Vote  Vote   `json:"vote"`
}

// Appeal is a proposer's challenge to a rejected decision, resolved by
// a top-layer vote.
type Appeal struct {
	ID         string       `json:"id"`
	DecisionID string       `json:"decision_id"`
	AppealerID string       `json:"appealer_id"`
	Arguments  string       `json:"arguments"`
	Votes      []AppealVote `json:"votes"`
	Roster     []string     `json:"roster"`
	Result     string       `json:"result"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

func (a *Appeal) snapshot() *Appeal {
	clone := *a
	clone.Votes = append([]AppealVote(nil), a.Votes...)
	clone.Roster = append([]string(nil), a.Roster...)
	return &clone
}

// Appeal opens a challenge against a rejected decision. Only the
// proposer may appeal; the decision moves to appealing and every agent
// on the top roster is solicited for a vote.
func (e *Engine) Appeal(ctx context.Context, decisionID, appealer, arguments string) (*Appeal, error) {
	voters := e.topRoster()
	if len(voters) == 0 {
		return nil, fmt.Errorf("no top-layer roster to vote on appeal")
	}

	e.mu.Lock()
	d, ok := e.byID[decisionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	if d.Status != StatusRejected {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAppealable, decisionID, d.Status)
	}
	if d.ProposerID != appealer {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s proposed by %s", ErrNotProposer, decisionID, d.ProposerID)
	}
	if _, open := e.appeal[decisionID]; open {
		e.mu.Unlock()
		return nil, fmt.Errorf("decision %s already has an open appeal", decisionID)
	}

	a := &Appeal{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		AppealerID: appealer,
		Arguments:  arguments,
		Votes:      []AppealVote{},
		Roster:     append([]string(nil), voters...),
		Result:     AppealUnset,
		CreatedAt:  time.Now(),
	}
	d.Status = StatusAppealing
	e.appeal[decisionID] = a
	dSnap := d.snapshot()
	aSnap := a.snapshot()
	e.mu.Unlock()

	e.persistDecision(ctx, dSnap)
	e.persistAppeal(ctx, aSnap, true)
	if e.audit != nil {
		e.audit.Record(ctx, appealer, audit.EventAppeal, arguments, map[string]interface{}{
			"decision_id": decisionID,
			"appeal_id":   a.ID,
		})
	}

	deadline := time.Now().Add(e.config.Timeout)
	for _, voter := range voters {
		e.send(ctx, voter, bus.KindVoteRequest, map[string]interface{}{
			"appeal_id":   a.ID,
			"decision_id": decisionID,
			"appealer":    appealer,
			"arguments":   arguments,
			"deadline":    deadline.Format(time.RFC3339),
		}, bus.PriorityHigh)
	}

	e.log.Info().
		Str("decision_id", decisionID).
		Str("appeal_id", a.ID).
		Int("voters", len(voters)).
		Msg("Appeal opened")

	return aSnap, nil
}

// CastVote records one roster member's vote on an open appeal. When the
// roster is complete the appeal resolves: support reaching the
// threshold (two thirds, rounded up) approves the original decision.
func (e *Engine) CastVote(ctx context.Context, decisionID, voter string, vote Vote) (*Appeal, error) {
	if vote != VoteSupport && vote != VoteOppose {
		return nil, fmt.Errorf("invalid vote %q", vote)
	}

	e.mu.Lock()
	a, ok := e.appeal[decisionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoAppeal, decisionID)
	}
	if !contains(a.Roster, voter) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotVoter, voter)
	}
	for _, v := range a.Votes {
		if v.Voter == voter {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
		}
	}

	a.Votes = append(a.Votes, AppealVote{Voter: voter, Vote: vote})
	complete := len(a.Votes) == len(a.Roster)

	var dSnap *Decision
	var aSnap *Appeal
	if complete {
		dSnap, aSnap = e.resolveAppealLocked(a)
	} else {
		aSnap = a.snapshot()
	}
	e.mu.Unlock()

	e.log.Debug().
		Str("decision_id", decisionID).
		Str("voter", voter).
		Str("vote", string(vote)).
		Int("votes", len(aSnap.Votes)).
		Msg("Appeal vote cast")

	if complete {
		e.finishAppeal(ctx, dSnap, aSnap)
	}
	return aSnap, nil
}

// resolveAppealLocked tallies a complete vote. Caller holds e.mu.
func (e *Engine) resolveAppealLocked(a *Appeal) (*Decision, *Appeal) {
	support := 0
	for _, v := range a.Votes {
		if v.Vote == VoteSupport {
			support++
		}
	}
	needed := int(math.Ceil(e.config.VoteThreshold*float64(len(a.Roster)) - 1e-6))

	now := time.Now()
	a.ResolvedAt = &now
	d := e.byID[a.DecisionID]
	if support >= needed {
		a.Result = AppealSuccess
		d.Status = StatusApproved
		d.ApprovedAt = &now
	} else {
		a.Result = AppealFailed
		d.Status = StatusRejected
	}
	delete(e.appeal, a.DecisionID)
	return d.snapshot(), a.snapshot()
}

func (e *Engine) finishAppeal(ctx context.Context, d *Decision, a *Appeal) {
	e.persistDecision(ctx, d)
	e.persistAppeal(ctx, a, false)

	e.send(ctx, a.AppealerID, bus.KindAppealResult, map[string]interface{}{
		"appeal_id":   a.ID,
		"decision_id": a.DecisionID,
		"result":      a.Result,
	}, bus.PriorityHigh)

	e.log.Info().
		Str("decision_id", a.DecisionID).
		Str("appeal_id", a.ID).
		Str("result", a.Result).
		Msg("Appeal resolved")
}

// OpenAppeal returns the open appeal for a decision, if any
func (e *Engine) OpenAppeal(decisionID string) (*Appeal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.appeal[decisionID]
	if !ok {
		return nil, false
	}
	return a.snapshot(), true
}

func (e *Engine) persistAppeal(ctx context.Context, a *Appeal, create bool) {
	if e.appeals == nil {
		return
	}
	votes := make(map[string]interface{}, len(a.Votes))
	for _, v := range a.Votes {
		votes[v.Voter] = string(v.Vote)
	}
	record := &store.AppealRecord{
		ID:         a.ID,
		DecisionID: a.DecisionID,
		AppealerID: a.AppealerID,
		Arguments:  a.Arguments,
		Votes:      votes,
		Result:     a.Result,
		CreatedAt:  a.CreatedAt,
		ResolvedAt: a.ResolvedAt,
	}
	var err error
	if create {
		err = e.appeals.CreateAppeal(ctx, record)
	} else {
		err = e.appeals.UpdateAppeal(ctx, record)
	}
	if err != nil {
		e.log.Error().Err(err).Str("appeal_id", a.ID).Msg("Failed to persist appeal")
	}
}
