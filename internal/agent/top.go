package agent

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/hivemind/internal/blackboard"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/decision"
	"github.com/ajitpratap0/hivemind/internal/roster"
)

// ReviewVerdict is a top agent's position on a signature request
type ReviewVerdict int

const (
	ReviewHold ReviewVerdict = iota
	ReviewSign
	ReviewVeto
)

// ReviewPolicy decides how a top agent answers a signature request.
// The default signs everything the agent's authority covers.
type ReviewPolicy func(kind roster.DecisionKind, content map[string]interface{}) (ReviewVerdict, string)

// VotePolicy decides an appeal vote. The default supports the appeal.
type VotePolicy func(content map[string]interface{}) decision.Vote

// Arbiter picks the winning party of a conflict. The default sides with
// the first listed party.
type Arbiter func(content map[string]interface{}) string

// arbitration tracks one in-flight conflict resolution
type arbitration struct {
	conflictID string
	parties    []string
	votes      map[string]string // top agent id -> party voted for
}

// TopBehavior reviews signature requests through the decision engine,
// aggregates mid-layer progress, and arbitrates conflicts by majority
// of the top-layer peers.
type TopBehavior struct {
	engine  *decision.Engine
	peers   func() []string // all top-layer ids including self
	review  ReviewPolicy
	vote    VotePolicy
	arbiter Arbiter

	progress     map[string]interface{} // mid id -> latest report
	arbitrations map[string]*arbitration
}

// NewTopBehavior wires a top-layer behavior. Policies may be nil for
// the defaults.
func NewTopBehavior(engine *decision.Engine, peers func() []string, review ReviewPolicy, vote VotePolicy, arbiter Arbiter) *TopBehavior {
	if review == nil {
		review = func(roster.DecisionKind, map[string]interface{}) (ReviewVerdict, string) {
			return ReviewSign, ""
		}
	}
	if vote == nil {
		vote = func(map[string]interface{}) decision.Vote { return decision.VoteSupport }
	}
	if arbiter == nil {
		arbiter = func(content map[string]interface{}) string {
			if parties := stringSlice(content["parties"]); len(parties) > 0 {
				return parties[0]
			}
			return ""
		}
	}
	return &TopBehavior{
		engine:       engine,
		peers:        peers,
		review:       review,
		vote:         vote,
		arbiter:      arbiter,
		progress:     make(map[string]interface{}),
		arbitrations: make(map[string]*arbitration),
	}
}

// OnInit implements Behavior
func (b *TopBehavior) OnInit(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnShutdown implements Behavior
func (b *TopBehavior) OnShutdown(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnProcess implements Behavior
func (b *TopBehavior) OnProcess(ctx context.Context, rt *Runtime, tick int64, msgs []*bus.Message) error {
	for _, m := range msgs {
		switch m.Kind {
		case bus.KindSignatureRequest:
			b.handleSignatureRequest(ctx, rt, m)
		case bus.KindVoteRequest:
			b.handleVoteRequest(ctx, rt, m)
		case bus.KindProgressReport:
			b.progress[m.From] = m.Content
		case bus.KindConflictReport:
			b.startArbitration(ctx, rt, m)
		case bus.KindArbitrationRequest:
			b.castArbitrationVote(ctx, rt, m)
		case bus.KindArbitrationResult:
			b.collectArbitrationVote(ctx, rt, m)
		case bus.KindErrorReport, bus.KindIssueEscalation:
			// visible in the progress aggregate; recovery already planned
			b.progress[m.From] = m.Content
		}
	}
	return nil
}

// handleSignatureRequest signs or vetoes per the review policy, within
// the agent's signature authority.
func (b *TopBehavior) handleSignatureRequest(ctx context.Context, rt *Runtime, m *bus.Message) {
	decisionID := stringField(m.Content, "decision_id")
	kind := roster.DecisionKind(stringField(m.Content, "type"))
	if decisionID == "" || !rt.Agent().MaySign(kind) {
		return
	}

	verdict, reason := b.review(kind, m.Content)
	var err error
	switch verdict {
	case ReviewSign:
		_, err = b.engine.Sign(ctx, decisionID, rt.Agent().ID)
	case ReviewVeto:
		_, err = b.engine.Veto(ctx, decisionID, rt.Agent().ID, reason)
	case ReviewHold:
		return
	}
	if err != nil {
		// Terminal or already-acted races are expected between reminders
		rt.log.Debug().Err(err).Str("decision_id", decisionID).Msg("Signature action not applied")
	}
}

func (b *TopBehavior) handleVoteRequest(ctx context.Context, rt *Runtime, m *bus.Message) {
	decisionID := stringField(m.Content, "decision_id")
	if decisionID == "" {
		return
	}
	if _, err := b.engine.CastVote(ctx, decisionID, rt.Agent().ID, b.vote(m.Content)); err != nil {
		rt.log.Debug().Err(err).Str("decision_id", decisionID).Msg("Appeal vote not applied")
	}
}

// startArbitration opens a conflict resolution: the receiving top agent
// votes first and solicits the rest of the top roster.
func (b *TopBehavior) startArbitration(ctx context.Context, rt *Runtime, m *bus.Message) {
	conflictID := stringField(m.Content, "conflict_id")
	if conflictID == "" {
		conflictID = m.ID
	}
	if _, open := b.arbitrations[conflictID]; open {
		return
	}

	arb := &arbitration{
		conflictID: conflictID,
		parties:    stringSlice(m.Content["parties"]),
		votes:      map[string]string{rt.Agent().ID: b.arbiter(m.Content)},
	}
	b.arbitrations[conflictID] = arb

	for _, peer := range b.peers() {
		if peer == rt.Agent().ID {
			continue
		}
		_ = rt.Send(ctx, peer, bus.KindArbitrationRequest, map[string]interface{}{
			"conflict_id": conflictID,
			"parties":     m.Content["parties"],
			"description": m.Content["description"],
		}, bus.PriorityHigh)
	}

	b.maybeResolve(ctx, rt, arb)
}

// castArbitrationVote answers a peer's arbitration request
func (b *TopBehavior) castArbitrationVote(ctx context.Context, rt *Runtime, m *bus.Message) {
	_ = rt.Send(ctx, m.From, bus.KindArbitrationResult, map[string]interface{}{
		"conflict_id": stringField(m.Content, "conflict_id"),
		"vote":        b.arbiter(m.Content),
	}, bus.PriorityHigh)
}

// collectArbitrationVote folds a peer's vote into an open arbitration
func (b *TopBehavior) collectArbitrationVote(ctx context.Context, rt *Runtime, m *bus.Message) {
	conflictID := stringField(m.Content, "conflict_id")
	arb, open := b.arbitrations[conflictID]
	if !open {
		return
	}
	arb.votes[m.From] = stringField(m.Content, "vote")
	b.maybeResolve(ctx, rt, arb)
}

// maybeResolve finishes an arbitration once a strict majority of the
// top roster agrees on one party: the outcome is published to the
// global whiteboard and both parties are notified.
func (b *TopBehavior) maybeResolve(ctx context.Context, rt *Runtime, arb *arbitration) {
	total := len(b.peers())
	needed := total/2 + 1

	tally := make(map[string]int)
	for _, party := range arb.votes {
		tally[party]++
	}

	var winner string
	for party, count := range tally {
		if count >= needed {
			winner = party
			break
		}
	}
	if winner == "" {
		return
	}
	delete(b.arbitrations, arb.conflictID)

	outcome := fmt.Sprintf("Arbitration %s resolved in favor of %s (%d/%d votes)",
		arb.conflictID, winner, tally[winner], total)
	if err := rt.Board().Append(ctx, blackboard.ScopeGlobal, "", rt.Actor(), outcome); err != nil {
		rt.log.Warn().Err(err).Msg("Failed to publish arbitration outcome")
	}

	for _, party := range arb.parties {
		_ = rt.Send(ctx, party, bus.KindArbitrationResult, map[string]interface{}{
			"conflict_id": arb.conflictID,
			"winner":      winner,
		}, bus.PriorityHigh)
	}
}

// ProgressAggregate returns the latest report per reporting agent
func (b *TopBehavior) ProgressAggregate() map[string]interface{} {
	out := make(map[string]interface{}, len(b.progress))
	for k, v := range b.progress {
		out[k] = v
	}
	return out
}

func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
