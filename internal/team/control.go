package team

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ControlPlane bridges a running team to the outside world over NATS:
// lifecycle events go out on the events subject, and pause, resume, and
// cancel commands come in on the control subject.
type ControlPlane struct {
	nc      *nats.Conn
	team    *Team
	sub     *nats.Subscription
	limiter *rate.Limiter
	log     zerolog.Logger

	eventsSubject  string
	controlSubject string
}

// ControlConfig configures the control plane
type ControlConfig struct {
	NATSURL string
	// EventsPerSecond bounds outbound event publishing (default 20)
	EventsPerSecond float64
}

// controlCommand is the inbound command envelope
type controlCommand struct {
	Command string `json:"command"` // pause, resume, cancel
	Reason  string `json:"reason,omitempty"`
}

// controlEvent is the outbound event envelope
type controlEvent struct {
	Event     string                 `json:"event"`
	TaskID    string                 `json:"task_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewControlPlane connects to NATS and subscribes to the team's control
// subject
func NewControlPlane(t *Team, config ControlConfig) (*ControlPlane, error) {
	nc, err := nats.Connect(
		config.NATSURL,
		nats.Name("hivemind-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	perSecond := config.EventsPerSecond
	if perSecond <= 0 {
		perSecond = 20
	}

	cp := &ControlPlane{
		nc:             nc,
		team:           t,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
		log:            log.With().Str("component", "control").Str("task_id", t.TaskID()).Logger(),
		eventsSubject:  fmt.Sprintf("hivemind.events.%s", t.TaskID()),
		controlSubject: fmt.Sprintf("hivemind.control.%s", t.TaskID()),
	}

	sub, err := nc.Subscribe(cp.controlSubject, cp.handleCommand)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to control subject: %w", err)
	}
	cp.sub = sub
	t.SetControlPlane(cp)

	cp.log.Info().
		Str("events", cp.eventsSubject).
		Str("control", cp.controlSubject).
		Msg("Control plane connected")
	return cp, nil
}

// Publish emits one lifecycle event, subject to the rate limit. Events
// past the limit are dropped; they are advisory, never load-bearing.
func (cp *ControlPlane) Publish(event string, payload map[string]interface{}) {
	if !cp.limiter.Allow() {
		cp.log.Debug().Str("event", event).Msg("Event publish rate-limited")
		return
	}

	data, err := json.Marshal(controlEvent{
		Event:     event,
		TaskID:    cp.team.TaskID(),
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		cp.log.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}
	if err := cp.nc.Publish(cp.eventsSubject, data); err != nil {
		cp.log.Warn().Err(err).Str("event", event).Msg("Failed to publish event")
	}
}

// handleCommand applies one inbound control command to the team
func (cp *ControlPlane) handleCommand(msg *nats.Msg) {
	var cmd controlCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		cp.log.Warn().Err(err).Msg("Malformed control command")
		return
	}

	ctx := context.Background()
	switch cmd.Command {
	case "pause":
		cp.team.Pause(ctx, cmd.Reason)
	case "resume":
		cp.team.Resume(ctx)
	case "cancel":
		if err := cp.team.Cancel(ctx); err != nil {
			cp.log.Warn().Err(err).Msg("Cancel command failed")
		}
	default:
		cp.log.Warn().Str("command", cmd.Command).Msg("Unknown control command")
	}
}

// Close unsubscribes and drops the NATS connection
func (cp *ControlPlane) Close() {
	if cp.sub != nil {
		_ = cp.sub.Unsubscribe()
	}
	if cp.nc != nil {
		cp.nc.Close()
	}
	cp.log.Info().Msg("Control plane closed")
}
