package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives every successfully routed message for persistence.
// Sink failures are logged and never fail the send.
type Sink interface {
	AppendMessage(ctx context.Context, m *Message) error
}

// TimeoutHandler receives the batched set of agents whose last-seen tick
// fell behind the timeout threshold, at most once per tick.
type TimeoutHandler func(tick int64, agents []string)

// Config configures the message bus
type Config struct {
	TaskID                    string
	MaxQueueSize              int
	TimeoutThresholdTicks     int64
	EnableCompression         bool
	CompressionThresholdBytes int
}

// DefaultConfig returns default bus configuration for a task
func DefaultConfig(taskID string) Config {
	return Config{
		TaskID:                    taskID,
		MaxQueueSize:              1000,
		TimeoutThresholdTicks:     3,
		EnableCompression:         false,
		CompressionThresholdBytes: 1024,
	}
}

// AgentStats tracks per-agent traffic
type AgentStats struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
}

// Stats is a snapshot of bus counters
type Stats struct {
	TotalSent      int64                 `json:"total_sent"`
	TotalDelivered int64                 `json:"total_delivered"`
	TotalDropped   int64                 `json:"total_dropped"`
	Overflows      int64                 `json:"overflows"`
	SystemMessages int64                 `json:"system_messages"`
	ByKind         map[Kind]int64        `json:"by_kind"`
	ByAgent        map[string]AgentStats `json:"by_agent"`
}

// Bus routes point-to-point, broadcast, and system messages between the
// registered agents of one task, enforcing per-recipient queue caps and
// tracking liveness against the heartbeat clock.
type Bus struct {
	config Config
	sink   Sink
	log    zerolog.Logger

	mu          sync.Mutex
	queues      map[string]*PriorityQueue
	lastSeen    map[string]int64
	currentTick int64

	totalSent      int64
	totalDelivered int64
	totalDropped   int64
	overflows      int64
	systemMessages int64
	byKind         map[Kind]int64
	byAgent        map[string]*AgentStats

	onTimeout TimeoutHandler
}

// New creates a bus for one task. sink may be nil when persistence is
// not wanted.
func New(config Config, sink Sink) *Bus {
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1000
	}
	if config.TimeoutThresholdTicks <= 0 {
		config.TimeoutThresholdTicks = 3
	}
	if config.CompressionThresholdBytes <= 0 {
		config.CompressionThresholdBytes = 1024
	}
	return &Bus{
		config:   config,
		sink:     sink,
		log:      log.With().Str("component", "bus").Str("task_id", config.TaskID).Logger(),
		queues:   make(map[string]*PriorityQueue),
		lastSeen: make(map[string]int64),
		byKind:   make(map[Kind]int64),
		byAgent:  make(map[string]*AgentStats),
	}
}

// SetTimeoutHandler installs the liveness event consumer
func (b *Bus) SetTimeoutHandler(h TimeoutHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTimeout = h
}

// RegisterAgent creates an inbox for the agent. Registering an already
// registered agent is an error.
func (b *Bus) RegisterAgent(agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.queues[agentID]; exists {
		return fmt.Errorf("agent %s already registered", agentID)
	}
	b.queues[agentID] = NewPriorityQueue()
	b.lastSeen[agentID] = b.currentTick
	if _, ok := b.byAgent[agentID]; !ok {
		b.byAgent[agentID] = &AgentStats{}
	}

	b.log.Debug().Str("agent", agentID).Int64("tick", b.currentTick).Msg("Agent registered")
	return nil
}

// UnregisterAgent removes the agent's inbox, dropping anything queued.
// Unregistering an unknown agent is a no-op.
func (b *Bus) UnregisterAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.queues[agentID]; !exists {
		return
	}
	delete(b.queues, agentID)
	delete(b.lastSeen, agentID)
	b.log.Debug().Str("agent", agentID).Msg("Agent unregistered")
}

// RegisteredAgents returns the ids of all agents with an inbox
func (b *Bus) RegisteredAgents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	agents := make([]string, 0, len(b.queues))
	for id := range b.queues {
		agents = append(agents, id)
	}
	return agents
}

// IsRegistered reports whether the agent has an inbox
func (b *Bus) IsRegistered(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[agentID]
	return ok
}

// Send validates and routes one message. Validation failures surface to
// the caller; capacity and unknown-recipient conditions drop the message
// with a log entry but do not fail the send.
func (b *Bus) Send(ctx context.Context, m *Message) error {
	if err := b.validate(m); err != nil {
		return err
	}

	b.mu.Lock()
	m.Tick = b.currentTick

	switch {
	case m.IsSystem():
		b.systemMessages++
		b.totalSent++
		b.byKind[m.Kind]++
		b.statsFor(m.From).Sent++
		// An ack doubles as a liveness signal for its sender
		if m.Kind == KindHeartbeatAck {
			if _, known := b.queues[m.From]; known {
				b.lastSeen[m.From] = b.currentTick
			}
		}
	case m.IsBroadcast():
		b.totalSent++
		b.byKind[m.Kind]++
		b.statsFor(m.From).Sent++
		// A broadcast is liveness evidence for its sender
		if _, known := b.queues[m.From]; known {
			b.lastSeen[m.From] = b.currentTick
		}
		for id, q := range b.queues {
			if id == m.From {
				continue
			}
			b.deliverLocked(id, q, b.copyFor(id, m))
		}
	default:
		q, known := b.queues[m.To]
		if !known {
			b.totalDropped++
			b.mu.Unlock()
			b.log.Warn().
				Str("message_id", m.ID).
				Str("to", m.To).
				Str("kind", string(m.Kind)).
				Msg("Recipient unknown, message dropped")
			return nil
		}
		b.totalSent++
		b.byKind[m.Kind]++
		b.statsFor(m.From).Sent++
		b.deliverLocked(m.To, q, m)
	}
	b.mu.Unlock()

	b.persist(ctx, m)
	return nil
}

// deliverLocked enqueues for one recipient, applying the queue cap and
// the compression policy. Caller holds b.mu.
func (b *Bus) deliverLocked(recipient string, q *PriorityQueue, m *Message) {
	if q.Size() >= b.config.MaxQueueSize {
		b.overflows++
		b.totalDropped++
		b.log.Warn().
			Str("message_id", m.ID).
			Str("to", recipient).
			Int("queue_size", q.Size()).
			Msg("Queue overflow, message dropped")
		return
	}

	if b.config.EnableCompression {
		compressed, err := compressContent(m.Content, b.config.CompressionThresholdBytes)
		if err != nil {
			b.log.Warn().Err(err).Str("message_id", m.ID).Msg("Compression failed, delivering raw")
		} else if isCompressed(compressed) {
			clone := *m
			clone.Content = compressed
			m = &clone
		}
	}

	q.Enqueue(m)
	b.totalDelivered++
	b.statsFor(recipient).Received++
}

// copyFor duplicates a broadcast message for one recipient
func (b *Bus) copyFor(recipient string, m *Message) *Message {
	clone := *m
	return &clone
}

// GetMessages drains the agent's inbox in priority order, decompressing
// as needed. Unknown agents get nothing.
func (b *Bus) GetMessages(agentID string) []*Message {
	b.mu.Lock()
	q, ok := b.queues[agentID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	drained := q.DequeueAll()
	b.mu.Unlock()

	out := make([]*Message, 0, len(drained))
	for _, m := range drained {
		if isCompressed(m.Content) {
			content, err := decompressContent(m.Content)
			if err != nil {
				b.log.Error().Err(err).Str("message_id", m.ID).Msg("Failed to decompress message, dropping")
				continue
			}
			clone := *m
			clone.Content = content
			m = &clone
		}
		out = append(out, m)
	}
	return out
}

// QueueSize returns the number of buffered messages for the agent
func (b *Bus) QueueSize(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[agentID]; ok {
		return q.Size()
	}
	return 0
}

// UpdateLastSeen records liveness for the agent at the current tick
func (b *Bus) UpdateLastSeen(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; ok {
		b.lastSeen[agentID] = b.currentTick
	}
}

// LastSeen returns the last tick the agent was seen on, and whether the
// agent is known
func (b *Bus) LastSeen(agentID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.lastSeen[agentID]
	return t, ok
}

// Tick advances the bus's view of logical time and runs the liveness
// sweep. Agents whose last-seen tick trails by more than the threshold
// are reported in a single batched timeout event.
func (b *Bus) Tick(tick int64) {
	b.mu.Lock()
	b.currentTick = tick

	var timedOut []string
	for id, seen := range b.lastSeen {
		if tick-seen > b.config.TimeoutThresholdTicks {
			timedOut = append(timedOut, id)
		}
	}
	handler := b.onTimeout
	b.mu.Unlock()

	if len(timedOut) > 0 {
		b.log.Warn().Int64("tick", tick).Strs("agents", timedOut).Msg("Agents timed out")
		if handler != nil {
			handler(tick, timedOut)
		}
	}
}

// CurrentTick returns the tick most recently observed by the bus
func (b *Bus) CurrentTick() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTick
}

// GetStats returns a snapshot of bus counters
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		TotalSent:      b.totalSent,
		TotalDelivered: b.totalDelivered,
		TotalDropped:   b.totalDropped,
		Overflows:      b.overflows,
		SystemMessages: b.systemMessages,
		ByKind:         make(map[Kind]int64, len(b.byKind)),
		ByAgent:        make(map[string]AgentStats, len(b.byAgent)),
	}
	for k, v := range b.byKind {
		s.ByKind[k] = v
	}
	for id, st := range b.byAgent {
		s.ByAgent[id] = *st
	}
	return s
}

func (b *Bus) statsFor(agentID string) *AgentStats {
	st, ok := b.byAgent[agentID]
	if !ok {
		st = &AgentStats{}
		b.byAgent[agentID] = st
	}
	return st
}

func (b *Bus) persist(ctx context.Context, m *Message) {
	if b.sink == nil {
		return
	}
	if err := b.sink.AppendMessage(ctx, m); err != nil {
		b.log.Error().Err(err).Str("message_id", m.ID).Msg("Failed to persist message")
	}
}

// validate applies the send-time contract. Violations fail the send
// synchronously and nothing is routed or persisted.
func (b *Bus) validate(m *Message) error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if m.ID == "" {
		return fmt.Errorf("message id is empty")
	}
	if m.From == "" {
		return fmt.Errorf("message sender is empty")
	}
	if m.To == "" {
		return fmt.Errorf("message recipient is empty")
	}
	if m.TaskID == "" {
		return fmt.Errorf("message task id is empty")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if m.Content == nil {
		return fmt.Errorf("message content is nil")
	}
	if m.Timestamp.IsZero() || m.Timestamp.Unix() < 0 {
		return fmt.Errorf("message timestamp invalid")
	}
	if m.Timestamp.After(time.Now().Add(time.Second)) {
		return fmt.Errorf("message timestamp too far in the future")
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("invalid message priority %d", m.Priority)
	}
	if m.TaskID != b.config.TaskID {
		return fmt.Errorf("message task id %s does not match bus task id %s", m.TaskID, b.config.TaskID)
	}
	return nil
}
