package roster

// Metrics accumulates an agent's lifetime counters. Heartbeat counters
// and warnings only ever grow; the scorer reads snapshots.
type Metrics struct {
	TasksCompleted      int64   `json:"tasks_completed"`
	TasksFailed         int64   `json:"tasks_failed"`
	AvgTaskDurationMS   float64 `json:"avg_task_duration_ms"`
	MessagesProcessed   int64   `json:"messages_processed"`
	HeartbeatsResponded int64   `json:"heartbeats_responded"`
	HeartbeatsMissed    int64   `json:"heartbeats_missed"`
	WarningsReceived    int64   `json:"warnings_received"`
	LastActiveTick      int64   `json:"last_active_tick"`
	PerformanceScore    int     `json:"performance_score"`
}

// Metrics returns a snapshot copy of the agent's counters
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// RecordHeartbeat counts one responded heartbeat and the messages it
// processed, and stamps the last-active tick.
func (a *Agent) RecordHeartbeat(tick int64, messages int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.HeartbeatsResponded++
	a.metrics.MessagesProcessed += int64(messages)
	a.metrics.LastActiveTick = tick
}

// RecordMissedHeartbeat counts one failed tick
func (a *Agent) RecordMissedHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.HeartbeatsMissed++
}

// RecordTaskResult folds one finished unit of work into the counters,
// maintaining the running mean of task durations.
func (a *Agent) RecordTaskResult(success bool, durationMS float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if success {
		a.metrics.TasksCompleted++
	} else {
		a.metrics.TasksFailed++
	}
	total := a.metrics.TasksCompleted + a.metrics.TasksFailed
	a.metrics.AvgTaskDurationMS += (durationMS - a.metrics.AvgTaskDurationMS) / float64(total)
}

// RecordWarning bumps the warning counter and returns the new count
func (a *Agent) RecordWarning() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.WarningsReceived++
	return a.metrics.WarningsReceived
}

// SetPerformanceScore stores the most recent computed score
func (a *Agent) SetPerformanceScore(score int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.PerformanceScore = score
}
