package recovery

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Executor circuit breaker settings. The executor is an external
// dependency (LLM, tool runner); when it degrades, tripping the breaker
// keeps agents from burning their whole retry budget on a dead backend.
const (
	executorMinRequests     = 5
	executorFailureRatio    = 0.6
	executorOpenTimeout     = 30 * time.Second
	executorHalfOpenMaxReqs = 3
	executorCountInterval   = 10 * time.Second
)

// NewExecutorBreaker creates the circuit breaker guarding executor calls
func NewExecutorBreaker(name string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: executorHalfOpenMaxReqs,
		Interval:    executorCountInterval,
		Timeout:     executorOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= executorMinRequests && failureRatio >= executorFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Executor circuit breaker state change")
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
