package revolut

import (
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker in front of the API.
// Zero values take the defaults of DefaultBreakerConfig.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig suits a remote HTTP API.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

func (b BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if b.MaxRequests == 0 {
		b.MaxRequests = d.MaxRequests
	}
	if b.Interval == 0 {
		b.Interval = d.Interval
	}
	if b.Timeout == 0 {
		b.Timeout = d.Timeout
	}
	if b.ConsecutiveFailures == 0 {
		b.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if b.FailureRatio == 0 {
		b.FailureRatio = d.FailureRatio
	}
	if b.MinRequests == 0 {
		b.MinRequests = d.MinRequests
	}
	return b
}

func newBreaker(name string, cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "revolut-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		OnStateChange: onChange,
		IsSuccessful:  isSuccessful,
	})
}

// isSuccessful keeps client errors, which a retry cannot fix, from
// tripping the breaker. Only transport failures, 429s and 5xx count.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func (c *Client) onBreakerStateChange(name string, from, to gobreaker.State) {
	c.logger.Warn("circuit breaker state changed",
		"breaker", name,
		"from", from.String(),
		"to", to.String(),
	)
	if c.metrics != nil {
		c.metrics.RecordBreakerState(c.environment, breakerStateValue(to))
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
