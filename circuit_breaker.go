package blockctl

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/aperture-controls/blockctl/ctrl"
)

// CircuitBreaker guards exchanges against a controller that has stopped
// answering: after enough consecutive failures it fails fast instead of
// tying up a pooled connection per attempt.
//
// Controller ERR responses are not failures here; they come back as
// normal responses. Only connection, timeout and protocol errors count.
type CircuitBreaker interface {
	Execute(fn func() (*ctrl.Response, error)) (*ctrl.Response, error)
	State() CircuitBreakerState
}

// CircuitBreakerState mirrors the usual three breaker states.
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// NewCircuitBreakerConfig returns a Config.NewCircuitBreaker factory with
// sensible trip behavior: open after 3+ requests with a 60% failure
// ratio within interval, probe again after timeout.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(host string) CircuitBreaker {
	return func(host string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        host,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return &gobreakerAdapter{cb: gobreaker.NewCircuitBreaker[*ctrl.Response](settings)}
	}
}

// gobreakerAdapter maps gobreaker onto the CircuitBreaker interface.
type gobreakerAdapter struct {
	cb *gobreaker.CircuitBreaker[*ctrl.Response]
}

func (a *gobreakerAdapter) Execute(fn func() (*ctrl.Response, error)) (*ctrl.Response, error) {
	return a.cb.Execute(fn)
}

func (a *gobreakerAdapter) State() CircuitBreakerState {
	switch a.cb.State() {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}
