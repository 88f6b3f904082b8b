package llm

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned without calling the provider while the circuit
// breaker is open.
var ErrUnavailable = errors.New("llmclient: provider temporarily unavailable")

func newBreaker(cfg Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-upstream",
		MaxRequests: 1,
		Interval:    cfg.BreakerResetInterval,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess decides what counts against the provider. Rejections caused
// by the caller (bad key, bad request) and the caller giving up do not.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.ClientFault() {
		return true
	}
	return false
}

func (c *client) guard(fn func() (*ChatResponse, error)) (*ChatResponse, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	resp, _ := out.(*ChatResponse)
	return resp, nil
}
