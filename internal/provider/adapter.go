// Package provider implements the Provider Adapter layer (C3) and the
// Provider Registry (C4). Each adapter wraps a resilience pipeline —
// timeout, then circuit breaker, then a bounded number of retries on
// transient failures — around a transport-specific send function, so
// the worker pool only ever sees domain.Adapter.Send.
package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// sendFunc is the transport-specific part of an adapter: given a
// request, attempt one delivery. Errors are always treated as
// transient by the pipeline; permanent rejection is expressed through
// SendResult.Permanent.
type sendFunc func(ctx context.Context, req domain.SendRequest) (domain.SendResult, error)

// resilientAdapter composes retry, circuit breaker, and timeout around
// a sendFunc. It is the same pipeline for every notification type; only
// the sendFunc and the name differ.
type resilientAdapter struct {
	name    string
	typ     domain.NotificationType
	send    sendFunc
	breaker *gobreaker.CircuitBreaker[domain.SendResult]
	timeout time.Duration
	logger  *slog.Logger
}

func newResilientAdapter(name string, typ domain.NotificationType, send sendFunc, circuitCfg config.CircuitConfig, timeout time.Duration, logger *slog.Logger) *resilientAdapter {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: circuitCfg.MaxRequests,
		Interval:    circuitCfg.Interval,
		Timeout:     circuitCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= circuitCfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= circuitCfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change", "adapter", name, "from", from.String(), "to", to.String())
		},
	}

	return &resilientAdapter{
		name:    name,
		typ:     typ,
		send:    send,
		breaker: gobreaker.NewCircuitBreaker[domain.SendResult](settings),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *resilientAdapter) Name() string {
	return a.name
}

func (a *resilientAdapter) Supports(t domain.NotificationType) bool {
	return a.typ == t
}

func (a *resilientAdapter) Healthy() bool {
	return a.breaker.State() != gobreaker.StateOpen
}

// Send runs one attempt (with its own deadline) through the circuit
// breaker. Inside that attempt, retryTransport re-runs the transport
// call on a returned error (up to 2 retries); a result with Success
// false is returned as is. Retries across attempts belong to the worker
// pool's retry policy (C6).
func (a *resilientAdapter) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (domain.SendResult, error) {
		return retryTransport(sendCtx, func() (domain.SendResult, error) {
			return a.send(sendCtx, req)
		})
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.SendResult{}, domain.NewProviderError(a.name, domain.ProviderUnavailable, err.Error())
		}
		return domain.SendResult{}, domain.NewProviderError(a.name, domain.ProviderTransient, err.Error())
	}
	return result, nil
}

// retryTransport wraps a transport call with cenkalti/backoff so a
// single adapter.Send attempt can absorb a brief connection hiccup
// without surfacing all the way up to the worker's own retry/backoff
// scheduling. It is deliberately short: 3 tries (up to 2 retries),
// exponential delay starting at 200ms and doubling.
func retryTransport(ctx context.Context, fn func() (domain.SendResult, error)) (domain.SendResult, error) {
	op := func() (domain.SendResult, error) {
		res, err := fn()
		if err != nil {
			return domain.SendResult{}, err
		}
		return res, nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 2
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(3),
	)
}
