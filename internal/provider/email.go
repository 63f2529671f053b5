package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// NewEmailAdapter builds the Email adapter (C3). There is no real
// upstream mail gateway here (see SPEC_FULL.md §5.3); send
// simulates network latency and an injected failure rate so the worker
// pool, retry scheduler, and circuit breaker all have real transient
// failures to react to, the same shape as the teacher's WebhookProvider
// exercised against webhook.site.
func NewEmailAdapter(cfg config.ProviderConfig, circuitCfg config.CircuitConfig, logger *slog.Logger) domain.Adapter {
	send := func(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
		return simulateSend(ctx, "email", cfg, req)
	}
	return newResilientAdapter("email-simulator", domain.TypeEmail, send, circuitCfg, cfg.SendTimeout, logger)
}

func simulateSend(ctx context.Context, kind string, cfg config.ProviderConfig, req domain.SendRequest) (domain.SendResult, error) {
	select {
	case <-time.After(cfg.SimulatedLatency):
	case <-ctx.Done():
		return domain.SendResult{}, ctx.Err()
	}

	if len(req.Recipient) == 0 {
		return domain.SendResult{Success: false, Permanent: true, Message: "empty recipient"}, nil
	}

	if rand.Float64() < cfg.FailureRate {
		return domain.SendResult{}, fmt.Errorf("%s gateway timeout", kind)
	}

	return domain.SendResult{
		Success:    true,
		ExternalID: uuid.New().String(),
		Message:    "accepted",
		Timestamp:  time.Now().UTC(),
	}, nil
}
