package provider

import (
	"context"
	"log/slog"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// NewSmsAdapter builds the SMS adapter (C3), sharing the same simulated
// transport as the email adapter but registered under its own breaker
// and its own type match so one carrier outage never trips the other
// channel's circuit.
func NewSmsAdapter(cfg config.ProviderConfig, circuitCfg config.CircuitConfig, logger *slog.Logger) domain.Adapter {
	send := func(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
		return simulateSend(ctx, "sms", cfg, req)
	}
	return newResilientAdapter("sms-simulator", domain.TypeSms, send, circuitCfg, cfg.SendTimeout, logger)
}
