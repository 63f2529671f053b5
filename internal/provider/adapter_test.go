package provider

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmailAdapter_SendsSuccessfully(t *testing.T) {
	cfg := config.ProviderConfig{SendTimeout: time.Second, SimulatedLatency: 0, FailureRate: 0}
	circuitCfg := config.CircuitConfig{MaxRequests: 5, Interval: time.Minute, Timeout: time.Second, FailureRate: 0.6, MinRequests: 10}

	adapter := NewEmailAdapter(cfg, circuitCfg, testLogger())
	assert.Equal(t, "email-simulator", adapter.Name())
	assert.True(t, adapter.Supports(domain.TypeEmail))
	assert.False(t, adapter.Supports(domain.TypeSms))

	result, err := adapter.Send(context.Background(), domain.SendRequest{Recipient: "a@example.com", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ExternalID)
}

func TestEmailAdapter_EmptyRecipientIsPermanentFailure(t *testing.T) {
	cfg := config.ProviderConfig{SendTimeout: time.Second, SimulatedLatency: 0, FailureRate: 0}
	circuitCfg := config.CircuitConfig{MaxRequests: 5, Interval: time.Minute, Timeout: time.Second, FailureRate: 0.6, MinRequests: 10}

	adapter := NewEmailAdapter(cfg, circuitCfg, testLogger())
	result, err := adapter.Send(context.Background(), domain.SendRequest{Recipient: "", Body: "hi"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Permanent)
}

func TestRegistry_ForReturnsMatchingAdapter(t *testing.T) {
	cfg := config.ProviderConfig{SendTimeout: time.Second, FailureRate: 0}
	circuitCfg := config.CircuitConfig{MaxRequests: 5, Interval: time.Minute, Timeout: time.Second, FailureRate: 0.6, MinRequests: 10}

	email := NewEmailAdapter(cfg, circuitCfg, testLogger())
	sms := NewSmsAdapter(cfg, circuitCfg, testLogger())
	registry := NewRegistry(email, sms)

	got, err := registry.For(domain.TypeSms)
	require.NoError(t, err)
	assert.Equal(t, "sms-simulator", got.Name())

	_, err = registry.For(domain.NotificationType("push"))
	assert.ErrorIs(t, err, domain.ErrNoProviderForType)
}

func TestResilientAdapter_CircuitOpensAfterFailures(t *testing.T) {
	cfg := config.ProviderConfig{SendTimeout: time.Second, SimulatedLatency: 0, FailureRate: 1.0}
	circuitCfg := config.CircuitConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureRate: 0.5, MinRequests: 2}

	adapter := NewEmailAdapter(cfg, circuitCfg, testLogger())

	for i := 0; i < 3; i++ {
		_, _ = adapter.Send(context.Background(), domain.SendRequest{Recipient: "a@example.com", Body: "hi"})
	}

	assert.False(t, adapter.Healthy())

	_, err := adapter.Send(context.Background(), domain.SendRequest{Recipient: "a@example.com", Body: "hi"})
	assert.Error(t, err)
	var provErr domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, domain.ProviderUnavailable, provErr.Kind)
}
