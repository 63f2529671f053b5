package domain

import (
	"context"
	"time"
)

// SendRequest is what the worker pool hands to a provider Adapter. It is
// intentionally narrower than Notification: adapters never see internal
// bookkeeping fields (retry count, subscription, timestamps).
type SendRequest struct {
	NotificationID string
	Type           NotificationType
	Recipient      string
	Subject        string
	Body           string
	CorrelationID  string
}

// SendResult is the adapter's verdict on a single send attempt. Success
// and Permanent are orthogonal: Success=false, Permanent=true means
// "do not retry, fail now" (e.g. malformed recipient); Success=false,
// Permanent=false goes through the worker's standard retry policy, same
// as a transport-level error would.
type SendResult struct {
	Success          bool
	Permanent        bool
	ExternalID       string
	Message          string
	ProviderResponse string
	Timestamp        time.Time
}

// Adapter is the polymorphic provider interface (C3). Each concrete
// adapter wraps its own resilience pipeline (retry -> circuit breaker ->
// timeout, see internal/provider/adapter.go) so the worker pool never
// has to know which transport failed.
type Adapter interface {
	// Name identifies the adapter for logging and the circuit breaker
	// registry key.
	Name() string

	// Supports reports whether this adapter handles the given type.
	Supports(t NotificationType) bool

	// Send attempts delivery. A non-nil error is always transient
	// (network/timeout/circuit-open); permanent rejection is expressed
	// via SendResult{Success:false, Permanent:true}, not an error.
	Send(ctx context.Context, req SendRequest) (SendResult, error)

	// Healthy reports the adapter's circuit breaker state for the
	// health endpoint and metrics.
	Healthy() bool
}
