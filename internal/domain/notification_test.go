package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNotificationType_IsValid(t *testing.T) {
	tests := []struct {
		name string
		typ  NotificationType
		want bool
	}{
		{"valid email", TypeEmail, true},
		{"valid sms", TypeSms, true},
		{"invalid type", NotificationType("push"), false},
		{"empty type", NotificationType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.IsValid())
		})
	}
}

func TestPriority_Class(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     QueueClass
	}{
		{"critical collapses to high", PriorityCritical, QueueClassHigh},
		{"high stays high", PriorityHigh, QueueClassHigh},
		{"normal stays normal", PriorityNormal, QueueClassNormal},
		{"low stays low", PriorityLow, QueueClassLow},
		{"invalid defaults to normal", Priority("invalid"), QueueClassNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.priority.Class())
		})
	}
}

func TestNewNotification(t *testing.T) {
	userID := uuid.New()
	subID := uuid.New()
	recipient := "+905551234567"

	n := NewNotification(userID, subID, TypeSms, recipient)

	assert.NotNil(t, n)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, userID, n.UserID)
	assert.Equal(t, subID, n.SubscriptionID)
	assert.Equal(t, recipient, n.Recipient)
	assert.Equal(t, TypeSms, n.Type)
	assert.Equal(t, PriorityNormal, n.Priority)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, DefaultMaxRetries, n.MaxRetries)
	assert.NotZero(t, n.CreatedAt)
	assert.NotZero(t, n.UpdatedAt)
}

func TestNotification_CanCancel(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending can cancel", StatusPending, true},
		{"processing cannot cancel", StatusProcessing, false},
		{"retrying cannot cancel", StatusRetrying, false},
		{"sent cannot cancel", StatusSent, false},
		{"delivered cannot cancel", StatusDelivered, false},
		{"failed cannot cancel", StatusFailed, false},
		{"cancelled cannot cancel", StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNotification(uuid.New(), uuid.New(), TypeSms, "test")
			n.Status = tt.status
			assert.Equal(t, tt.want, n.CanCancel())
		})
	}
}

func TestNotification_TransitionTo_Valid(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), TypeSms, "+905551234567")
	originalUpdatedAt := n.UpdatedAt
	time.Sleep(time.Millisecond)

	assert.NoError(t, n.MarkProcessing())
	assert.Equal(t, StatusProcessing, n.Status)
	assert.True(t, n.UpdatedAt.After(originalUpdatedAt))

	assert.NoError(t, n.MarkSent("ext-123"))
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, "ext-123", *n.ExternalID)
	assert.NotNil(t, n.SentAt)

	assert.NoError(t, n.MarkDelivered())
	assert.Equal(t, StatusDelivered, n.Status)
	assert.NotNil(t, n.DeliveredAt)
}

func TestNotification_TransitionTo_Invalid(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), TypeSms, "+905551234567")

	err := n.TransitionTo(StatusSent) // Pending -> Sent skips Processing
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, n.Status)
}

func TestNotification_TerminalStatusRejectsFurtherTransitions(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), TypeSms, "+905551234567")
	assert.NoError(t, n.MarkCancelled())
	assert.True(t, n.Status.IsTerminal())

	err := n.MarkProcessing()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNotification_MarkRetrying_IncrementsRetryCount(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), TypeSms, "+905551234567")
	assert.NoError(t, n.MarkProcessing())
	assert.Equal(t, 0, n.RetryCount)

	assert.NoError(t, n.MarkRetrying("timeout"))
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, StatusRetrying, n.Status)
	assert.Equal(t, "timeout", *n.LastError)

	assert.NoError(t, n.ReleaseForRetry())
	assert.Equal(t, StatusPending, n.Status)
}

func TestNotification_MarkFailed(t *testing.T) {
	n := NewNotification(uuid.New(), uuid.New(), TypeSms, "+905551234567")
	assert.NoError(t, n.MarkProcessing())
	assert.NoError(t, n.MarkFailed("provider rejected recipient"))

	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "provider rejected recipient", *n.LastError)
	assert.True(t, n.Status.IsTerminal())
}

func TestValidateContent_SmsBoundary(t *testing.T) {
	ok := make([]byte, MaxSmsBodyLen)
	for i := range ok {
		ok[i] = 'a'
	}
	assert.NoError(t, ValidateContent(TypeSms, string(ok)))

	tooLong := make([]byte, MaxSmsBodyLen+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	assert.Error(t, ValidateContent(TypeSms, string(tooLong)))
}

func TestValidateContent_EmailBoundary(t *testing.T) {
	assert.NoError(t, ValidateContent(TypeEmail, "short body"))

	tooLong := make([]byte, MaxEmailBodyLen+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	assert.Error(t, ValidateContent(TypeEmail, string(tooLong)))
}
