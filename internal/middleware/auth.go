package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

type subscriptionIDKey struct{}

// SubscriptionLookup resolves the hashed API key presented in
// X-Subscription-Key to the owning subscription.
type SubscriptionLookup interface {
	GetByKeyHash(ctx context.Context, keyHash string) (*domain.Subscription, error)
}

// Auth authenticates every request by its X-Subscription-Key header,
// resolving it to a subscription and stashing the subscription ID in the
// request context for handlers and the Intake Service to use.
func Auth(lookup SubscriptionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Subscription-Key")
			if key == "" {
				http.Error(w, "missing X-Subscription-Key header", http.StatusUnauthorized)
				return
			}

			sub, err := lookup.GetByKeyHash(r.Context(), hashKey(key))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, "invalid API key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "failed to authenticate request", http.StatusInternalServerError)
				return
			}
			if !sub.IsActive() {
				http.Error(w, "subscription is not active", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), subscriptionIDKey{}, sub.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SubscriptionID retrieves the authenticated subscription ID from
// context. Only valid on requests that passed through Auth.
func SubscriptionID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(subscriptionIDKey{}).(uuid.UUID)
	return id, ok
}
