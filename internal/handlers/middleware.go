package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foldworks/inference-service/internal/models"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDHeader carries the authenticated user identity, set by the
// gateway that terminates authentication in front of this service.
const UserIDHeader = "X-User-ID"

// CallbackSecretHeader authenticates inbound provider callbacks and
// payment webhook deliveries.
const CallbackSecretHeader = "X-Callback-Secret"

// RequireUser rejects requests without a valid user identity header and
// stores the parsed user ID on the request context.
func RequireUser(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(UserIDHeader)
			if raw == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil {
				logger.Debug("Rejected request with malformed user identity header", zap.String("value", raw))
				writeErrorResponse(w, http.StatusUnauthorized, "Authentication required", models.ErrUnauthenticated)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSecret rejects requests whose callback-secret header does not
// match. An empty configured secret disables the check.
func RequireSecret(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				presented := r.Header.Get(CallbackSecretHeader)
				if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
					logger.Warn("Rejected callback with missing or wrong secret",
						zap.String("path", r.URL.Path),
						zap.String("remote", r.RemoteAddr),
					)
					writeErrorResponse(w, http.StatusUnauthorized, "Invalid callback secret", models.ErrUnauthenticated)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userIDFromContext returns the authenticated user ID set by RequireUser.
func userIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}
