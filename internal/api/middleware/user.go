package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// UserIDHeader carries the caller identity set by the auth gateway in front of the API.
const UserIDHeader = "X-User-ID"

const maxUserIDLength = 128

type contextKey string

const userIDKey contextKey = "userID"

// UserRegistry registers callers on first sight.
type UserRegistry interface {
	EnsureUser(ctx context.Context, userID string) (model.User, error)
}

// UserContext resolves the caller from the X-User-ID header and stores the id in the
// request context. Requests without an id get 401; unknown ids are registered.
func UserContext(users UserRegistry, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				response.RespondError(w, http.StatusUnauthorized, "user id is required", "missing "+UserIDHeader+" header")
				return
			}
			if len(userID) > maxUserIDLength || strings.ContainsAny(userID, "\r\n") {
				response.RespondError(w, http.StatusBadRequest, "invalid user id", "")
				return
			}

			if _, err := users.EnsureUser(r.Context(), userID); err != nil {
				logger.Error().Err(err).Str("user_id", userID).Msg("failed to register user")
				response.RespondError(w, http.StatusInternalServerError, "failed to resolve user", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the caller id stored by UserContext, or "" outside of it.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
