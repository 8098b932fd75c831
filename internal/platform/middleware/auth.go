package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"limscore/pkg/domain"
)

// TokenValidator validates an access token and returns the actor it
// represents. internal/jwttoken provides the production implementation.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (domain.Actor, error)
}

type contextKeyActor struct{}

// ContextKeyActor is exported for tests that inject an authenticated actor.
var ContextKeyActor = contextKeyActor{}

// GetActor retrieves the authenticated actor from the context. The zero
// Actor means the request was not authenticated.
func GetActor(ctx context.Context) domain.Actor {
	actor, ok := ctx.Value(ContextKeyActor).(domain.Actor)
	if !ok {
		return domain.Actor{}
	}
	return actor
}

// WithActor injects an actor into the context; used by tests and by the
// auth middleware below.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// RequireAuth enforces a bearer token on every request it wraps and places
// the resulting actor in context for handlers.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w)
				return
			}

			actor, err := validator.ValidateToken(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}
