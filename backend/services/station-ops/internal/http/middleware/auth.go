package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorIDKey contextKey = "actorID"

// Auth validates bearer JWTs signed with secret and stores the caller id in the context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			token, err := jwt.Parse(strings.TrimSpace(parts[1]), func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenInvalidClaims
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}
			actorID, err := extractActorID(claims)
			if err != nil {
				http.Error(w, "user id not found", http.StatusUnauthorized)
				return
			}

			ctx := WithActorID(r.Context(), actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractActorID prefers user_id and falls back to the registered subject.
func extractActorID(claims jwt.MapClaims) (string, error) {
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("user_id not present")
}

// WithActorID stores the caller id in ctx.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorIDFromContext retrieves the caller id set by Auth.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorIDKey).(string)
	return id, ok && id != ""
}

// Chain wraps h with middlewares, the first one outermost. Nil entries are skipped.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}
