package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/fintrack-insights/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	callerIDKey   contextKey = "callerID"
	callerRoleKey contextKey = "callerRole"
)

// RoleOperator is the token role allowed to run batch jobs over all users.
const RoleOperator = "operator"

// tokenClaims are the registered claims plus an optional role.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTAuthMiddleware validates HS256 Bearer tokens and injects the token
// subject into the request context.
func JWTAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := validateToken(parts[1], secret)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), callerIDKey, claims.Subject)
			ctx = context.WithValue(ctx, callerRoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(tokenString string, secret []byte) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return claims, nil
}

// RequireRoleMiddleware rejects authenticated callers whose token does not
// carry role.
func RequireRoleMiddleware(role string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(callerRoleKey).(string); got != role {
				handleServiceError(w, &domain.ErrForbidden{Action: "requires role " + role}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDMiddleware validates the {userId} path parameter and, when the
// request is authenticated, requires it to match the caller.
func UserIDMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := chi.URLParam(r, "userId")
			if _, err := uuid.Parse(userID); err != nil {
				writeError(w, http.StatusBadRequest, "userId must be a UUID")
				return
			}

			if caller := CallerIDFromContext(r.Context()); caller != "" && caller != userID {
				handleServiceError(w, &domain.ErrForbidden{Action: "access another user's analytics"}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerIDFromContext extracts the authenticated user ID from context.
func CallerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(callerIDKey).(string)
	return v
}
