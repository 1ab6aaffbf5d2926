package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/annavaram/storefront/internal/apperr"
	"github.com/annavaram/storefront/internal/auth"
	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

type contextKey string

const (
	userKey   contextKey = "user"
	claimsKey contextKey = "claims"
)

// Authenticator resolves a bearer token to a user with a live session
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.User, *auth.AccessClaims, error)
}

// AuthMiddleware validates the bearer token, checks that its session is still
// live and attaches the user to the request context
func AuthMiddleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			user, claims, err := authenticator.Authenticate(r.Context(), tokenString)
			if err != nil {
				var appErr *apperr.Error
				if errors.As(err, &appErr) && appErr.Kind != apperr.Internal {
					respondWithError(w, appErr.Kind.Status(), appErr.Message)
					return
				}
				log.Printf("auth middleware: %v", err)
				respondWithError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, claims)))
		})
	}
}

// RequireRole rejects authenticated users whose role is not listed
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondWithError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// WithUser stores the authenticated user and token claims on ctx
func WithUser(ctx context.Context, user model.User, claims *auth.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, userKey, &user)
	return context.WithValue(ctx, claimsKey, claims)
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	u, ok := GetUser(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return u.ID, true
}

// GetSessionID extracts the session ID carried by the access token
func GetSessionID(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.AccessClaims)
	if !ok || c == nil {
		return uuid.Nil, false
	}
	return c.SessionID, true
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
