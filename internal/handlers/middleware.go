package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/domain"
)

type ctxKey struct{}

type MiddlewareProvider struct {
	jwtService primary.JWTService
}

func New(jwtService primary.JWTService) *MiddlewareProvider {
	return &MiddlewareProvider{
		jwtService: jwtService,
	}
}

// JWTMiddleware lets through bearer tokens that carry the admin permission
func (m *MiddlewareProvider) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			ResponseError(w, "Authorization header missing", http.StatusUnauthorized)
			return
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		valid, err := m.jwtService.VerifyTokenHMAC(r.Context(), tokenString, jwt.SigningMethodHS256.Name)
		if err != nil || !valid {
			ResponseError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		payload, err := m.jwtService.DecodeTokenPayload(r.Context(), tokenString)
		if err != nil {
			ResponseError(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if !payload.Can(domain.PermissionAdmin) {
			ResponseError(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, payload)))
	})
}

// Caller returns the authenticated payload stored by JWTMiddleware
func Caller(ctx context.Context) (domain.AuthPayload, bool) {
	p, ok := ctx.Value(ctxKey{}).(domain.AuthPayload)
	return p, ok
}
