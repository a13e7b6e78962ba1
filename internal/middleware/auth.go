package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	authsvc "github.com/zhouzirui/nova/internal/service/auth"
	"github.com/zhouzirui/nova/pkg/utils"
)

// TokenValidator checks a bearer token.
type TokenValidator interface {
	Validate(token string) (*authsvc.Claims, error)
}

type claimsKey struct{}

// Auth rejects requests without a valid bearer token. The token is read from
// the Authorization header, or from the token query parameter for clients
// like EventSource that cannot set headers.
func Auth(validator TokenValidator, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, authsvc.ErrExpiredToken) {
					msg = "token has expired"
				}
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected token")
				utils.RespondError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the claims Auth stored on the request context.
func ClaimsFrom(ctx context.Context) (*authsvc.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*authsvc.Claims)
	return claims, ok
}

// UserFrom returns the authenticated username, or "" when there is none.
func UserFrom(ctx context.Context) string {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.Subject
	}
	return ""
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
