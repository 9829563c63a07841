package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/auth"
	"github.com/rpattn/entityapi/internal/domain"
)

// UserResolver turns a bearer token into the calling user.
type UserResolver interface {
	UserFromToken(ctx context.Context, token string) (*domain.User, error)
}

// RequestContextMiddleware builds the domain.RequestContext of every request.
// Requests without a token proceed anonymously; a rejected token is a 401.
func RequestContextMiddleware(users UserResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := &domain.RequestContext{
				Token:   auth.BearerToken(r),
				Headers: r.Header.Clone(),
			}
			if req.Token != "" {
				user, err := users.UserFromToken(r.Context(), req.Token)
				if err != nil {
					logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "the token is invalid or expired")
					return
				}
				req.User = user
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithRequest(r.Context(), req)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
