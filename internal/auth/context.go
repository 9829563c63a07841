package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rpattn/entityapi/internal/domain"
)

type contextKey string

const requestContextKey contextKey = "requestContext"

// ContextWithRequest returns a new context that carries the caller's request context.
func ContextWithRequest(ctx context.Context, req *domain.RequestContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestContextKey, req)
}

// RequestFromContext retrieves the request context, if any.
func RequestFromContext(ctx context.Context) (*domain.RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	req, ok := ctx.Value(requestContextKey).(*domain.RequestContext)
	if !ok || req == nil {
		return nil, false
	}
	return req, true
}

// BearerToken extracts the token from an Authorization header. An empty string
// means the request is anonymous.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
