package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// HTTPReindexer asks the search service to rebuild an entity's index document.
type HTTPReindexer struct {
	client *apiClient
}

// NewHTTPReindexer creates a reindex client for the search service at baseURL.
func NewHTTPReindexer(baseURL string, timeout time.Duration) *HTTPReindexer {
	return &HTTPReindexer{client: newAPIClient("search-api", baseURL, timeout)}
}

// Reindex requests a reindex of uuid.
func (r *HTTPReindexer) Reindex(ctx context.Context, token, uuid string) error {
	return r.client.request(ctx, http.MethodPut, "/reindex/"+url.PathEscape(uuid), token, nil, nil)
}

// NopReindexer drops reindex requests, for deployments without a search service.
type NopReindexer struct{}

// Reindex does nothing.
func (NopReindexer) Reindex(context.Context, string, string) error {
	return nil
}
