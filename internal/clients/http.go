// Package clients holds the collaborators the engine reaches over the network:
// identity minting, the authorization provider, the file service and the search
// indexer. Each has an HTTP implementation and an in-process one for local runs
// and tests.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every upstream request unless configured otherwise.
const DefaultTimeout = 20 * time.Second

// StatusError is returned when an upstream service answers with a 4xx/5xx.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (%d): %s", e.Service, e.StatusCode, e.Body)
}

type apiClient struct {
	service    string
	httpClient *http.Client
	baseURL    string
}

func newAPIClient(service, baseURL string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &apiClient{
		service:    service,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *apiClient) request(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", c.service, err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", c.service, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.service, err)
	}
	return nil
}
