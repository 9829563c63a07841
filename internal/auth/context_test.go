package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
)

func TestRequestContextRoundTrip(t *testing.T) {
	_, ok := RequestFromContext(context.Background())
	assert.False(t, ok)

	req := &domain.RequestContext{Token: "tok"}
	got, ok := RequestFromContext(ContextWithRequest(context.Background(), req))
	require.True(t, ok)
	assert.Same(t, req, got)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer   abc  ": "abc",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
	}
	for header, want := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), "header %q", header)
	}
}
