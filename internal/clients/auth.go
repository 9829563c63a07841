package clients

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rpattn/entityapi/internal/domain"
)

// ErrInvalidToken is returned when the authorization provider rejects a token.
var ErrInvalidToken = errors.New("invalid or expired token")

// HTTPAuthProvider resolves callers and groups against the authorization
// service. The group list changes rarely and is held for groupTTL.
type HTTPAuthProvider struct {
	client   *apiClient
	groupTTL time.Duration

	mu       sync.Mutex
	groups   []domain.Group
	loadedAt time.Time
}

// NewHTTPAuthProvider creates a provider for the authorization service at baseURL.
func NewHTTPAuthProvider(baseURL string, timeout time.Duration) *HTTPAuthProvider {
	return &HTTPAuthProvider{
		client:   newAPIClient("auth", baseURL, timeout),
		groupTTL: 10 * time.Minute,
	}
}

type userInfo struct {
	Sub        string   `json:"sub"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	GroupUUIDs []string `json:"hmgroupids"`
	DataAdmin  bool     `json:"data_admin"`
}

// UserFromToken returns the caller identified by token.
func (p *HTTPAuthProvider) UserFromToken(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var info userInfo
	if err := p.client.request(ctx, http.MethodGet, "/userinfo", token, nil, &info); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return &domain.User{
		Sub:         info.Sub,
		Email:       info.Email,
		DisplayName: info.Name,
		GroupUUIDs:  info.GroupUUIDs,
		DataAdmin:   info.DataAdmin,
	}, nil
}

// Groups returns every group known to the authorization service.
func (p *HTTPAuthProvider) Groups(ctx context.Context) ([]domain.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.groups != nil && time.Since(p.loadedAt) < p.groupTTL {
		return p.groups, nil
	}
	var groups []domain.Group
	if err := p.client.request(ctx, http.MethodGet, "/groups", "", nil, &groups); err != nil {
		return nil, err
	}
	p.groups = groups
	p.loadedAt = time.Now()
	return groups, nil
}

// StaticAuthProvider serves a fixed token table and group list.
type StaticAuthProvider struct {
	Users     map[string]*domain.User
	GroupList []domain.Group
}

// UserFromToken looks the token up in the table.
func (p *StaticAuthProvider) UserFromToken(_ context.Context, token string) (*domain.User, error) {
	user, ok := p.Users[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// Groups returns the configured groups.
func (p *StaticAuthProvider) Groups(context.Context) ([]domain.Group, error) {
	return p.GroupList, nil
}
