package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/entityapi/internal/domain"
)

// HTTPMinter requests identifiers from the uuid service.
type HTTPMinter struct {
	client *apiClient
}

// NewHTTPMinter creates a minter for the uuid service at baseURL.
func NewHTTPMinter(baseURL string, timeout time.Duration) *HTTPMinter {
	return &HTTPMinter{client: newAPIClient("uuid-api", baseURL, timeout)}
}

type mintRequest struct {
	EntityType string   `json:"entity_type"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
}

// CreateIDs mints count identifier pairs for class. Upstream failures are
// reported as *domain.MintError carrying the upstream status.
func (m *HTTPMinter) CreateIDs(ctx context.Context, class string, parentIDs []string, count int) ([]domain.MintedID, error) {
	if count <= 0 {
		count = 1
	}
	path := "/uuid?entity_count=" + strconv.Itoa(count)
	var ids []domain.MintedID
	err := m.client.request(ctx, http.MethodPost, path, "", mintRequest{EntityType: strings.ToUpper(class), ParentIDs: parentIDs}, &ids)
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) {
			return nil, &domain.MintError{StatusCode: status.StatusCode, Message: status.Body}
		}
		return nil, &domain.MintError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	if len(ids) != count {
		return nil, &domain.MintError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("expected %d ids, got %d", count, len(ids)),
		}
	}
	return ids, nil
}

// LocalMinter issues random uuids and sequential public ids in process.
type LocalMinter struct {
	prefix string
	mu     sync.Mutex
	next   int
}

// NewLocalMinter creates an in-process minter whose public ids start with prefix.
func NewLocalMinter(prefix string) *LocalMinter {
	if prefix == "" {
		prefix = "SNT"
	}
	return &LocalMinter{prefix: prefix}
}

// CreateIDs mints count identifier pairs.
func (m *LocalMinter) CreateIDs(_ context.Context, class string, _ []string, count int) ([]domain.MintedID, error) {
	if count <= 0 {
		count = 1
	}
	tag := strings.ToUpper(class)
	if len(tag) > 4 {
		tag = tag[:4]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MintedID, 0, count)
	for i := 0; i < count; i++ {
		m.next++
		out = append(out, domain.MintedID{
			UUID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
			ExternalID: fmt.Sprintf("%s%03d.%s.%03d", m.prefix, m.next/1000, tag, m.next%1000),
		})
	}
	return out, nil
}
