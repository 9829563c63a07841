package clients

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/entityapi/internal/domain"
)

// HTTPFileService commits and removes files through the ingest file service.
type HTTPFileService struct {
	client *apiClient
}

// NewHTTPFileService creates a file service client for baseURL.
func NewHTTPFileService(baseURL string, timeout time.Duration) *HTTPFileService {
	return &HTTPFileService{client: newAPIClient("file-service", baseURL, timeout)}
}

type commitRequest struct {
	TempFileID string `json:"temp_file_id"`
	EntityUUID string `json:"entity_uuid"`
}

type removeRequest struct {
	EntityUUID string   `json:"entity_uuid"`
	FileUUIDs  []string `json:"file_uuids"`
}

// Commit moves a temporary upload into the entity's permanent storage.
func (s *HTTPFileService) Commit(ctx context.Context, token, tempFileID, entityUUID string) (domain.FileInfo, error) {
	var info domain.FileInfo
	err := s.client.request(ctx, http.MethodPost, "/file-commit", token, commitRequest{TempFileID: tempFileID, EntityUUID: entityUUID}, &info)
	if err != nil {
		return domain.FileInfo{}, err
	}
	return info, nil
}

// Remove deletes committed files from the entity's storage.
func (s *HTTPFileService) Remove(ctx context.Context, token, entityUUID string, fileUUIDs []string) error {
	return s.client.request(ctx, http.MethodPost, "/file-remove", token, removeRequest{EntityUUID: entityUUID, FileUUIDs: fileUUIDs}, nil)
}

// LocalFileService tracks committed files in memory.
type LocalFileService struct {
	mu    sync.Mutex
	files map[string]domain.FileInfo
}

// NewLocalFileService creates an empty in-memory file service.
func NewLocalFileService() *LocalFileService {
	return &LocalFileService{files: make(map[string]domain.FileInfo)}
}

// Commit records the temporary file under a fresh file uuid.
func (s *LocalFileService) Commit(_ context.Context, _ string, tempFileID, _ string) (domain.FileInfo, error) {
	if tempFileID == "" {
		return domain.FileInfo{}, fmt.Errorf("temp file id is required")
	}
	info := domain.FileInfo{FileUUID: uuid.NewString(), Filename: tempFileID}
	s.mu.Lock()
	s.files[info.FileUUID] = info
	s.mu.Unlock()
	return info, nil
}

// Remove forgets the given files. Unknown ids are ignored.
func (s *LocalFileService) Remove(_ context.Context, _ string, _ string, fileUUIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range fileUUIDs {
		delete(s.files, id)
	}
	return nil
}

// Len reports how many files are committed.
func (s *LocalFileService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
