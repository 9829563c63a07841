package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
)

func TestHTTPMinterCreateIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/uuid", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("entity_count"))

		var body mintRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SAMPLE", body.EntityType)
		assert.Equal(t, []string{"parent-1"}, body.ParentIDs)

		_ = json.NewEncoder(w).Encode([]domain.MintedID{
			{UUID: "u1", ExternalID: "SNT123.ABCD.001"},
			{UUID: "u2", ExternalID: "SNT123.ABCD.002"},
		})
	}))
	defer srv.Close()

	ids, err := NewHTTPMinter(srv.URL+"/", time.Second).CreateIDs(context.Background(), "Sample", []string{"parent-1"}, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "u2", ids[1].UUID)
}

func TestHTTPMinterReportsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "parent not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPMinter(srv.URL, time.Second).CreateIDs(context.Background(), "Sample", nil, 1)
	var mintErr *domain.MintError
	require.True(t, errors.As(err, &mintErr))
	assert.Equal(t, http.StatusNotFound, mintErr.StatusCode)
	assert.Equal(t, "parent not found", mintErr.Message)
}

func TestHTTPMinterRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewHTTPMinter(srv.URL, time.Second).CreateIDs(context.Background(), "Source", nil, 1)
	var mintErr *domain.MintError
	require.True(t, errors.As(err, &mintErr))
	assert.Equal(t, http.StatusBadGateway, mintErr.StatusCode)
}

func TestLocalMinterIssuesUniqueIDs(t *testing.T) {
	m := NewLocalMinter("")
	ids, err := m.CreateIDs(context.Background(), "Sample", nil, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	seen := map[string]bool{}
	for _, id := range ids {
		assert.Len(t, id.UUID, 32)
		assert.False(t, seen[id.UUID])
		seen[id.UUID] = true
		assert.True(t, strings.HasPrefix(id.ExternalID, "SNT000.SAMP."), id.ExternalID)
	}
	assert.Equal(t, "SNT000.SAMP.003", ids[2].ExternalID)
}

func TestHTTPAuthProvider(t *testing.T) {
	var groupCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"sub":"s1","email":"a@b.org","name":"A B","hmgroupids":["g1"]}`))
		case "/groups":
			groupCalls.Add(1)
			_, _ = w.Write([]byte(`[{"uuid":"g1","displayname":"Lab","data_provider":true}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPAuthProvider(srv.URL, time.Second)
	ctx := context.Background()

	user, err := p.UserFromToken(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "s1", user.Sub)
	assert.Equal(t, "A B", user.DisplayName)
	assert.True(t, user.InGroup("G1"))

	_, err = p.UserFromToken(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = p.UserFromToken(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	for i := 0; i < 3; i++ {
		groups, err := p.Groups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.True(t, groups[0].DataProvider)
	}
	assert.Equal(t, int32(1), groupCalls.Load())
}

func TestHTTPFileService(t *testing.T) {
	var removed removeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/file-commit":
			var req commitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(domain.FileInfo{FileUUID: "f-" + req.TempFileID, Filename: "img.png"})
		case "/file-remove":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&removed))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s := NewHTTPFileService(srv.URL, time.Second)
	info, err := s.Commit(context.Background(), "tok", "tmp1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "f-tmp1", info.FileUUID)

	require.NoError(t, s.Remove(context.Background(), "tok", "e1", []string{"f-tmp1"}))
	assert.Equal(t, removeRequest{EntityUUID: "e1", FileUUIDs: []string{"f-tmp1"}}, removed)
}

func TestLocalFileService(t *testing.T) {
	s := NewLocalFileService()
	info, err := s.Commit(context.Background(), "", "tmp", "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Remove(context.Background(), "", "e1", []string{info.FileUUID, "unknown"}))
	assert.Zero(t, s.Len())

	_, err = s.Commit(context.Background(), "", "", "e1")
	assert.Error(t, err)
}

func TestHTTPReindexerPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if r.URL.Path == "/reindex/ok" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPReindexer(srv.URL, time.Second)
	require.NoError(t, r.Reindex(context.Background(), "", "ok"))

	err := r.Reindex(context.Background(), "", "broken")
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
}

func TestStaticOntology(t *testing.T) {
	o := NewStaticOntology()
	name, ok := o.OrganName(" lv ")
	assert.True(t, ok)
	assert.Equal(t, "Liver", name)

	_, ok = o.OrganName("ZZ")
	assert.False(t, ok)
	assert.Contains(t, o.SampleCategories(), "organ")
	assert.Contains(t, o.DatasetStatuses(), "Published")
}
