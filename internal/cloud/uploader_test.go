package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStorage struct {
	healthy    bool
	failUpload bool
	uploaded   []string
	shares     []shareRequest
}

func (f *fakeStorage) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /health", authed(func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("POST /files", authed(func(w http.ResponseWriter, r *http.Request) {
		if f.failUpload {
			http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
			return
		}
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		f.uploaded = append(f.uploaded, header.Filename)
		_ = json.NewEncoder(w).Encode(uploadResponse{ID: "file-1"})
	}))
	mux.HandleFunc("POST /files/{id}/share", authed(func(w http.ResponseWriter, r *http.Request) {
		var req shareRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.shares = append(f.shares, req)
		_ = json.NewEncoder(w).Encode(shareResponse{Link: "https://share.test/" + r.PathValue("id")})
	}))
	return mux
}

func newTestUploader(t *testing.T, storage *fakeStorage) *HTTPUploader {
	t.Helper()
	srv := httptest.NewServer(storage.handler(t))
	t.Cleanup(srv.Close)

	u, err := NewHTTPUploader(context.Background(), Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
		ClientID:     "mailer",
		ClientSecret: "secret",
	}, zap.NewNop())
	require.NoError(t, err)
	return u
}

func TestNewHTTPUploader_RequiresConfig(t *testing.T) {
	_, err := NewHTTPUploader(context.Background(), Config{BaseURL: "http://x"}, zap.NewNop())
	assert.Error(t, err)
}

func TestHTTPUploader_IsAvailable(t *testing.T) {
	storage := &fakeStorage{healthy: true}
	u := newTestUploader(t, storage)

	ok, err := u.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	storage.healthy = false
	ok, err = u.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPUploader_UploadAndLink(t *testing.T) {
	storage := &fakeStorage{healthy: true}
	u := newTestUploader(t, storage)

	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip-bytes"), 0o644))

	link, err := u.UploadAndLink(context.Background(), path, "anyone", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "https://share.test/file-1", link)
	assert.Equal(t, []string{"bundle.zip"}, storage.uploaded)
	require.Len(t, storage.shares, 1)
	assert.Equal(t, shareRequest{Type: "anyone", Recipient: "a@x.com"}, storage.shares[0])
}

func TestHTTPUploader_UploadFailure(t *testing.T) {
	storage := &fakeStorage{healthy: true, failUpload: true}
	u := newTestUploader(t, storage)

	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip-bytes"), 0o644))

	_, err := u.UploadAndLink(context.Background(), path, "anyone", "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpload)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHTTPUploader_MissingFile(t *testing.T) {
	u := newTestUploader(t, &fakeStorage{healthy: true})

	_, err := u.UploadAndLink(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), "anyone", "")
	assert.ErrorIs(t, err, ErrUpload)
}
