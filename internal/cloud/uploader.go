// Package cloud uploads large attachments to a file sharing service and
// returns shareable links for them.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	ErrUnavailable = errors.New("cloud storage unavailable")
	ErrUpload      = errors.New("cloud upload failed")
)

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// HTTPUploader talks to the storage REST API with an OAuth2 client
// credentials token.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPUploader(ctx context.Context, cfg Config, logger *zap.Logger) (*HTTPUploader, error) {
	if cfg.BaseURL == "" || cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, errors.New("base url, token url and client id are required")
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	client := cc.Client(ctx)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}

	return &HTTPUploader{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		log:     logger.Named("cloud"),
	}, nil
}

// IsAvailable checks the health endpoint. A token failure counts as
// unavailable.
func (u *HTTPUploader) IsAvailable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: health returned %s", ErrUnavailable, resp.Status)
	}
	return true, nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

type shareRequest struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
}

type shareResponse struct {
	Link string `json:"link"`
}

// UploadAndLink uploads the file at path and creates a share link of the
// given type for recipient.
func (u *HTTPUploader) UploadAndLink(ctx context.Context, path, shareType, recipient string) (string, error) {
	id, err := u.upload(ctx, path)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(shareRequest{Type: shareType, Recipient: recipient})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/files/"+url.PathEscape(id)+"/share", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var share shareResponse
	if err := u.doJSON(req, &share); err != nil {
		return "", err
	}
	if share.Link == "" {
		return "", fmt.Errorf("%w: empty share link for %s", ErrUpload, id)
	}

	u.log.Info("file shared",
		zap.String("file", filepath.Base(path)),
		zap.String("share_type", shareType),
	)
	return share.Link, nil
}

func (u *HTTPUploader) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/files", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var up uploadResponse
	if err := u.doJSON(req, &up); err != nil {
		pr.Close()
		return "", err
	}
	if up.ID == "" {
		return "", fmt.Errorf("%w: no file id returned", ErrUpload)
	}
	return up.ID, nil
}

func (u *HTTPUploader) doJSON(req *http.Request, out any) error {
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", ErrUpload, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}
	return nil
}
