// Package storage fetches user-uploaded chart screenshots from the
// object storage service.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Downloader retrieves an object by its bucket-relative path
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, string, error)
}

// Client implements Downloader against a Supabase-style storage API
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	serviceKey string
	bucket     string
}

// NewClient creates a new object storage client
func NewClient(cfg config.StorageConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		baseURL:    cfg.BaseURL,
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
	}
}

// Download fetches the object bytes and their content type. The
// content type is passed through to the vision model so screenshots
// keep their original encoding.
func (c *Client) Download(ctx context.Context, path string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("object %s not found", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code %d for object %s", resp.StatusCode, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	c.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Downloaded object")

	return data, contentType, nil
}
