// Package translate is the client for the batch text-translation API
// used by the calendar refresh job.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
)

// batchSize is the provider's maximum texts per request
const batchSize = 128

// Client handles communication with the translation API
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
	target     string
}

// NewClient creates a new translation client
func NewClient(cfg config.TranslateConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		target:     cfg.Target,
	}
}

type translateRequest struct {
	Q      []string `json:"q"`
	Target string   `json:"target"`
	Source string   `json:"source"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate translates texts in provider-sized batches. A failed batch
// falls back to the untranslated originals rather than failing the
// whole job; calendar refresh prefers stale English over no calendar.
func (c *Client) Translate(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.apiKey == "" {
		c.logger.Warn("Translation API key not configured, returning originals")
		return texts, nil
	}

	translated := make([]string, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		result, err := c.translateBatch(ctx, batch)
		if err != nil {
			c.logger.WithError(err).Warn("Translation batch failed, keeping originals")
			translated = append(translated, batch...)
			continue
		}
		translated = append(translated, result...)
	}

	return translated, nil
}

func (c *Client) translateBatch(ctx context.Context, batch []string) ([]string, error) {
	url := fmt.Sprintf("%s/language/translate/v2?key=%s", c.baseURL, c.apiKey)

	resp, err := c.httpClient.PostJSON(ctx, url, translateRequest{
		Q:      batch,
		Target: c.target,
		Source: "en",
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var parsed translateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.Data.Translations) != len(batch) {
		return nil, fmt.Errorf("expected %d translations, got %d", len(batch), len(parsed.Data.Translations))
	}

	result := make([]string, len(batch))
	for i, t := range parsed.Data.Translations {
		result[i] = t.TranslatedText
	}
	return result, nil
}
