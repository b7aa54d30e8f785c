// Package gemini is the client for the vision/generation model API.
// All model inference calls go through this client.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Client handles communication with the Gemini generateContent API
type Client struct {
	httpClient      *httputil.Client
	logger          *logger.Logger
	apiKey          string
	baseURL         string
	visionModel     string
	generationModel string
}

// NewClient creates a new Gemini client
func NewClient(cfg config.GeminiConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient:      httpClient,
		logger:          log,
		apiKey:          cfg.APIKey,
		baseURL:         cfg.BaseURL,
		visionModel:     cfg.VisionModel,
		generationModel: cfg.GenerationModel,
	}
}

// Part is one element of a multimodal prompt
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData carries base64-encoded binary content
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// TextPart builds a text prompt part
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart builds an inline image part from raw bytes
func ImagePart(mimeType string, data []byte) Part {
	return Part{InlineData: &InlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []Part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string                 `json:"responseMimeType"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateVisionJSON runs the multimodal extraction model and returns
// the raw JSON text it produced. The caller owns parsing and schema
// validation; a malformed document is the caller's validation failure,
// not a retryable transport error.
func (c *Client) GenerateVisionJSON(ctx context.Context, parts []Part, schema map[string]interface{}) (string, error) {
	return c.generate(ctx, c.visionModel, parts, schema)
}

// GenerateJSON runs the text generation model and returns the raw JSON
// text it produced.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error) {
	return c.generate(ctx, c.generationModel, []Part{TextPart(prompt)}, schema)
}

func (c *Client) generate(ctx context.Context, model string, parts []Part, schema map[string]interface{}) (string, error) {
	payload := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)

	resp, err := c.httpClient.PostJSON(ctx, url, payload)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode model response envelope: %w", err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model response has no candidates")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
