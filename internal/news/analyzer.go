// Package news fetches asset headlines and produces a short model
// commentary over them for the dashboard.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

const defaultHeadlineLimit = 10

// HeadlineProvider serves recent headlines for a symbol
type HeadlineProvider interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]string, error)
}

// CommentaryModel generates the headline commentary
type CommentaryModel interface {
	GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error)
}

// Analysis is headlines plus their one-paragraph reading
type Analysis struct {
	Asset      string    `json:"asset"`
	Headlines  []string  `json:"headlines"`
	Commentary string    `json:"commentary"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Analyzer fetches headlines and explains their likely market impact
type Analyzer struct {
	provider HeadlineProvider
	model    CommentaryModel
	cache    *redis.Cache
	logger   *logger.Logger
}

// NewAnalyzer creates a news analyzer
func NewAnalyzer(provider HeadlineProvider, model CommentaryModel, cache *redis.Cache, log *logger.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		model:    model,
		cache:    cache,
		logger:   log,
	}
}

var commentarySchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"comentario": map[string]interface{}{"type": "STRING"},
	},
	"required": []string{"comentario"},
}

const commentaryPrompt = `Eres un analista de mercados. Estos son los titulares más recientes sobre %s:

%s

Escribe un único párrafo en español explicando qué implican estos titulares para el precio del activo a corto plazo.
Responde únicamente con el JSON.`

// Analyze returns the latest headlines for an asset with a generated
// commentary, cached briefly so dashboard refreshes do not hammer the
// providers.
func (a *Analyzer) Analyze(ctx context.Context, asset string) (*Analysis, error) {
	symbol := strings.ReplaceAll(asset, "/", "")
	cacheKey := "news:analysis:" + symbol

	var cached Analysis
	if hit, err := a.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	headlines, err := a.provider.Headlines(ctx, symbol, defaultHeadlineLimit)
	if err != nil {
		return nil, fmt.Errorf("headline fetch failed: %w", err)
	}

	analysis := &Analysis{
		Asset:      asset,
		Headlines:  headlines,
		AnalyzedAt: time.Now().UTC(),
	}
	if len(headlines) == 0 {
		analysis.Commentary = "No hay titulares recientes para este activo."
		return analysis, nil
	}

	prompt := fmt.Sprintf(commentaryPrompt, asset, "- "+strings.Join(headlines, "\n- "))

	raw, err := a.model.GenerateJSON(ctx, prompt, commentarySchema)
	if err != nil {
		return nil, fmt.Errorf("commentary generation failed: %w", err)
	}

	var parsed struct {
		Commentary string `json:"comentario"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Commentary == "" {
		return nil, fmt.Errorf("commentary response is unusable: %v", err)
	}
	analysis.Commentary = parsed.Commentary

	if err := a.cache.Set(ctx, cacheKey, analysis, redis.TTLMedium); err != nil {
		a.logger.WithError(err).Warn("Failed to cache news analysis")
	}
	return analysis, nil
}
