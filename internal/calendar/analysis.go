package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/internal/schema"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

// historicalReleaseLimit bounds how many past releases feed the prompt
const historicalReleaseLimit = 12

// HistoryProvider serves past releases for a currency
type HistoryProvider interface {
	HistoricalCalendar(ctx context.Context, currency string) ([]fmp.HistoricalEvent, error)
}

// AnalysisStore is the write-once cache behind the redis layer
type AnalysisStore interface {
	GetAnalysis(ctx context.Context, eventName, currency string, date time.Time) (*contracts.EventAnalysis, error)
	SaveAnalysis(ctx context.Context, eventName, currency string, date time.Time, analysis *contracts.EventAnalysis) error
}

// Analyzer generates and caches per-event deep analyses. Lookup order
// is redis, then the database, then one model call whose result is
// persisted write-once so every user asking about the same event
// instance reads the same analysis.
type Analyzer struct {
	history HistoryProvider
	model   DescriptionModel
	store   AnalysisStore
	cache   *redis.Cache
	logger  *logger.Logger
}

// NewAnalyzer creates an event analyzer
func NewAnalyzer(history HistoryProvider, model DescriptionModel, store AnalysisStore, cache *redis.Cache, log *logger.Logger) *Analyzer {
	return &Analyzer{
		history: history,
		model:   model,
		store:   store,
		cache:   cache,
		logger:  log,
	}
}

var analysisManifest = schema.Manifest{
	"professional_description": {Kind: schema.String, Required: true},
	"historical_analysis":      {Kind: schema.String, Required: true},
	"forecast_scenarios":       {Kind: schema.Array, Required: true},
}

var analysisSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"professional_description": map[string]interface{}{"type": "STRING"},
		"historical_analysis":      map[string]interface{}{"type": "STRING"},
		"forecast_scenarios": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"scenario":       map[string]interface{}{"type": "STRING"},
					"recommendation": map[string]interface{}{"type": "STRING"},
				},
				"required": []string{"scenario", "recommendation"},
			},
		},
	},
	"required": []string{"professional_description", "historical_analysis", "forecast_scenarios"},
}

const analysisPrompt = `Eres un analista macroeconómico. Analiza en profundidad el siguiente evento del calendario económico.

Evento: %s
Divisa: %s
Fecha: %s

Publicaciones históricas recientes (fecha, actual, previsión):
%s

Elabora, en español:
- "professional_description": qué mide el evento y su mecanismo de transmisión al mercado.
- "historical_analysis": cómo han sorprendido las últimas publicaciones y qué patrón muestran.
- "forecast_scenarios": escenarios de publicación (mejor/peor/en línea con lo previsto) con una recomendación operativa para cada uno.
Responde únicamente con el JSON.`

// GetOrGenerate returns the analysis for one event instance
func (a *Analyzer) GetOrGenerate(ctx context.Context, eventName, currency string, date time.Time) (*contracts.EventAnalysis, error) {
	day := date.Format("2006-01-02")
	cacheKey := redis.EventAnalysisKey(eventName, currency, day)

	var cached contracts.EventAnalysis
	if hit, err := a.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	stored, err := a.store.GetAnalysis(ctx, eventName, currency, date)
	if err == nil {
		a.cacheAnalysis(ctx, cacheKey, stored)
		return stored, nil
	}
	if !errors.Is(err, ErrAnalysisNotFound) {
		return nil, err
	}

	analysis, err := a.generate(ctx, eventName, currency, day)
	if err != nil {
		return nil, err
	}

	if err := a.store.SaveAnalysis(ctx, eventName, currency, date, analysis); err != nil {
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}

	// Re-read so a lost write-once race still returns the canonical row.
	canonical, err := a.store.GetAnalysis(ctx, eventName, currency, date)
	if err != nil {
		canonical = analysis
	}

	a.cacheAnalysis(ctx, cacheKey, canonical)
	return canonical, nil
}

func (a *Analyzer) cacheAnalysis(ctx context.Context, key string, analysis *contracts.EventAnalysis) {
	if err := a.cache.Set(ctx, key, analysis, redis.TTLDaily); err != nil {
		a.logger.WithError(err).Warn("Failed to cache event analysis")
	}
}

func (a *Analyzer) generate(ctx context.Context, eventName, currency, day string) (*contracts.EventAnalysis, error) {
	history, err := a.history.HistoricalCalendar(ctx, currency)
	if err != nil {
		a.logger.WithError(err).WithField("currency", currency).Warn("Historical calendar unavailable")
		history = nil
	}

	prompt := fmt.Sprintf(analysisPrompt, eventName, currency, day, formatHistory(eventName, history))

	raw, err := a.model.GenerateJSON(ctx, prompt, analysisSchema)
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}

	return parseAnalysis(raw)
}

// formatHistory renders the past releases of this event for the prompt
func formatHistory(eventName string, history []fmp.HistoricalEvent) string {
	var lines []string
	for _, h := range history {
		if !strings.EqualFold(h.Event, eventName) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: actual %s, previsión %s",
			h.Date, orDash(h.Actual), orDash(h.Estimate)))
		if len(lines) == historicalReleaseLimit {
			break
		}
	}
	if len(lines) == 0 {
		return "(sin datos históricos disponibles)"
	}
	return strings.Join(lines, "\n")
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func parseAnalysis(raw string) (*contracts.EventAnalysis, error) {
	var candidate map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, fmt.Errorf("analysis response is not valid JSON: %w", err)
	}

	res := schema.Validate(candidate, analysisManifest)
	if !res.Valid {
		return nil, fmt.Errorf("invalid analysis response: %s", strings.Join(res.Errors, "; "))
	}

	sanitized, err := json.Marshal(res.Sanitized)
	if err != nil {
		return nil, err
	}

	var analysis contracts.EventAnalysis
	if err := json.Unmarshal(sanitized, &analysis); err != nil {
		return nil, fmt.Errorf("analysis response has unexpected shape: %w", err)
	}
	return &analysis, nil
}
