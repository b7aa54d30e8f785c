package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
	"github.com/aimpatfx/backend/pkg/redis"
)

func strPtr(s string) *string { return &s }

func TestMapEvents(t *testing.T) {
	raw := []fmp.CalendarEvent{
		{Date: "2026-09-04 12:30:00", Event: "Nonfarm Payrolls", Country: "US", Currency: "USD",
			Impact: "High", Estimate: strPtr("180K"), Previous: strPtr("175K")},
		{Date: "2026-09-05", Event: "GDP QoQ", Country: "DE", Currency: "EUR", Impact: "2"},
		{Date: "not-a-date", Event: "Broken Row", Currency: "USD"},
		{Date: "2026-09-06 08:00:00", Event: "", Currency: "USD"},
	}

	events := mapEvents(raw)
	require.Len(t, events, 2)

	assert.Equal(t, "Nonfarm Payrolls", events[0].EventName)
	assert.Equal(t, contracts.ImpactHigh, events[0].Impact)
	assert.Equal(t, "180K", events[0].Estimate)
	assert.Equal(t, "", events[0].Actual)
	assert.Equal(t, time.Date(2026, 9, 4, 12, 30, 0, 0, time.UTC), events[0].Date)

	assert.Equal(t, contracts.ImpactMedium, events[1].Impact)
}

func TestNormalizeImpact(t *testing.T) {
	assert.Equal(t, contracts.ImpactHigh, normalizeImpact("high"))
	assert.Equal(t, contracts.ImpactHigh, normalizeImpact("3"))
	assert.Equal(t, contracts.ImpactMedium, normalizeImpact("Medium"))
	assert.Equal(t, contracts.ImpactLow, normalizeImpact("1"))
	assert.Equal(t, contracts.ImpactLow, normalizeImpact("whatever"))
}

type fakeProvider struct{ rows []fmp.CalendarEvent }

func (f fakeProvider) EconomicCalendar(ctx context.Context, from, to time.Time) ([]fmp.CalendarEvent, error) {
	return f.rows, nil
}

type fakeTranslator struct{ out map[string]string }

func (f fakeTranslator) Translate(ctx context.Context, texts []string) ([]string, error) {
	result := make([]string, len(texts))
	for i, text := range texts {
		if translated, ok := f.out[text]; ok {
			result[i] = translated
		} else {
			result[i] = text
		}
	}
	return result, nil
}

type fakeModel struct {
	out   string
	calls int
}

func (f *fakeModel) GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error) {
	f.calls++
	return f.out, nil
}

type fakeEventStore struct {
	upserted     []contracts.EconomicEvent
	missing      []string
	descriptions map[string]string
}

func (f *fakeEventStore) Upsert(ctx context.Context, events []contracts.EconomicEvent) error {
	f.upserted = append(f.upserted, events...)
	return nil
}

func (f *fakeEventStore) NamesWithoutDescription(ctx context.Context, from, to time.Time) ([]string, error) {
	return f.missing, nil
}

func (f *fakeEventStore) SetDescriptions(ctx context.Context, descriptions map[string]string) error {
	if f.descriptions == nil {
		f.descriptions = make(map[string]string)
	}
	for k, v := range descriptions {
		f.descriptions[k] = v
	}
	return nil
}

func calLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "console"})
}

func TestRefresher_Run(t *testing.T) {
	store := &fakeEventStore{missing: []string{"Nonfarm Payrolls"}}
	model := &fakeModel{out: `{"descripciones": [
		{"evento": "Nonfarm Payrolls", "descripcion": "Mide el empleo no agrícola en EEUU."},
		{"evento": "Evento Inventado", "descripcion": "no solicitado"}
	]}`}

	r := NewRefresher(
		fakeProvider{rows: []fmp.CalendarEvent{
			{Date: "2026-09-04 12:30:00", Event: "Nonfarm Payrolls", Country: "US", Currency: "USD", Impact: "High"},
		}},
		fakeTranslator{out: map[string]string{"Nonfarm Payrolls": "Nóminas no agrícolas"}},
		model, store, calLogger(),
	)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Nóminas no agrícolas", store.upserted[0].Translated)

	// Only requested names are written; hallucinated entries are dropped.
	assert.Equal(t, map[string]string{
		"Nonfarm Payrolls": "Mide el empleo no agrícola en EEUU.",
	}, store.descriptions)
}

type fakeHistory struct{ rows []fmp.HistoricalEvent }

func (f fakeHistory) HistoricalCalendar(ctx context.Context, currency string) ([]fmp.HistoricalEvent, error) {
	return f.rows, nil
}

type fakeAnalysisStore struct {
	saved map[string]*contracts.EventAnalysis
}

func analysisKey(name, currency string, date time.Time) string {
	return name + "|" + currency + "|" + date.Format("2006-01-02")
}

func (f *fakeAnalysisStore) GetAnalysis(ctx context.Context, eventName, currency string, date time.Time) (*contracts.EventAnalysis, error) {
	if a, ok := f.saved[analysisKey(eventName, currency, date)]; ok {
		return a, nil
	}
	return nil, ErrAnalysisNotFound
}

func (f *fakeAnalysisStore) SaveAnalysis(ctx context.Context, eventName, currency string, date time.Time, analysis *contracts.EventAnalysis) error {
	if f.saved == nil {
		f.saved = make(map[string]*contracts.EventAnalysis)
	}
	key := analysisKey(eventName, currency, date)
	if _, exists := f.saved[key]; exists {
		return nil
	}
	f.saved[key] = analysis
	return nil
}

const validAnalysis = `{
	"professional_description": "Mide la creación de empleo.",
	"historical_analysis": "Las últimas publicaciones han sorprendido al alza.",
	"forecast_scenarios": [
		{"scenario": "Mejor de lo previsto", "recommendation": "favorece al USD"}
	]
}`

func newTestAnalyzer(model *fakeModel, store *fakeAnalysisStore) *Analyzer {
	cfg := &config.Config{LogLevel: "error", LogFormat: "console"}
	client, _ := redis.New(cfg)
	cache := redis.NewCache(client, "test")
	return NewAnalyzer(
		fakeHistory{rows: []fmp.HistoricalEvent{
			{Date: "2026-08-01", Event: "Nonfarm Payrolls", Actual: strPtr("190K"), Estimate: strPtr("180K")},
		}},
		model, store, cache, calLogger(),
	)
}

func TestAnalyzer_GeneratesOnceAndCaches(t *testing.T) {
	model := &fakeModel{out: validAnalysis}
	store := &fakeAnalysisStore{}
	a := newTestAnalyzer(model, store)

	date := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first, err := a.GetOrGenerate(ctx, "Nonfarm Payrolls", "USD", date)
	require.NoError(t, err)
	assert.Equal(t, "Mide la creación de empleo.", first.ProfessionalDescription)
	require.Len(t, first.ForecastScenarios, 1)

	second, err := a.GetOrGenerate(ctx, "Nonfarm Payrolls", "USD", date)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The second lookup is served from the store, not the model.
	assert.Equal(t, 1, model.calls)
}

func TestParseAnalysis_MissingFieldRejected(t *testing.T) {
	_, err := parseAnalysis(`{"professional_description": "x", "forecast_scenarios": []}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "historical_analysis")
}

func TestFormatHistory(t *testing.T) {
	history := []fmp.HistoricalEvent{
		{Date: "2026-08-01", Event: "Nonfarm Payrolls", Actual: strPtr("190K")},
		{Date: "2026-07-01", Event: "CPI YoY", Actual: strPtr("3.1%")},
	}

	formatted := formatHistory("Nonfarm Payrolls", history)
	assert.Contains(t, formatted, "190K")
	assert.NotContains(t, formatted, "3.1%")

	assert.Equal(t, "(sin datos históricos disponibles)", formatHistory("Unknown", history))
}
