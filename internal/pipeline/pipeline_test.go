package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/alphavantage"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
)

// fakeStore mimics the conditional-update semantics of the real store
type fakeStore struct {
	mu       sync.Mutex
	requests map[string]*contracts.AnalysisRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[string]*contracts.AnalysisRequest)}
}

func (s *fakeStore) add(req *contracts.AnalysisRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
}

func (s *fakeStore) Get(ctx context.Context, id string) (*contracts.AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (s *fakeStore) Claim(ctx context.Context, id string, from, to contracts.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	return true, nil
}

func (s *fakeStore) CommitExtraction(ctx context.Context, id string, result *contracts.ExtractionResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != contracts.StatusAnalyzing {
		return false, nil
	}
	req.ExtractionResult = result
	req.Status = contracts.StatusEnriching
	return true, nil
}

func (s *fakeStore) CommitMarketData(ctx context.Context, id string, data *contracts.MarketData) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != contracts.StatusEnriching {
		return false, nil
	}
	req.MarketData = data
	req.Status = contracts.StatusGenerating
	return true, nil
}

func (s *fakeStore) CommitRecommendation(ctx context.Context, id string, rec *contracts.Recommendation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != contracts.StatusGenerating {
		return false, nil
	}
	req.FinalRecommendation = rec
	req.Status = contracts.StatusComplete
	return true, nil
}

func (s *fakeStore) Fail(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status.Terminal() {
		return nil
	}
	req.Status = contracts.StatusFailed
	req.ErrorMessage = &message
	return nil
}

type fakeModel struct {
	mu           sync.Mutex
	visionOut    string
	visionErr    error
	generateOut  string
	generateErr  error
	visionCalls  int
	generateCall int
}

func (m *fakeModel) GenerateVisionJSON(ctx context.Context, parts []gemini.Part, schema map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visionCalls++
	return m.visionOut, m.visionErr
}

func (m *fakeModel) GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCall++
	return m.generateOut, m.generateErr
}

type fakeImages struct{}

func (fakeImages) Download(ctx context.Context, path string) ([]byte, string, error) {
	return []byte("png-bytes"), "image/png", nil
}

type fakeMarket struct {
	mu          sync.Mutex
	price       string
	quoteErr    error
	rateLimited map[string]bool
	calls       []string
}

func (m *fakeMarket) Quote(ctx context.Context, symbol string) (string, error) {
	return m.price, m.quoteErr
}

func (m *fakeMarket) Indicator(ctx context.Context, function, symbol, interval, timePeriod string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, function)
	if m.rateLimited[function] {
		return nil, alphavantage.ErrRateLimited
	}
	return map[string]interface{}{function: "42.0"}, nil
}

type fakeNews struct{ headlines []string }

func (n fakeNews) Headlines(ctx context.Context, asset string, limit int) ([]string, error) {
	return n.headlines, nil
}

type fakeCalendar struct{ events []contracts.EconomicEvent }

func (c fakeCalendar) EventsInRange(ctx context.Context, from, to time.Time) ([]contracts.EconomicEvent, error) {
	return c.events, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	balance int
	deducts int
}

func (l *fakeLedger) Deduct(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance <= 0 {
		return 0, errors.New("insufficient credits")
	}
	l.balance--
	l.deducts++
	return l.balance, nil
}

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "console"})
}

func newTestPipeline(store Store, model Model, market MarketProvider, ledger CreditLedger) *Pipeline {
	return New(
		store, model, fakeImages{}, market,
		fakeNews{headlines: []string{"EUR rallies on ECB minutes"}},
		fakeCalendar{},
		ledger, contracts.NopNotifier{}, testLogger(),
	)
}

const validExtraction = `{
	"activo": "eurusd",
	"temporalidad": "4h",
	"patrones_identificados": [{"nombre_patron": "Doble suelo", "descripcion": "en soporte"}],
	"indicadores": [{"nombre_indicador": "RSI (14)", "parametros": "14", "estado_o_valor": "32"}],
	"patrones_velas": [],
	"niveles_clave": {"soportes": ["1.0850"], "resistencias": ["1.0920"]},
	"evaluacion_niveles": "soporte fuerte",
	"sentimiento_analisis": "Alcista"
}`

const validRecommendation = `{
	"resumen_analitico": {
		"analisis_fundamental": "El par muestra fortaleza.",
		"puntos_confluencia": ["RSI en sobreventa", "doble suelo"],
		"puntos_divergencia": []
	},
	"indice_confianza": {"puntuacion": "85", "justificacion": "confluencia técnica"},
	"recomendacion_estrategica": {
		"estrategia": "COMPRAR",
		"justificacion_estrategia": "rebote en soporte",
		"plan_de_trading": {"entrada_sugerida": "1.0860", "stop_loss": "1.0840", "take_profit": "1.0920"}
	}
}`

func pendingRequest(id string) *contracts.AnalysisRequest {
	return &contracts.AnalysisRequest{
		ID:        id,
		UserID:    "user-1",
		ImagePath: "charts/" + id + ".png",
		Notes:     "bullish double bottom",
		Status:    contracts.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest("req-1"))

	model := &fakeModel{visionOut: validExtraction, generateOut: validRecommendation}
	market := &fakeMarket{price: "1.0862"}
	ledger := &fakeLedger{balance: 5}
	p := newTestPipeline(store, model, market, ledger)

	ctx := context.Background()
	require.NoError(t, p.Extract(ctx, "req-1"))

	req, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusEnriching, req.Status)
	require.NotNil(t, req.ExtractionResult)
	assert.Equal(t, "EUR/USD", *req.ExtractionResult.Asset)
	assert.Equal(t, "H4", *req.ExtractionResult.Timeframe)
	assert.Equal(t, contracts.SentimentBullish, *req.ExtractionResult.Sentiment)

	require.NoError(t, p.Enrich(ctx, "req-1"))

	req, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusGenerating, req.Status)
	require.NotNil(t, req.MarketData)
	assert.Equal(t, "1.0862", *req.MarketData.Price)
	assert.Len(t, req.MarketData.Indicators, 3)

	require.NoError(t, p.Generate(ctx, "req-1"))

	req, err = store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusComplete, req.Status)
	require.NotNil(t, req.FinalRecommendation)
	assert.Equal(t, contracts.ActionBuy, req.FinalRecommendation.Strategy.Action)
	assert.Equal(t, 85, req.FinalRecommendation.Confidence.Score)
	assert.Equal(t, 4, ledger.balance)
	assert.Equal(t, 1, ledger.deducts)
}

func TestExtract_MissingSentimentFailsWithoutEnrichment(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest("req-2"))

	missing := `{
		"activo": "EUR/USD",
		"temporalidad": "H4",
		"patrones_identificados": [],
		"indicadores": [],
		"patrones_velas": [],
		"niveles_clave": {"soportes": [], "resistencias": []},
		"evaluacion_niveles": null
	}`
	model := &fakeModel{visionOut: missing}
	p := newTestPipeline(store, model, &fakeMarket{price: "1.0"}, &fakeLedger{balance: 5})

	ctx := context.Background()
	require.NoError(t, p.Extract(ctx, "req-2"))

	req, err := store.Get(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFailed, req.Status)
	require.NotNil(t, req.ErrorMessage)
	assert.Contains(t, *req.ErrorMessage, "sentimiento_analisis")
	assert.Nil(t, req.MarketData)

	// The failed record no longer matches the enrichment precondition.
	require.NoError(t, p.Enrich(ctx, "req-2"))
	req, _ = store.Get(ctx, "req-2")
	assert.Nil(t, req.MarketData)
}

func TestExtract_UnrecognizedAssetFails(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest("req-3"))

	bad := `{
		"activo": "EU-R/USD",
		"temporalidad": "H4",
		"patrones_identificados": [],
		"indicadores": [],
		"patrones_velas": [],
		"niveles_clave": {"soportes": [], "resistencias": []},
		"evaluacion_niveles": null,
		"sentimiento_analisis": "Neutral"
	}`
	p := newTestPipeline(store, &fakeModel{visionOut: bad}, &fakeMarket{price: "1.0"}, &fakeLedger{balance: 5})

	require.NoError(t, p.Extract(context.Background(), "req-3"))

	req, _ := store.Get(context.Background(), "req-3")
	assert.Equal(t, contracts.StatusFailed, req.Status)
	assert.Contains(t, *req.ErrorMessage, "activo")
}

func TestExtract_DuplicateTriggerNoOps(t *testing.T) {
	store := newFakeStore()
	store.add(pendingRequest("req-4"))

	model := &fakeModel{visionOut: validExtraction}
	p := newTestPipeline(store, model, &fakeMarket{price: "1.0"}, &fakeLedger{balance: 5})

	ctx := context.Background()
	require.NoError(t, p.Extract(ctx, "req-4"))
	require.NoError(t, p.Extract(ctx, "req-4"))

	assert.Equal(t, 1, model.visionCalls)

	req, _ := store.Get(ctx, "req-4")
	assert.Equal(t, contracts.StatusEnriching, req.Status)
}

func TestEnrich_RateLimitedIndicatorIsSoftFailure(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-5")
	req.Status = contracts.StatusEnriching
	asset, tf, sentiment := "EUR/USD", "H4", contracts.SentimentBullish
	req.ExtractionResult = &contracts.ExtractionResult{
		Asset: &asset, Timeframe: &tf, Sentiment: &sentiment,
	}
	store.add(req)

	market := &fakeMarket{price: "1.0862", rateLimited: map[string]bool{"MACD": true}}
	p := newTestPipeline(store, &fakeModel{}, market, &fakeLedger{balance: 5})

	require.NoError(t, p.Enrich(context.Background(), "req-5"))

	got, err := store.Get(context.Background(), "req-5")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusGenerating, got.Status)
	assert.Equal(t, contracts.IndicatorUnavailable, got.MarketData.Indicators["MACD"])
	assert.NotEqual(t, contracts.IndicatorUnavailable, got.MarketData.Indicators["RSI"])
}

func TestEnrich_QuoteFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-6")
	req.Status = contracts.StatusEnriching
	asset := "EUR/USD"
	req.ExtractionResult = &contracts.ExtractionResult{Asset: &asset}
	store.add(req)

	market := &fakeMarket{quoteErr: errors.New("provider down")}
	p := newTestPipeline(store, &fakeModel{}, market, &fakeLedger{balance: 5})

	require.NoError(t, p.Enrich(context.Background(), "req-6"))

	got, _ := store.Get(context.Background(), "req-6")
	assert.Equal(t, contracts.StatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "enrichment")
}

func TestGenerate_WaitWithoutWatchPlanRejected(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-7")
	req.Status = contracts.StatusGenerating
	asset := "EUR/USD"
	req.ExtractionResult = &contracts.ExtractionResult{Asset: &asset}
	price := "1.0862"
	req.MarketData = &contracts.MarketData{Price: &price, Indicators: map[string]interface{}{}}
	store.add(req)

	wait := `{
		"resumen_analitico": {"analisis_fundamental": "mercado lateral", "puntos_confluencia": [], "puntos_divergencia": []},
		"indice_confianza": {"puntuacion": 40, "justificacion": "sin dirección clara"},
		"recomendacion_estrategica": {
			"estrategia": "ESPERAR",
			"justificacion_estrategia": "rango estrecho",
			"plan_de_trading": {"entrada_sugerida": "N/A", "stop_loss": "N/A", "take_profit": "N/A"}
		}
	}`
	ledger := &fakeLedger{balance: 5}
	p := newTestPipeline(store, &fakeModel{generateOut: wait}, &fakeMarket{price: "1.0"}, ledger)

	require.NoError(t, p.Generate(context.Background(), "req-7"))

	got, _ := store.Get(context.Background(), "req-7")
	assert.Equal(t, contracts.StatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "plan_de_vigilancia")
	assert.Equal(t, 0, ledger.deducts)
}

func TestGenerate_WaitWithWatchPlanAccepted(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-8")
	req.Status = contracts.StatusGenerating
	asset := "EUR/USD"
	req.ExtractionResult = &contracts.ExtractionResult{Asset: &asset}
	price := "1.0862"
	req.MarketData = &contracts.MarketData{Price: &price, Indicators: map[string]interface{}{}}
	store.add(req)

	wait := `{
		"resumen_analitico": {"analisis_fundamental": "mercado lateral", "puntos_confluencia": [], "puntos_divergencia": []},
		"indice_confianza": {"puntuacion": 40, "justificacion": "sin dirección clara"},
		"recomendacion_estrategica": {
			"estrategia": "ESPERAR",
			"justificacion_estrategia": "rango estrecho",
			"plan_de_trading": {"entrada_sugerida": "N/A", "stop_loss": "N/A", "take_profit": "N/A"},
			"plan_de_vigilancia": {"condicion_compra": "ruptura de 1.0920", "condicion_venta": "pérdida de 1.0850"}
		}
	}`
	p := newTestPipeline(store, &fakeModel{generateOut: wait}, &fakeMarket{price: "1.0"}, &fakeLedger{balance: 5})

	require.NoError(t, p.Generate(context.Background(), "req-8"))

	got, _ := store.Get(context.Background(), "req-8")
	assert.Equal(t, contracts.StatusComplete, got.Status)
	require.NotNil(t, got.FinalRecommendation.Strategy.WatchPlan)
	assert.Equal(t, "ruptura de 1.0920", got.FinalRecommendation.Strategy.WatchPlan.BuyTrigger)
}

func TestGenerate_DuplicateTriggerDeductsOnce(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-9")
	req.Status = contracts.StatusGenerating
	asset := "EUR/USD"
	req.ExtractionResult = &contracts.ExtractionResult{Asset: &asset}
	price := "1.0862"
	req.MarketData = &contracts.MarketData{Price: &price, Indicators: map[string]interface{}{}}
	store.add(req)

	ledger := &fakeLedger{balance: 5}
	model := &fakeModel{generateOut: validRecommendation}
	p := newTestPipeline(store, model, &fakeMarket{price: "1.0"}, ledger)

	ctx := context.Background()
	require.NoError(t, p.Generate(ctx, "req-9"))
	require.NoError(t, p.Generate(ctx, "req-9"))

	assert.Equal(t, 1, ledger.deducts)
	assert.Equal(t, 4, ledger.balance)

	got, _ := store.Get(ctx, "req-9")
	assert.Equal(t, contracts.StatusComplete, got.Status)
}

func TestGenerate_DeductionFailureKeepsResult(t *testing.T) {
	store := newFakeStore()
	req := pendingRequest("req-10")
	req.Status = contracts.StatusGenerating
	asset := "EUR/USD"
	req.ExtractionResult = &contracts.ExtractionResult{Asset: &asset}
	price := "1.0862"
	req.MarketData = &contracts.MarketData{Price: &price, Indicators: map[string]interface{}{}}
	store.add(req)

	ledger := &fakeLedger{balance: 0}
	p := newTestPipeline(store, &fakeModel{generateOut: validRecommendation}, &fakeMarket{price: "1.0"}, ledger)

	require.NoError(t, p.Generate(context.Background(), "req-10"))

	got, _ := store.Get(context.Background(), "req-10")
	assert.Equal(t, contracts.StatusComplete, got.Status)
	require.NotNil(t, got.FinalRecommendation)
}

func TestIndicatorPlan_DeduplicatesIdentified(t *testing.T) {
	name1 := "RSI (14)"
	name2 := "Bandas de Bollinger"
	name3 := "EMA 200"
	plan := indicatorPlan([]contracts.IndicatorReading{
		{Name: &name1}, {Name: &name2}, {Name: &name3}, {Name: nil},
	})

	assert.Equal(t, []string{"RSI", "SMA", "MACD", "BBANDS", "EMA"}, plan)
}

func TestAssetCurrencies(t *testing.T) {
	currencies := assetCurrencies("EUR/USD")
	assert.True(t, currencies["EUR"])
	assert.True(t, currencies["USD"])
	assert.False(t, currencies["GBP"])
}

func TestBuildCalendar_SplitsPastAndUpcoming(t *testing.T) {
	now := time.Now()
	cal := fakeCalendar{events: []contracts.EconomicEvent{
		{Date: now.Add(-24 * time.Hour), EventName: "CPI", Currency: "USD", Impact: contracts.ImpactHigh, Actual: "3.1%"},
		{Date: now.Add(48 * time.Hour), EventName: "NFP", Currency: "USD", Impact: contracts.ImpactHigh, Estimate: "180K"},
		{Date: now.Add(24 * time.Hour), EventName: "GDP", Currency: "JPY", Impact: contracts.ImpactMedium},
	}}

	p := New(newFakeStore(), &fakeModel{}, fakeImages{}, &fakeMarket{}, fakeNews{}, cal,
		&fakeLedger{balance: 1}, contracts.NopNotifier{}, testLogger())

	summary, err := p.buildCalendar(context.Background(), "EUR/USD")
	require.NoError(t, err)

	require.Len(t, summary.Past, 1)
	assert.Equal(t, "CPI", summary.Past[0].Name)
	require.Len(t, summary.Upcoming, 1)
	assert.Equal(t, "NFP", summary.Upcoming[0].Name)
	assert.Contains(t, summary.Upcoming[0].TimeRemaining, "horas")
}

func TestSweeperJob_Run(t *testing.T) {
	swept := &fakeStaleStore{ids: []string{"a", "b"}}
	job := NewSweeperJob(swept, 30*time.Minute, testLogger())

	assert.Equal(t, "stale-request-sweeper", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 30*time.Minute, swept.maxAge)
}

type fakeStaleStore struct {
	ids    []string
	maxAge time.Duration
}

func (s *fakeStaleStore) FailStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	s.maxAge = maxAge
	return s.ids, nil
}
