package contracts

import (
	"time"
)

// Status is the lifecycle state of an analysis request. The persisted
// status column is the coordination mechanism between pipeline stages:
// each stage consumes exactly one status and commits exactly one other.
type Status string

const (
	// StatusPending is set at creation, before any stage has run
	StatusPending Status = "pending"

	// StatusAnalyzing is set by the extraction stage before calling the
	// vision model, so a duplicate trigger observes a non-matching
	// precondition and no-ops
	StatusAnalyzing Status = "analyzing"

	// StatusEnriching means extraction_result is persisted and the
	// market-enrichment stage may run
	StatusEnriching Status = "enriching"

	// StatusGenerating means market_data is persisted and the
	// recommendation stage may run
	StatusGenerating Status = "generating"

	// StatusComplete is terminal success: final_recommendation is set
	// and exactly one credit has been deducted
	StatusComplete Status = "complete"

	// StatusFailed is terminal failure, reachable from any non-terminal
	// state; error_message carries a stage-tagged description
	StatusFailed Status = "failed"
)

// String returns the status as a string
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further automatic transition occurs
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusEnriching, StatusGenerating, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// CanTransition is the single exhaustive transition function for the
// pipeline state machine. Status moves monotonically along
// pending → analyzing → enriching → generating → complete, with failed
// reachable from every non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}

	switch from {
	case StatusPending:
		return to == StatusAnalyzing
	case StatusAnalyzing:
		return to == StatusEnriching
	case StatusEnriching:
		return to == StatusGenerating
	case StatusGenerating:
		return to == StatusComplete
	}
	return false
}

// AnalysisRequest is one pipeline state machine instance: a single
// user-submitted chart working its way to a recommendation.
//
// Invariants maintained by the store:
//   - FinalRecommendation is non-nil iff Status == complete
//   - ErrorMessage is non-nil iff Status == failed
//   - exactly one credit is deducted per request that reaches complete
type AnalysisRequest struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ImagePath string `json:"image_path"`
	Notes     string `json:"notes,omitempty"`
	Status    Status `json:"status"`

	ExtractionResult    *ExtractionResult `json:"analysis_result,omitempty"`
	MarketData          *MarketData       `json:"market_data,omitempty"`
	FinalRecommendation *Recommendation   `json:"final_recommendation,omitempty"`
	ErrorMessage        *string           `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sentiment values the extraction model is allowed to return
const (
	SentimentBullish = "Alcista"
	SentimentBearish = "Bajista"
	SentimentNeutral = "Neutral"
)

// Timeframes is the fixed canonical timeframe vocabulary
var Timeframes = []string{"1m", "5m", "15m", "30m", "H1", "H4", "D1", "W1", "MN"}

// ExtractionResult is the structured output of the vision-extraction
// stage. JSON keys match the deployed extraction prompt schema and the
// stored jsonb documents.
type ExtractionResult struct {
	Asset           *string            `json:"activo"`
	Timeframe       *string            `json:"temporalidad"`
	Patterns        []ChartPattern     `json:"patrones_identificados"`
	Indicators      []IndicatorReading `json:"indicadores"`
	CandlePatterns  []CandlePattern    `json:"patrones_velas"`
	KeyLevels       KeyLevels          `json:"niveles_clave"`
	LevelAssessment *string            `json:"evaluacion_niveles"`
	Sentiment       *string            `json:"sentimiento_analisis"`
}

// ChartPattern is one identified chart formation
type ChartPattern struct {
	Name        *string `json:"nombre_patron"`
	Description *string `json:"descripcion"`
}

// IndicatorReading is one indicator visible on the uploaded chart
type IndicatorReading struct {
	Name       *string `json:"nombre_indicador"`
	Parameters *string `json:"parametros"`
	Value      *string `json:"estado_o_valor"`
}

// CandlePattern is one candlestick pattern with its location on the chart
type CandlePattern struct {
	Name     *string `json:"nombre_patron"`
	Location *string `json:"ubicacion"`
}

// KeyLevels holds support/resistance levels read off the chart
type KeyLevels struct {
	Supports    []string `json:"soportes"`
	Resistances []string `json:"resistencias"`
}

// MarketData is the structured output of the market-enrichment stage.
type MarketData struct {
	Price    *string         `json:"precio_actual"`
	Calendar CalendarSummary `json:"calendario_economico"`
	News     []string        `json:"titulares_noticias,omitempty"`

	// Indicators maps provider indicator name to its latest values, or
	// to IndicatorUnavailable when the provider rate-limited that call.
	Indicators map[string]interface{} `json:"indicadores"`
}

// IndicatorUnavailable is the placeholder recorded for an indicator
// whose provider call was rate-limited. The generation stage reasons
// about the missing data instead of the enrichment stage failing.
const IndicatorUnavailable = "Límite de API alcanzado"

// CalendarSummary splits calendar events into released and upcoming,
// relative to enrichment time: past surprises and future risk events
// get different treatment by the generation prompt.
type CalendarSummary struct {
	Past     []EventSummary  `json:"noticias_pasadas"`
	Upcoming []UpcomingEvent `json:"noticias_futuras"`
}

// EventSummary is a calendar event condensed for the generation prompt
type EventSummary struct {
	Name     string `json:"noticia"`
	Impact   string `json:"importancia"`
	Actual   string `json:"actual"`
	Estimate string `json:"prevision"`
	Previous string `json:"previo"`
}

// UpcomingEvent is a future event with its time-to-release
type UpcomingEvent struct {
	EventSummary
	TimeRemaining string `json:"tiempo_restante"`
}

// Strategy actions the generation model may recommend
const (
	ActionBuy  = "COMPRAR"
	ActionSell = "VENDER"
	ActionWait = "ESPERAR"
)

// Recommendation is the final structured output of the pipeline.
type Recommendation struct {
	Summary    AnalyticalSummary `json:"resumen_analitico"`
	Confidence ConfidenceScore   `json:"indice_confianza"`
	Strategy   StrategicAdvice   `json:"recomendacion_estrategica"`
}

// AnalyticalSummary is the narrative section of a recommendation
type AnalyticalSummary struct {
	Fundamental string   `json:"analisis_fundamental"`
	Confluences []string `json:"puntos_confluencia"`
	Divergences []string `json:"puntos_divergencia"`
}

// ConfidenceScore is an integer 0-100 plus its justification
type ConfidenceScore struct {
	Score         int    `json:"puntuacion"`
	Justification string `json:"justificacion"`
}

// StrategicAdvice is the actionable section of a recommendation. When
// Action is ESPERAR the WatchPlan is mandatory, enforced by validation.
type StrategicAdvice struct {
	Action        string      `json:"estrategia"`
	Justification string      `json:"justificacion_estrategia"`
	Plan          TradingPlan `json:"plan_de_trading"`
	WatchPlan     *WatchPlan  `json:"plan_de_vigilancia,omitempty"`
}

// TradingPlan holds entry/stop/target levels
type TradingPlan struct {
	Entry      string `json:"entrada_sugerida"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
}

// WatchPlan holds the explicit buy/sell trigger conditions required for
// a WAIT recommendation
type WatchPlan struct {
	BuyTrigger  string `json:"condicion_compra"`
	SellTrigger string `json:"condicion_venta"`
}
