// Package pipeline implements the staged analysis flow: a chart
// screenshot is extracted by a vision model, enriched with live market
// data, and turned into a trading recommendation. Stages communicate
// only through the persisted request record, so each stage can be
// triggered independently and retried safely.
package pipeline

import (
	"context"
	"time"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/gemini"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Store is the persistence surface the stages run against
type Store interface {
	Get(ctx context.Context, id string) (*contracts.AnalysisRequest, error)
	Claim(ctx context.Context, id string, from, to contracts.Status) (bool, error)
	CommitExtraction(ctx context.Context, id string, result *contracts.ExtractionResult) (bool, error)
	CommitMarketData(ctx context.Context, id string, data *contracts.MarketData) (bool, error)
	CommitRecommendation(ctx context.Context, id string, rec *contracts.Recommendation) (bool, error)
	Fail(ctx context.Context, id, message string) error
}

// Model generates structured JSON from prompts and images
type Model interface {
	GenerateVisionJSON(ctx context.Context, parts []gemini.Part, schema map[string]interface{}) (string, error)
	GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error)
}

// ImageSource fetches the uploaded chart screenshot
type ImageSource interface {
	Download(ctx context.Context, path string) ([]byte, string, error)
}

// MarketProvider serves live quotes and technical indicator values
type MarketProvider interface {
	Quote(ctx context.Context, symbol string) (string, error)
	Indicator(ctx context.Context, function, symbol, interval, timePeriod string) (map[string]interface{}, error)
}

// NewsProvider serves recent headlines for an asset
type NewsProvider interface {
	Headlines(ctx context.Context, asset string, limit int) ([]string, error)
}

// CalendarSource serves stored economic events for a date range
type CalendarSource interface {
	EventsInRange(ctx context.Context, from, to time.Time) ([]contracts.EconomicEvent, error)
}

// CreditLedger deducts a credit once a request completes
type CreditLedger interface {
	Deduct(ctx context.Context, userID string) (int, error)
}

// Pipeline wires the three stage executors to their collaborators
type Pipeline struct {
	store    Store
	model    Model
	images   ImageSource
	market   MarketProvider
	news     NewsProvider
	calendar CalendarSource
	credits  CreditLedger
	notifier contracts.Notifier
	logger   *logger.Logger
}

// New creates a pipeline
func New(
	store Store,
	model Model,
	images ImageSource,
	market MarketProvider,
	news NewsProvider,
	calendar CalendarSource,
	credits CreditLedger,
	notifier contracts.Notifier,
	log *logger.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = contracts.NopNotifier{}
	}
	return &Pipeline{
		store:    store,
		model:    model,
		images:   images,
		market:   market,
		news:     news,
		calendar: calendar,
		credits:  credits,
		notifier: notifier,
		logger:   log,
	}
}

// fail records a stage-tagged failure and notifies subscribers
func (p *Pipeline) fail(ctx context.Context, id, stage, message string) {
	full := stage + ": " + message
	if err := p.store.Fail(ctx, id, full); err != nil {
		p.logger.WithError(err).WithField("request_id", id).Error("Failed to record pipeline failure")
		return
	}

	if req, err := p.store.Get(ctx, id); err == nil {
		p.notifier.RequestUpdated(req)
	}
}

// notify pushes the current record state to subscribers
func (p *Pipeline) notify(ctx context.Context, id string) {
	req, err := p.store.Get(ctx, id)
	if err != nil {
		p.logger.WithError(err).WithField("request_id", id).Warn("Could not load request for notification")
		return
	}
	p.notifier.RequestUpdated(req)
}
