package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/alphavantage"
)

// baselineIndicators are always fetched regardless of what the
// extraction stage spotted on the chart.
var baselineIndicators = []string{"RSI", "SMA", "MACD"}

// smaTimePeriod overrides the timeframe default for moving averages;
// the generation prompt reasons about the 200-period average.
const smaTimePeriod = "200"

const newsHeadlineLimit = 5

// Enrich runs the market-enrichment stage for one request. The
// precondition is status enriching; anything else means the record was
// already processed (or failed) and the call no-ops. Provider calls
// fan out in parallel; only the quote is mandatory, indicators degrade
// to a placeholder and news/calendar degrade to empty.
func (p *Pipeline) Enrich(ctx context.Context, id string) error {
	req, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != contracts.StatusEnriching {
		p.logger.WithFields(map[string]interface{}{
			"request_id": id,
			"status":     req.Status.String(),
		}).Info("Enrichment precondition not met, skipping")
		return nil
	}
	if req.ExtractionResult == nil {
		p.fail(ctx, id, "enrichment", "no hay resultado de extracción")
		return nil
	}

	extraction := req.ExtractionResult
	if extraction.Asset == nil || *extraction.Asset == "" {
		p.fail(ctx, id, "enrichment", "no se pudo identificar el activo en el gráfico")
		return nil
	}

	asset := *extraction.Asset
	symbol := strings.ReplaceAll(asset, "/", "")
	timeframe := "D1"
	if extraction.Timeframe != nil && *extraction.Timeframe != "" {
		timeframe = *extraction.Timeframe
	}

	data := &contracts.MarketData{
		Indicators: make(map[string]interface{}),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		quoteErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		price, err := p.market.Quote(ctx, symbol)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			quoteErr = err
			return
		}
		data.Price = &price
	}()

	spec := alphavantage.IntervalFor(timeframe)
	for _, name := range indicatorPlan(extraction.Indicators) {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			timePeriod := spec.TimePeriod
			if name == "SMA" || name == "EMA" {
				timePeriod = smaTimePeriod
			}

			values, err := p.market.Indicator(ctx, name, symbol, spec.Interval, timePeriod)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, alphavantage.ErrRateLimited):
				data.Indicators[name] = contracts.IndicatorUnavailable
			case err != nil:
				p.logger.WithError(err).WithFields(map[string]interface{}{
					"request_id": id,
					"indicator":  name,
				}).Warn("Indicator fetch failed")
				data.Indicators[name] = contracts.IndicatorUnavailable
			default:
				data.Indicators[name] = values
			}
		}(name)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		headlines, err := p.news.Headlines(ctx, symbol, newsHeadlineLimit)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			p.logger.WithError(err).WithField("request_id", id).Warn("News fetch failed")
			return
		}
		data.News = headlines
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		calendar, err := p.buildCalendar(ctx, asset)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			p.logger.WithError(err).WithField("request_id", id).Warn("Calendar lookup failed")
			return
		}
		data.Calendar = *calendar
	}()

	wg.Wait()

	// Without a quote there is nothing sensible to generate against.
	if quoteErr != nil {
		p.fail(ctx, id, "enrichment", fmt.Sprintf("no se pudo obtener la cotización de %s: %v", asset, quoteErr))
		return nil
	}

	committed, err := p.store.CommitMarketData(ctx, id, data)
	if err != nil {
		return err
	}
	if !committed {
		p.logger.WithField("request_id", id).Warn("Enrichment commit lost, record changed underneath")
		return nil
	}

	p.notify(ctx, id)
	return nil
}

// indicatorPlan merges the baseline set with indicators the extraction
// stage identified, deduplicated and limited to functions the provider
// supports. Order is stable so runs are comparable in logs.
func indicatorPlan(identified []contracts.IndicatorReading) []string {
	seen := make(map[string]bool, len(baselineIndicators))
	plan := make([]string, 0, len(baselineIndicators)+len(identified))

	for _, name := range baselineIndicators {
		seen[name] = true
		plan = append(plan, name)
	}

	var extra []string
	for _, reading := range identified {
		if reading.Name == nil {
			continue
		}
		name := canonicalIndicator(*reading.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		extra = append(extra, name)
	}

	sort.Strings(extra)
	return append(plan, extra...)
}

// canonicalIndicator extracts a supported provider function name from
// a free-text indicator label like "RSI (14)" or "Bandas de Bollinger".
func canonicalIndicator(label string) string {
	upper := strings.ToUpper(label)
	for name, function := range alphavantage.IndicatorFunctions {
		if strings.Contains(upper, name) {
			return function
		}
	}
	if strings.Contains(upper, "BOLLINGER") {
		return "BBANDS"
	}
	if strings.Contains(upper, "PARABOLIC") {
		return "SAR"
	}
	return ""
}

// buildCalendar loads stored events for the asset's currencies over a
// two-week window centered on now and splits them into released and
// upcoming relative to now.
func (p *Pipeline) buildCalendar(ctx context.Context, asset string) (*contracts.CalendarSummary, error) {
	now := time.Now()
	events, err := p.calendar.EventsInRange(ctx, now.AddDate(0, 0, -7), now.AddDate(0, 0, 7))
	if err != nil {
		return nil, err
	}

	currencies := assetCurrencies(asset)

	summary := &contracts.CalendarSummary{
		Past:     []contracts.EventSummary{},
		Upcoming: []contracts.UpcomingEvent{},
	}
	for _, event := range events {
		if !currencies[event.Currency] {
			continue
		}

		item := contracts.EventSummary{
			Name:     event.EventName,
			Impact:   event.Impact,
			Actual:   event.Actual,
			Estimate: event.Estimate,
			Previous: event.Previous,
		}
		if event.Translated != "" {
			item.Name = event.Translated
		}

		if event.Date.Before(now) {
			summary.Past = append(summary.Past, item)
		} else {
			hours := int(event.Date.Sub(now).Hours())
			summary.Upcoming = append(summary.Upcoming, contracts.UpcomingEvent{
				EventSummary:  item,
				TimeRemaining: fmt.Sprintf("en %d horas", hours),
			})
		}
	}

	return summary, nil
}

// assetCurrencies returns the set of currencies a normalized asset pair
// touches, for calendar filtering.
func assetCurrencies(asset string) map[string]bool {
	currencies := make(map[string]bool, 2)
	for _, part := range strings.Split(asset, "/") {
		if part != "" {
			currencies[part] = true
		}
	}
	return currencies
}
