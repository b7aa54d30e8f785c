// Package alphavantage is the client for the Alpha Vantage market-data
// API: quotes and technical indicators. The free tier shares one small
// global quota across all concurrent stage invocations, so the client
// carries its own local limiter in addition to the shared Redis one.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
)

// ErrRateLimited is returned when the provider answers with its
// rate-limit note instead of data. Callers decide whether the call was
// required (fatal) or optional (recorded as a placeholder).
var ErrRateLimited = errors.New("alphavantage: API rate limit reached")

// IndicatorFunctions maps indicator names the extraction model may
// produce to Alpha Vantage API function names.
var IndicatorFunctions = map[string]string{
	"RSI":    "RSI",
	"SMA":    "SMA",
	"EMA":    "EMA",
	"MACD":   "MACD",
	"STOCH":  "STOCH",
	"BBANDS": "BBANDS",
	"SAR":    "SAR",
}

// IntervalSpec is the provider interval and default look-back period
// for one canonical timeframe.
type IntervalSpec struct {
	Interval   string
	TimePeriod string
}

// intervalByTimeframe maps canonical timeframes to provider intervals
var intervalByTimeframe = map[string]IntervalSpec{
	"1m":  {Interval: "1min", TimePeriod: "14"},
	"5m":  {Interval: "5min", TimePeriod: "14"},
	"15m": {Interval: "15min", TimePeriod: "14"},
	"30m": {Interval: "30min", TimePeriod: "14"},
	"H1":  {Interval: "60min", TimePeriod: "14"},
	"H4":  {Interval: "daily", TimePeriod: "20"},
	"D1":  {Interval: "daily", TimePeriod: "14"},
	"W1":  {Interval: "weekly", TimePeriod: "14"},
	"MN":  {Interval: "monthly", TimePeriod: "14"},
}

// IntervalFor resolves the provider interval for a canonical timeframe,
// falling back to the daily mapping for unknown values.
func IntervalFor(timeframe string) IntervalSpec {
	if spec, ok := intervalByTimeframe[timeframe]; ok {
		return spec
	}
	return intervalByTimeframe["D1"]
}

// Client handles communication with Alpha Vantage
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new Alpha Vantage client. The local limiter
// reflects the free-tier quota of 5 requests per minute.
func NewClient(cfg config.AlphaVantageConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		limiter:    rate.NewLimiter(rate.Every(12*time.Second), 5),
	}
}

// query performs one API call and returns the decoded JSON object,
// translating the provider's rate-limit note into ErrRateLimited.
func (c *Client) query(ctx context.Context, params url.Values) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("local rate limit wait: %w", err)
	}

	params.Set("apikey", c.apiKey)
	fullURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if _, limited := result["Note"]; limited {
		return nil, ErrRateLimited
	}

	return result, nil
}

// Quote fetches the current price for a symbol (separator removed, e.g.
// "EURUSD"). Returns "" when the provider has no price for the symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (string, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	result, err := c.query(ctx, params)
	if err != nil {
		return "", err
	}

	quote, ok := result["Global Quote"].(map[string]interface{})
	if !ok {
		return "", nil
	}

	price, _ := quote["05. price"].(string)
	return price, nil
}

// Indicator fetches the latest values for one technical indicator. The
// response is keyed by date under a "Technical Analysis: X" object; the
// newest entry is returned.
func (c *Client) Indicator(ctx context.Context, function, symbol, interval, timePeriod string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("time_period", timePeriod)
	params.Set("series_type", "close")

	result, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}

	for key, value := range result {
		if !strings.HasPrefix(key, "Technical Analysis:") {
			continue
		}

		series, ok := value.(map[string]interface{})
		if !ok || len(series) == 0 {
			break
		}

		// Dates sort lexicographically; the max key is the latest entry
		var latest string
		for date := range series {
			if date > latest {
				latest = date
			}
		}

		values, ok := series[latest].(map[string]interface{})
		if !ok {
			break
		}
		return values, nil
	}

	return nil, fmt.Errorf("no technical analysis data for %s/%s", function, symbol)
}
