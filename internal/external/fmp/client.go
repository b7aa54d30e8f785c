// Package fmp is the client for the Financial Modeling Prep API:
// indicator snapshots for the signal scanner, the economic calendar,
// historical calendar data and stock news.
package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/httputil"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Client handles communication with Financial Modeling Prep
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
}

// NewClient creates a new FMP client
func NewClient(cfg config.FMPConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	params.Set("apikey", c.apiKey)
	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Technicals is the latest indicator snapshot for one asset
type Technicals struct {
	Close     float64 `json:"close"`
	RSI       float64 `json:"rsi"`
	EMA20     float64 `json:"ema20"`
	EMA50     float64 `json:"ema50"`
	EMA200    float64 `json:"ema200"`
	UpperBand float64 `json:"upperBand"`
	LowerBand float64 `json:"lowerBand"`
}

// TechnicalSnapshot fetches the most recent indicator row for an asset
// at the given interval (e.g. "4hour").
func (c *Client) TechnicalSnapshot(ctx context.Context, interval, asset string) (*Technicals, error) {
	params := url.Values{}
	params.Set("period", "200")

	var rows []Technicals
	path := fmt.Sprintf("/api/v3/technical_indicator/%s/%s", interval, asset)
	if err := c.getJSON(ctx, path, params, &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no indicator data for %s", asset)
	}

	return &rows[0], nil
}

// CalendarEvent is one raw economic-calendar row
type CalendarEvent struct {
	Date     string `json:"date"`
	Event    string `json:"event"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Impact   string `json:"impact"`
	Actual   *string `json:"actual"`
	Estimate *string `json:"estimate"`
	Previous *string `json:"previous"`
}

// EconomicCalendar fetches calendar rows for a date range
func (c *Client) EconomicCalendar(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	params := url.Values{}
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", to.Format("2006-01-02"))

	var events []CalendarEvent
	if err := c.getJSON(ctx, "/api/v3/economic_calendar", params, &events); err != nil {
		return nil, err
	}

	return events, nil
}

// HistoricalEvent is one past release of a calendar event
type HistoricalEvent struct {
	Date     string  `json:"date"`
	Event    string  `json:"event"`
	Actual   *string `json:"actual"`
	Estimate *string `json:"estimate"`
}

// HistoricalCalendar fetches past releases for a currency, newest first
func (c *Client) HistoricalCalendar(ctx context.Context, currency string) ([]HistoricalEvent, error) {
	var events []HistoricalEvent
	path := fmt.Sprintf("/api/v3/historical-economic-calendar/%s", currency)
	if err := c.getJSON(ctx, path, url.Values{}, &events); err != nil {
		return nil, err
	}

	return events, nil
}

// NewsItem is one stock news headline
type NewsItem struct {
	Title         string `json:"title"`
	PublishedDate string `json:"publishedDate"`
	Site          string `json:"site"`
}

// StockNews fetches the latest headlines for a symbol
func (c *Client) StockNews(ctx context.Context, symbol string, limit int) ([]NewsItem, error) {
	params := url.Values{}
	params.Set("tickers", symbol)
	params.Set("limit", fmt.Sprintf("%d", limit))

	var items []NewsItem
	if err := c.getJSON(ctx, "/api/v3/stock_news", params, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// Headlines returns just the titles of the latest news for a symbol
func (c *Client) Headlines(ctx context.Context, symbol string, limit int) ([]string, error) {
	items, err := c.StockNews(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	return titles, nil
}
