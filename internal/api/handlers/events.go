package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/news"
	"github.com/aimpatfx/backend/internal/normalize"
	"github.com/aimpatfx/backend/pkg/logger"
)

// EventReader lists stored calendar events
type EventReader interface {
	EventsInRange(ctx context.Context, from, to time.Time) ([]contracts.EconomicEvent, error)
}

// EventAnalyzer serves per-event deep analyses
type EventAnalyzer interface {
	GetOrGenerate(ctx context.Context, eventName, currency string, date time.Time) (*contracts.EventAnalysis, error)
}

// NewsAnalyzer serves headline commentary for an asset
type NewsAnalyzer interface {
	Analyze(ctx context.Context, asset string) (*news.Analysis, error)
}

// EventsHandler serves the calendar and news endpoints
type EventsHandler struct {
	events   EventReader
	analyzer EventAnalyzer
	news     NewsAnalyzer
	logger   *logger.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(events EventReader, analyzer EventAnalyzer, newsAnalyzer NewsAnalyzer, log *logger.Logger) *EventsHandler {
	return &EventsHandler{events: events, analyzer: analyzer, news: newsAnalyzer, logger: log}
}

// InRange handles GET /api/events?from=2026-09-01&to=2026-09-07.
// Without parameters it serves the refresher's two-week window.
func (h *EventsHandler) InRange(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, 0, -7)
	to := now.AddDate(0, 0, 7)

	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = to.Add(24*time.Hour - time.Second)
	}

	events, err := h.events.EventsInRange(r.Context(), from, to)
	if err != nil {
		h.logger.WithError(err).Error("Event list failed")
		respondError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	if events == nil {
		events = []contracts.EconomicEvent{}
	}

	respondJSON(w, http.StatusOK, events)
}

type analysisRequestBody struct {
	EventName string `json:"event_name"`
	Currency  string `json:"currency"`
	Date      string `json:"date"`
}

// Analysis handles POST /api/events/analysis
func (h *EventsHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	var body analysisRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.EventName == "" || body.Currency == "" {
		respondError(w, http.StatusBadRequest, "event_name and currency are required")
		return
	}

	date, err := time.Parse("2006-01-02", body.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	analysis, err := h.analyzer.GetOrGenerate(r.Context(), body.EventName, body.Currency, date)
	if err != nil {
		h.logger.WithError(err).WithField("event", body.EventName).Error("Event analysis failed")
		respondError(w, http.StatusInternalServerError, "could not analyze event")
		return
	}

	respondJSON(w, http.StatusOK, analysis)
}

// News handles GET /api/news/{asset}
func (h *EventsHandler) News(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["asset"]
	// Currency pairs canonicalize; single-ticker assets (TSLA) pass
	// through uppercased.
	asset := normalize.Asset(raw)
	if asset == "" {
		asset = strings.ToUpper(strings.TrimSpace(raw))
	}
	if asset == "" {
		respondError(w, http.StatusBadRequest, "unrecognized asset")
		return
	}

	analysis, err := h.news.Analyze(r.Context(), asset)
	if err != nil {
		h.logger.WithError(err).WithField("asset", asset).Error("News analysis failed")
		respondError(w, http.StatusInternalServerError, "could not analyze news")
		return
	}

	respondJSON(w, http.StatusOK, analysis)
}
