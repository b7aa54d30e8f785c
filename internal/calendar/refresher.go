// Package calendar maintains the local economic-events store: a
// periodically refreshed two-week window of provider data, enriched
// lazily with generated descriptions and per-event deep analyses.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/internal/external/fmp"
	"github.com/aimpatfx/backend/pkg/logger"
)

// Window the refresh covers, centered on now
const (
	refreshPastDays   = 7
	refreshFutureDays = 7
)

// descriptionBatchSize bounds one model call; event names are short
// but a full window can hold hundreds of them.
const descriptionBatchSize = 25

// Provider serves raw calendar rows
type Provider interface {
	EconomicCalendar(ctx context.Context, from, to time.Time) ([]fmp.CalendarEvent, error)
}

// Translator translates event names for display
type Translator interface {
	Translate(ctx context.Context, texts []string) ([]string, error)
}

// DescriptionModel generates structured event descriptions
type DescriptionModel interface {
	GenerateJSON(ctx context.Context, prompt string, schema map[string]interface{}) (string, error)
}

// EventStore is the repository surface the refresher needs
type EventStore interface {
	Upsert(ctx context.Context, events []contracts.EconomicEvent) error
	NamesWithoutDescription(ctx context.Context, from, to time.Time) ([]string, error)
	SetDescriptions(ctx context.Context, descriptions map[string]string) error
}

// Refresher pulls the provider calendar into the local store
type Refresher struct {
	provider   Provider
	translator Translator
	model      DescriptionModel
	store      EventStore
	logger     *logger.Logger
}

// NewRefresher creates a calendar refresher
func NewRefresher(provider Provider, translator Translator, model DescriptionModel, store EventStore, log *logger.Logger) *Refresher {
	return &Refresher{
		provider:   provider,
		translator: translator,
		model:      model,
		store:      store,
		logger:     log,
	}
}

// Name returns the job name
func (r *Refresher) Name() string {
	return "calendar-refresh"
}

// Schedule returns the cron expression (with seconds)
func (r *Refresher) Schedule() string {
	return "0 0 */6 * * *"
}

// Run refreshes the two-week window and enriches new event names.
// Translation and description failures degrade: the raw provider rows
// are always persisted first.
func (r *Refresher) Run(ctx context.Context) error {
	now := time.Now()
	from := now.AddDate(0, 0, -refreshPastDays)
	to := now.AddDate(0, 0, refreshFutureDays)

	raw, err := r.provider.EconomicCalendar(ctx, from, to)
	if err != nil {
		return fmt.Errorf("calendar fetch failed: %w", err)
	}

	events := mapEvents(raw)
	r.translateNames(ctx, events)

	if err := r.store.Upsert(ctx, events); err != nil {
		return fmt.Errorf("calendar upsert failed: %w", err)
	}

	described, err := r.describeNewEvents(ctx, from, to)
	if err != nil {
		r.logger.WithError(err).Warn("Event description pass failed")
	}

	r.logger.WithFields(map[string]interface{}{
		"events":    len(events),
		"described": described,
	}).Info("Calendar refreshed")
	return nil
}

// mapEvents converts provider rows, dropping rows whose date does not
// parse. The provider emits "2006-01-02 15:04:05" timestamps in UTC.
func mapEvents(raw []fmp.CalendarEvent) []contracts.EconomicEvent {
	events := make([]contracts.EconomicEvent, 0, len(raw))
	for _, row := range raw {
		date, err := parseEventDate(row.Date)
		if err != nil || row.Event == "" {
			continue
		}

		events = append(events, contracts.EconomicEvent{
			Date:      date,
			EventName: row.Event,
			Country:   row.Country,
			Currency:  row.Currency,
			Impact:    normalizeImpact(row.Impact),
			Actual:    deref(row.Actual),
			Estimate:  deref(row.Estimate),
			Previous:  deref(row.Previous),
		})
	}
	return events
}

func parseEventDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable event date %q", s)
}

func normalizeImpact(impact string) string {
	switch strings.ToLower(impact) {
	case "high", "3":
		return contracts.ImpactHigh
	case "medium", "2":
		return contracts.ImpactMedium
	case "low", "1":
		return contracts.ImpactLow
	}
	return contracts.ImpactLow
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// translateNames fills Translated for every distinct event name. One
// provider call covers all names; failures leave names untranslated.
func (r *Refresher) translateNames(ctx context.Context, events []contracts.EconomicEvent) {
	index := make(map[string]int)
	var names []string
	for _, e := range events {
		if _, seen := index[e.EventName]; !seen {
			index[e.EventName] = len(names)
			names = append(names, e.EventName)
		}
	}
	if len(names) == 0 {
		return
	}

	translated, err := r.translator.Translate(ctx, names)
	if err != nil || len(translated) != len(names) {
		r.logger.WithError(err).Warn("Event name translation failed")
		return
	}

	for i := range events {
		events[i].Translated = translated[index[events[i].EventName]]
	}
}

var descriptionSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"descripciones": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"evento":      map[string]interface{}{"type": "STRING"},
					"descripcion": map[string]interface{}{"type": "STRING"},
				},
				"required": []string{"evento", "descripcion"},
			},
		},
	},
	"required": []string{"descripciones"},
}

const descriptionPrompt = `Eres un economista. Para cada uno de los siguientes eventos del calendario económico, escribe una descripción breve en español (2-3 frases) explicando qué mide y por qué mueve el mercado.

Eventos:
%s

Responde únicamente con el JSON, con una entrada por evento usando el nombre exacto recibido.`

type describedEvent struct {
	Event       string `json:"evento"`
	Description string `json:"descripcion"`
}

// describeNewEvents generates descriptions for names still lacking one
// and returns how many were written.
func (r *Refresher) describeNewEvents(ctx context.Context, from, to time.Time) (int, error) {
	names, err := r.store.NamesWithoutDescription(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, nil
	}

	written := 0
	for start := 0; start < len(names); start += descriptionBatchSize {
		end := start + descriptionBatchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]

		descriptions, err := r.describeBatch(ctx, batch)
		if err != nil {
			r.logger.WithError(err).Warn("Description batch failed")
			continue
		}
		if err := r.store.SetDescriptions(ctx, descriptions); err != nil {
			return written, err
		}
		written += len(descriptions)
	}
	return written, nil
}

func (r *Refresher) describeBatch(ctx context.Context, names []string) (map[string]string, error) {
	prompt := fmt.Sprintf(descriptionPrompt, "- "+strings.Join(names, "\n- "))

	raw, err := r.model.GenerateJSON(ctx, prompt, descriptionSchema)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Descriptions []describedEvent `json:"descripciones"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("description response is not valid JSON: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	descriptions := make(map[string]string)
	for _, d := range parsed.Descriptions {
		if wanted[d.Event] && d.Description != "" {
			descriptions[d.Event] = d.Description
		}
	}
	return descriptions, nil
}
