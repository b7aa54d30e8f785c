package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aimpatfx/backend/internal/contracts"
)

// ErrAnalysisNotFound is returned when no cached analysis exists
var ErrAnalysisNotFound = errors.New("event analysis not found")

// Repository persists economic events and their generated analyses.
// Events are keyed by (date, event_name); a description, once written,
// is never replaced by a refresh.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new calendar repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes events idempotently on the natural key. COALESCE keeps
// an existing description when the incoming row has none, and keeps
// the first non-empty description forever.
func (r *Repository) Upsert(ctx context.Context, events []contracts.EconomicEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO economic_events
			(date, event_name, country, currency, impact, actual, estimate, previous, event_translated, event_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (date, event_name) DO UPDATE SET
			country = EXCLUDED.country,
			currency = EXCLUDED.currency,
			impact = EXCLUDED.impact,
			actual = EXCLUDED.actual,
			estimate = EXCLUDED.estimate,
			previous = EXCLUDED.previous,
			event_translated = CASE
				WHEN EXCLUDED.event_translated <> '' THEN EXCLUDED.event_translated
				ELSE economic_events.event_translated
			END,
			event_description = COALESCE(economic_events.event_description, EXCLUDED.event_description)`

	for _, e := range events {
		batch.Queue(query,
			e.Date, e.EventName, e.Country, e.Currency, e.Impact,
			e.Actual, e.Estimate, e.Previous, e.Translated, e.Description)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert event: %w", err)
		}
	}
	return nil
}

// EventsInRange returns events within [from, to], ordered by date
func (r *Repository) EventsInRange(ctx context.Context, from, to time.Time) ([]contracts.EconomicEvent, error) {
	query := `
		SELECT date, event_name, country, currency, impact, actual, estimate, previous, event_translated, event_description
		FROM economic_events
		WHERE date BETWEEN $1 AND $2
		ORDER BY date`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []contracts.EconomicEvent
	for rows.Next() {
		var e contracts.EconomicEvent
		if err := rows.Scan(
			&e.Date, &e.EventName, &e.Country, &e.Currency, &e.Impact,
			&e.Actual, &e.Estimate, &e.Previous, &e.Translated, &e.Description,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// NamesWithoutDescription returns distinct event names in [from, to]
// that have no description yet, for the lazy enrichment pass.
func (r *Repository) NamesWithoutDescription(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT event_name
		FROM economic_events
		WHERE date BETWEEN $1 AND $2 AND event_description IS NULL
		ORDER BY event_name`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetDescriptions fills descriptions for events that still lack one
func (r *Repository) SetDescriptions(ctx context.Context, descriptions map[string]string) error {
	if len(descriptions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		UPDATE economic_events
		SET event_description = $1
		WHERE event_name = $2 AND event_description IS NULL`

	for name, description := range descriptions {
		batch.Queue(query, description, name)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range descriptions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to set description: %w", err)
		}
	}
	return nil
}

// GetAnalysis loads a cached event analysis
func (r *Repository) GetAnalysis(ctx context.Context, eventName, currency string, date time.Time) (*contracts.EventAnalysis, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT analysis
		FROM ai_event_analyses
		WHERE event_name = $1 AND currency = $2 AND event_date = $3`,
		eventName, currency, date,
	).Scan(&payload)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, err
	}

	var analysis contracts.EventAnalysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode cached analysis: %w", err)
	}
	return &analysis, nil
}

// SaveAnalysis caches an analysis write-once: a concurrent generation
// for the same key silently keeps the first row.
func (r *Repository) SaveAnalysis(ctx context.Context, eventName, currency string, date time.Time, analysis *contracts.EventAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO ai_event_analyses (event_name, currency, event_date, analysis)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_name, currency, event_date) DO NOTHING`,
		eventName, currency, date, payload)
	return err
}
