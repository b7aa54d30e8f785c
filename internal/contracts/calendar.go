package contracts

import "time"

// Impact tiers used by the calendar provider
const (
	ImpactHigh   = "High"
	ImpactMedium = "Medium"
	ImpactLow    = "Low"
)

// EconomicEvent is one calendar entry. The composite natural key is
// (Date, EventName); refresh runs upsert idempotently on that key, and
// a Description, once populated, is never overwritten.
type EconomicEvent struct {
	Date        time.Time `json:"date"`
	EventName   string    `json:"event_name"`
	Country     string    `json:"country"`
	Currency    string    `json:"currency"`
	Impact      string    `json:"impact"`
	Actual      string    `json:"actual"`
	Estimate    string    `json:"estimate"`
	Previous    string    `json:"previous"`
	Translated  string    `json:"event_translated,omitempty"`
	Description *string   `json:"event_description,omitempty"`
}

// EventAnalysis is a generated deep-dive for one event instance,
// cached write-once under (event_name, currency, date).
type EventAnalysis struct {
	ProfessionalDescription string             `json:"professional_description"`
	HistoricalAnalysis      string             `json:"historical_analysis"`
	ForecastScenarios       []ForecastScenario `json:"forecast_scenarios"`
}

// ForecastScenario is one outcome branch of an event analysis
type ForecastScenario struct {
	Scenario       string `json:"scenario"`
	Recommendation string `json:"recommendation"`
}
