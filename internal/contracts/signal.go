package contracts

import "time"

// Signal directions produced by the scanner
const (
	DirectionBuy  = "COMPRA"
	DirectionSell = "VENTA"
)

// TradingSignal is one confirmed scanner signal. Rows are immutable
// once inserted and are consumed as a live-appended feed.
type TradingSignal struct {
	ID               int64     `json:"id"`
	Asset            string    `json:"asset"`
	Direction        string    `json:"direction"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfit       float64   `json:"take_profit"`
	Justification    string    `json:"justification"`
	TechnicalPattern string    `json:"technical_pattern"`
	CreatedAt        time.Time `json:"created_at"`
}
