// Package normalize canonicalizes asset symbols and timeframes
// extracted from model output into a fixed vocabulary. The functions
// are pure and total: uninterpretable input yields "", never an error,
// and the caller decides whether that is significant.
package normalize

import (
	"regexp"
	"strings"
)

var assetPattern = regexp.MustCompile(`^[A-Z]{3}/[A-Z]{3}$`)

// timeframeSynonyms maps provider and model spellings to canonical codes
var timeframeSynonyms = map[string]string{
	"1min": "1m", "1minute": "1m", "1m": "1m",
	"5min": "5m", "5minutes": "5m", "5m": "5m",
	"15min": "15m", "15minutes": "15m", "15m": "15m",
	"30min": "30m", "30minutes": "30m", "30m": "30m", "30": "30m",
	"1hour": "H1", "h1": "H1", "1h": "H1", "60min": "H1",
	"4hours": "H4", "h4": "H4", "4h": "H4", "240min": "H4",
	"daily": "D1", "d1": "D1", "diario": "D1",
	"weekly": "W1", "w1": "W1", "semanal": "W1",
	"monthly": "MN", "mn": "MN", "mensual": "MN",
}

// canonicalTimeframes is the closed set of accepted codes
var canonicalTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"H1": true, "H4": true, "D1": true, "W1": true, "MN": true,
}

var sixLetters = regexp.MustCompile(`^[A-Z]{6}$`)
var hyphenPair = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)

// Asset canonicalizes a raw asset symbol to the LLL/LLL form, e.g.
// "eurusd" → "EUR/USD". Whitespace is stripped; a bare 6-letter symbol
// gets its separator inserted after the 3rd letter, and a hyphen in
// separator position is rewritten to a slash. Anything that does not
// end up as exactly three letters, a slash and three letters returns ""
// (a misplaced separator like "EU-R/USD" is uninterpretable, not fixable).
func Asset(raw string) string {
	normalized := strings.ToUpper(raw)
	normalized = strings.Join(strings.Fields(normalized), "")

	switch {
	case sixLetters.MatchString(normalized):
		normalized = normalized[:3] + "/" + normalized[3:]
	case hyphenPair.MatchString(normalized):
		normalized = normalized[:3] + "/" + normalized[4:]
	}

	if !assetPattern.MatchString(normalized) {
		return ""
	}
	return normalized
}

// Timeframe canonicalizes a raw timeframe to one of the fixed codes
// {1m,5m,15m,30m,H1,H4,D1,W1,MN}, e.g. "Daily" → "D1". Unknown values
// fall back to uppercasing the raw string; if the result is still not a
// canonical code, returns "".
func Timeframe(raw string) string {
	tf := strings.ToLower(raw)
	tf = strings.Join(strings.Fields(tf), "")

	normalized, ok := timeframeSynonyms[tf]
	if !ok {
		normalized = strings.ToUpper(strings.TrimSpace(raw))
	}

	if !canonicalTimeframes[normalized] {
		return ""
	}
	return normalized
}
