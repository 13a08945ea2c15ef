// Package common provides shared utilities across the application.
package common

import (
	"strings"
)

// Ticker represents a parsed exchange-qualified ticker.
// Format: EXCHANGE:CODE (e.g., "ASX:GNP", "NYSE:AAPL")
type Ticker struct {
	// Exchange is the exchange code (e.g., "ASX", "NYSE", "NASDAQ")
	Exchange string
	// Code is the stock/security code (e.g., "GNP", "AAPL")
	Code string
	// Raw is the original ticker string
	Raw string
}

// KnownExchanges lists the exchange codes recognized when parsing the
// dot-separated form. Codes themselves can contain dots, so a dot prefix
// is only treated as an exchange when it appears here.
var KnownExchanges = map[string]bool{
	"ASX":    true,
	"NYSE":   true,
	"NASDAQ": true,
	"LSE":    true,
	"TSX":    true,
	"XETRA":  true,
	"INDX":   true,
}

// DefaultExchange is the default exchange used when parsing tickers without an exchange prefix.
// Can be overridden via [markets] default config in TOML.
var DefaultExchange = "ASX"

// SetDefaultExchange sets the default exchange for parsing tickers.
// Called during app initialization from config.
func SetDefaultExchange(exchange string) {
	if exchange != "" {
		DefaultExchange = strings.ToUpper(exchange)
	}
}

// ParseTicker parses an exchange-qualified ticker string.
// Supports formats:
//   - "ASX:GNP" -> Exchange="ASX", Code="GNP" (colon separator)
//   - "ASX.GNP" -> Exchange="ASX", Code="GNP" (dot separator)
//   - "GNP" -> Exchange=DefaultExchange (default), Code="GNP"
//   - "gnp" -> Exchange=DefaultExchange, Code="GNP" (normalized to uppercase)
func ParseTicker(ticker string) Ticker {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return Ticker{}
	}

	// Check for exchange prefix with colon separator (EXCHANGE:CODE)
	if idx := strings.Index(ticker, ":"); idx > 0 {
		exchange := strings.ToUpper(ticker[:idx])
		code := strings.ToUpper(ticker[idx+1:])
		return Ticker{
			Exchange: exchange,
			Code:     code,
			Raw:      ticker,
		}
	}

	// Check for exchange prefix with dot separator (EXCHANGE.CODE)
	// Only match if the prefix is a known exchange to avoid conflicts with codes containing dots
	if idx := strings.Index(ticker, "."); idx > 0 {
		possibleExchange := strings.ToUpper(ticker[:idx])
		if KnownExchanges[possibleExchange] {
			code := strings.ToUpper(ticker[idx+1:])
			return Ticker{
				Exchange: possibleExchange,
				Code:     code,
				Raw:      ticker,
			}
		}
	}

	// No exchange prefix - use default exchange
	return Ticker{
		Exchange: DefaultExchange,
		Code:     strings.ToUpper(ticker),
		Raw:      ticker,
	}
}

// String returns the full exchange-qualified ticker string.
func (t Ticker) String() string {
	if t.Exchange == "" || t.Code == "" {
		return t.Code
	}
	return t.Exchange + ":" + t.Code
}

// ParseTickers parses a list of ticker strings.
func ParseTickers(tickers []string) []Ticker {
	result := make([]Ticker, 0, len(tickers))
	for _, t := range tickers {
		if parsed := ParseTicker(t); parsed.Code != "" {
			result = append(result, parsed)
		}
	}
	return result
}

// ParseTickersFromInterface parses tickers from interface{} (for TOML config).
func ParseTickersFromInterface(value interface{}) []Ticker {
	var result []Ticker

	switch v := value.(type) {
	case string:
		// Single ticker as string
		if parsed := ParseTicker(v); parsed.Code != "" {
			result = append(result, parsed)
		}
	case []string:
		// List of strings
		for _, s := range v {
			if parsed := ParseTicker(s); parsed.Code != "" {
				result = append(result, parsed)
			}
		}
	case []interface{}:
		// List from TOML/JSON
		for _, item := range v {
			if s, ok := item.(string); ok {
				if parsed := ParseTicker(s); parsed.Code != "" {
					result = append(result, parsed)
				}
			}
		}
	}

	return result
}

// TickerStrings returns the normalized EXCHANGE:CODE form of each ticker.
func TickerStrings(tickers []Ticker) []string {
	result := make([]string, 0, len(tickers))
	for _, t := range tickers {
		result = append(result, t.String())
	}
	return result
}
