package ingestion

import "strings"

// deprecatedSymbols maps legacy exchange tickers to their current names.
var deprecatedSymbols = map[string]string{
	"STR": "XLM",
	"BCC": "BCH",
}

// CanonicalSymbol trims and remaps a raw ticker.
func CanonicalSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if s, ok := deprecatedSymbols[symbol]; ok {
		return s
	}
	return symbol
}
