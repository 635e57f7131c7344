package schema

import "strings"

// quoteCurrencies lists known quote assets ordered longest-first so that
// concatenated venue symbols (BTCUSDT) split deterministically.
var quoteCurrencies = []string{
	"USDT", "USDC", "TUSD", "BUSD", "FDUSD", "USDE", "DAI",
	"USD", "EUR", "GBP", "AUD", "JPY", "TRY", "BRL",
	"BTC", "ETH", "BNB", "SOL", "XRP", "DOGE",
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// JoinSymbol renders the canonical BASE/QUOTE form.
func JoinSymbol(base, quote string) string {
	b := strings.ToUpper(strings.TrimSpace(base))
	q := strings.ToUpper(strings.TrimSpace(quote))
	if b == "" || q == "" {
		return ""
	}
	return b + "/" + q
}

// SplitSymbol breaks a canonical BASE/QUOTE symbol into its parts.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// SymbolFromDelimited converts a venue symbol with an explicit delimiter
// (BTC-USDT, BTC_USDT) into canonical form.
func SymbolFromDelimited(raw, delim string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, delim, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return trimmed
	}
	return parts[0] + "/" + parts[1]
}

// SymbolToDelimited renders a canonical symbol in the venue's delimiter
// convention. The canonical input passes through unchanged when it has no
// slash, so venue-native filters survive round-trips.
func SymbolToDelimited(symbol, delim string) string {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return base + delim + quote
}

// SymbolFromConcat splits a concatenated venue symbol (BTCUSDT) by matching
// the longest known quote suffix. Symbols with no recognizable quote return
// unchanged so the caller still sees the venue form rather than losing data.
func SymbolFromConcat(raw string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	best := ""
	for _, quote := range quoteCurrencies {
		if len(trimmed) > len(quote) && strings.HasSuffix(trimmed, quote) && len(quote) > len(best) {
			best = quote
		}
	}
	if best == "" {
		return trimmed
	}
	return trimmed[:len(trimmed)-len(best)] + "/" + best
}

// SymbolToConcat renders a canonical symbol without a delimiter.
func SymbolToConcat(symbol string) string {
	return SymbolToDelimited(symbol, "")
}
