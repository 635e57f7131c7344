// Package schema defines the canonical record shapes every exchange adapter
// produces, regardless of source venue.
package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// TradingType selects which market surface a sync targets.
type TradingType string

const (
	// TradingTypeSpot targets spot trade history.
	TradingTypeSpot TradingType = "spot"
	// TradingTypeFutures targets derivatives trade history.
	TradingTypeFutures TradingType = "futures"
)

// Side is a normalized execution side, always lowercase.
type Side string

const (
	// SideBuy marks a buy execution.
	SideBuy Side = "buy"
	// SideSell marks a sell execution.
	SideSell Side = "sell"
)

// Credentials holds the API key material for one exchange account.
// Immutable once constructed and never logged.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Empty reports whether no key material is present.
func (c Credentials) Empty() bool {
	return c.Key == "" && c.Secret == ""
}

// String redacts key material so credentials cannot leak through formatting.
func (c Credentials) String() string { return "credentials(redacted)" }

// FetchOptions configures a single history fetch. Zero values mean
// "no constraint"; adapters translate the window into the venue's epoch unit
// and cap Limit at the venue-specific maximum.
type FetchOptions struct {
	Symbol      string
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
	TradingType TradingType
}

// CappedLimit applies the venue maximum to the requested limit.
func (o FetchOptions) CappedLimit(max int) int {
	if o.Limit <= 0 || o.Limit > max {
		return max
	}
	return o.Limit
}

// Trade is the canonical execution record. Price, Quantity and Fee are always
// finite and non-negative; malformed source fields normalize to zero.
type Trade struct {
	ID           string          `json:"id"`
	Exchange     string          `json:"exchange"`
	Symbol       string          `json:"symbol"` // always BASE/QUOTE
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Fee          decimal.Decimal `json:"fee"`
	FeeCurrency  string          `json:"feeCurrency,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	OrderID      string          `json:"orderId,omitempty"`
	Role         string          `json:"role,omitempty"` // maker/taker when the venue reports it
	PositionSide string          `json:"positionSide,omitempty"`
}

// Balance is one non-zero currency holding on an exchange.
type Balance struct {
	Exchange string          `json:"exchange"`
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
	Total    decimal.Decimal `json:"total"`
}

// IsZero reports whether the holding is empty and should be filtered out.
func (b Balance) IsZero() bool {
	return b.Free.IsZero() && b.Locked.IsZero()
}

// Order is a canonical order record.
type Order struct {
	ID        string          `json:"id"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Type      string          `json:"type,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled"`
	Status    string          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Deposit is a canonical deposit record.
type Deposit struct {
	ID        string          `json:"id"`
	Exchange  string          `json:"exchange"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status,omitempty"`
	TxID      string          `json:"txId,omitempty"`
	Address   string          `json:"address,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Withdrawal is a canonical withdrawal record.
type Withdrawal struct {
	ID        string          `json:"id"`
	Exchange  string          `json:"exchange"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Status    string          `json:"status,omitempty"`
	TxID      string          `json:"txId,omitempty"`
	Address   string          `json:"address,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HealthState classifies an adapter's availability.
type HealthState string

const (
	// HealthHealthy means the probe succeeded under the latency threshold.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded means the probe succeeded but exceeded the threshold.
	HealthDegraded HealthState = "degraded"
	// HealthDown means the probe failed.
	HealthDown HealthState = "down"
)

// Health is the result of a lightweight availability probe.
type Health struct {
	Status    HealthState
	Latency   time.Duration
	LastError string
}

// MarshalJSON renders latency in whole milliseconds to match the latencyMs key.
func (h Health) MarshalJSON() ([]byte, error) {
	type wire struct {
		Status    HealthState `json:"status"`
		LatencyMS int64       `json:"latencyMs"`
		LastError string      `json:"lastError,omitempty"`
	}
	return json.Marshal(wire{Status: h.Status, LatencyMS: h.Latency.Milliseconds(), LastError: h.LastError})
}

// NormalizeSide lowercases a venue side string into the canonical form.
// Unknown values fall through unchanged but lowercased so callers can still
// distinguish them.
func NormalizeSide(raw string) Side {
	switch lower(raw) {
	case "buy", "b", "bid":
		return SideBuy
	case "sell", "s", "ask":
		return SideSell
	default:
		return Side(lower(raw))
	}
}
