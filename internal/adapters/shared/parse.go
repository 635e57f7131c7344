package shared

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// DecimalOK parses one string into a decimal, reporting success.
func DecimalOK(value string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, false
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return dec, true
}

// Decimal walks the candidate values in order and returns the first that
// parses; every candidate absent or malformed normalizes to zero, never NaN.
func Decimal(candidates ...string) decimal.Decimal {
	for _, candidate := range candidates {
		if dec, ok := DecimalOK(candidate); ok {
			return dec
		}
	}
	return decimal.Zero
}

// AbsDecimal normalizes signed venue quantities into the canonical
// non-negative form.
func AbsDecimal(candidates ...string) decimal.Decimal {
	return Decimal(candidates...).Abs()
}

// FieldDecimal probes a raw JSON document through an ordered list of gjson
// paths, for venues that rename the same concept across endpoint versions.
func FieldDecimal(body []byte, paths ...string) decimal.Decimal {
	for _, path := range paths {
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			continue
		}
		if dec, ok := DecimalOK(result.String()); ok {
			return dec
		}
	}
	return decimal.Zero
}

// FieldString probes a raw JSON document for the first present string value.
func FieldString(body []byte, paths ...string) string {
	for _, path := range paths {
		result := gjson.GetBytes(body, path)
		if result.Exists() {
			if s := strings.TrimSpace(result.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// FieldInt probes a raw JSON document for the first present integer value.
func FieldInt(body []byte, paths ...string) int64 {
	for _, path := range paths {
		result := gjson.GetBytes(body, path)
		if result.Exists() {
			return result.Int()
		}
	}
	return 0
}

// EpochMillis converts an epoch value of unknown unit into UTC time. Values
// small enough to be seconds are scaled; zero yields the zero time.
func EpochMillis(raw int64) time.Time {
	if raw <= 0 {
		return time.Time{}
	}
	// Seconds-resolution epochs stay below this bound until the year 33658.
	if raw < 1_000_000_000_000 {
		return time.Unix(raw, 0).UTC()
	}
	return time.UnixMilli(raw).UTC()
}

// EpochString parses a numeric epoch rendered as a string, tolerating
// fractional seconds.
func EpochString(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return EpochMillis(parsed)
	}
	if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return EpochMillis(int64(parsed * 1000))
	}
	return time.Time{}
}

// Timestamp returns the first non-zero candidate. When every candidate is
// absent it degrades to the current time, explicitly logged so silent clock
// substitution never reaches persisted records.
func Timestamp(log zerolog.Logger, record string, candidates ...time.Time) time.Time {
	for _, candidate := range candidates {
		if !candidate.IsZero() {
			return candidate
		}
	}
	now := time.Now().UTC()
	log.Warn().Str("record", record).Time("fallback", now).
		Msg("timestamp missing from response, defaulting to now")
	return now
}
