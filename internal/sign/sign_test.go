package sign

import (
	"net/url"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
}

func TestHMACSHA256HexDeterministic(t *testing.T) {
	a := HMACSHA256Hex("secret", "symbol=BTCUSDT&timestamp=1700000000000")
	b := HMACSHA256Hex("secret", "symbol=BTCUSDT&timestamp=1700000000000")
	if a != b {
		t.Fatalf("signature not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHMACSHA256HexKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := HMACSHA256Hex("Jefe", "what do ya want for nothing?")
	expected := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != expected {
		t.Fatalf("unexpected digest: %s", got)
	}
}

func TestCanonicalQueryStableOrdering(t *testing.T) {
	first := url.Values{}
	first.Set("timestamp", "1700000000000")
	first.Set("symbol", "BTCUSDT")
	first.Set("limit", "500")

	second := url.Values{}
	second.Set("limit", "500")
	second.Set("symbol", "BTCUSDT")
	second.Set("timestamp", "1700000000000")

	if CanonicalQuery(first) != CanonicalQuery(second) {
		t.Fatalf("canonicalization depends on insertion order: %q vs %q",
			CanonicalQuery(first), CanonicalQuery(second))
	}
	if CanonicalQuery(first) != "limit=500&symbol=BTCUSDT&timestamp=1700000000000" {
		t.Fatalf("unexpected canonical form: %q", CanonicalQuery(first))
	}
}

func TestSortedConcat(t *testing.T) {
	got := SortedConcat(map[string]string{
		"instrument_name": "BTC_USDT",
		"count":           "25",
	})
	if got != "count25instrument_nameBTC_USDT" {
		t.Fatalf("unexpected concat: %q", got)
	}
}

func TestTimestampForms(t *testing.T) {
	if got := TimestampMS(fixedClock); got != "1709296245123" {
		t.Fatalf("unexpected ms timestamp: %s", got)
	}
	if got := TimestampS(fixedClock); got != "1709296245" {
		t.Fatalf("unexpected s timestamp: %s", got)
	}
	if got := TimestampISO(fixedClock); got != "2024-03-01T12:30:45.123Z" {
		t.Fatalf("unexpected iso timestamp: %s", got)
	}
	if got := Nonce(fixedClock); got != "1709296245123" {
		t.Fatalf("unexpected nonce: %s", got)
	}
}
