package shared

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDecimalFallsThroughCandidates(t *testing.T) {
	cases := []struct {
		name       string
		candidates []string
		expected   string
	}{
		{"first wins", []string{"1.5", "2.5"}, "1.5"},
		{"skips empty", []string{"", "2.5"}, "2.5"},
		{"skips garbage", []string{"abc", "0.001"}, "0.001"},
		{"all absent", []string{"", "  ", "NaN-ish"}, "0"},
		{"no candidates", nil, "0"},
	}
	for _, tc := range cases {
		got := Decimal(tc.candidates...)
		if got.String() != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestAbsDecimal(t *testing.T) {
	if got := AbsDecimal("-0.25"); got.String() != "0.25" {
		t.Fatalf("expected 0.25, got %s", got)
	}
}

func TestFieldDecimalProbesPathsInOrder(t *testing.T) {
	body := []byte(`{"data":{"dealSize":"0.75","size":"1.25"}}`)
	if got := FieldDecimal(body, "data.qty", "data.dealSize", "data.size"); got.String() != "0.75" {
		t.Fatalf("expected first present path to win, got %s", got)
	}
	if got := FieldDecimal(body, "data.qty", "data.missing"); !got.IsZero() {
		t.Fatalf("expected zero for absent paths, got %s", got)
	}
}

func TestFieldStringAndInt(t *testing.T) {
	body := []byte(`{"fee":{"cost":"0.1","currency":"USDT"},"id":991}`)
	if got := FieldString(body, "fee.asset", "fee.currency"); got != "USDT" {
		t.Fatalf("expected USDT, got %q", got)
	}
	if got := FieldInt(body, "tradeId", "id"); got != 991 {
		t.Fatalf("expected 991, got %d", got)
	}
}

func TestEpochMillisHandlesBothUnits(t *testing.T) {
	ms := int64(1700000000000)
	if got := EpochMillis(ms); got.UnixMilli() != ms {
		t.Fatalf("millisecond epoch mishandled: %v", got)
	}
	s := int64(1700000000)
	if got := EpochMillis(s); got.Unix() != s {
		t.Fatalf("second epoch mishandled: %v", got)
	}
	if !EpochMillis(0).IsZero() {
		t.Fatalf("zero epoch should produce zero time")
	}
}

func TestEpochStringToleratesFractions(t *testing.T) {
	if got := EpochString("1700000000000"); got.UnixMilli() != 1700000000000 {
		t.Fatalf("integer string mishandled: %v", got)
	}
	if got := EpochString("1700000000.5"); got.UnixMilli() != 1700000000500 {
		t.Fatalf("fractional seconds mishandled: %v", got)
	}
	if !EpochString("garbage").IsZero() {
		t.Fatalf("garbage should produce zero time")
	}
}

func TestTimestampPrefersFirstNonZero(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := Timestamp(zerolog.Nop(), "trade", time.Time{}, want, time.Now())
	if !got.Equal(want) {
		t.Fatalf("expected first non-zero candidate, got %v", got)
	}
}

func TestTimestampDegradesToNow(t *testing.T) {
	before := time.Now().UTC()
	got := Timestamp(zerolog.Nop(), "trade", time.Time{}, time.Time{})
	if got.Before(before) || time.Since(got) > time.Minute {
		t.Fatalf("expected degradation to now, got %v", got)
	}
}
