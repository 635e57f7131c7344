package config

import (
	"testing"
	"time"
)

func TestDefaultCoversEverySupportedExchange(t *testing.T) {
	cfg := Default()
	for _, ex := range SupportedExchanges() {
		settings, ok := cfg.Exchanges[ex]
		if !ok {
			t.Fatalf("missing default settings for %s", ex)
		}
		if settings.BaseURL(SurfaceSpot) == "" {
			t.Fatalf("missing spot base URL for %s", ex)
		}
		if settings.Timeout() <= 0 {
			t.Fatalf("missing timeout for %s", ex)
		}
		if settings.Pacing <= 0 {
			t.Fatalf("missing pacing interval for %s", ex)
		}
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("Binance") {
		t.Fatalf("expected binance to be supported regardless of case")
	}
	if IsSupported("ftx") {
		t.Fatalf("expected unknown exchange to be unsupported")
	}
}

func TestBaseURLFallsBackToSpot(t *testing.T) {
	settings := ExchangeSettings{REST: map[string]string{SurfaceSpot: "https://api.kraken.com/"}}
	if got := settings.BaseURL(SurfaceLinear); got != "https://api.kraken.com" {
		t.Fatalf("expected spot fallback without trailing slash, got %q", got)
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
environment: staging
exchanges:
  binance:
    rest:
      spot: http://127.0.0.1:9001
    httpTimeout: 2s
    pacing: 1ms
telemetry:
  otlpEndpoint: http://127.0.0.1:4318
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("parse overrides: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging environment, got %s", cfg.Environment)
	}
	settings, ok := cfg.Exchange(ExchangeBinance)
	if !ok {
		t.Fatalf("binance settings missing after override")
	}
	if settings.BaseURL(SurfaceSpot) != "http://127.0.0.1:9001" {
		t.Fatalf("spot override not applied: %q", settings.BaseURL(SurfaceSpot))
	}
	if settings.BaseURL(SurfaceLinear) != "https://fapi.binance.com" {
		t.Fatalf("unrelated surface should keep default: %q", settings.BaseURL(SurfaceLinear))
	}
	if settings.HTTPTimeout != 2*time.Second {
		t.Fatalf("timeout override not applied: %v", settings.HTTPTimeout)
	}
	if cfg.Telemetry.OTLPEndpoint != "http://127.0.0.1:4318" {
		t.Fatalf("telemetry override not applied: %q", cfg.Telemetry.OTLPEndpoint)
	}
}

func TestParseRejectsUnknownExchange(t *testing.T) {
	data := []byte(`
exchanges:
  ftx:
    rest:
      spot: http://127.0.0.1:9001
`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected error for unsupported exchange key")
	}
}
