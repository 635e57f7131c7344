// Package config centralises runtime configuration for the sync core.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment identifies the runtime environment.
type Environment string

// Exchange names a supported exchange integration.
type Exchange string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Supported exchange keys. Keys are always lowercase.
const (
	ExchangeBinance   Exchange = "binance"
	ExchangeBybit     Exchange = "bybit"
	ExchangeOKX       Exchange = "okx"
	ExchangeBitget    Exchange = "bitget"
	ExchangeKucoin    Exchange = "kucoin"
	ExchangeGateio    Exchange = "gateio"
	ExchangeKraken    Exchange = "kraken"
	ExchangeMEXC      Exchange = "mexc"
	ExchangeHTX       Exchange = "htx"
	ExchangeBingX     Exchange = "bingx"
	ExchangeCoinbase  Exchange = "coinbase"
	ExchangeCryptocom Exchange = "cryptocom"
)

// REST surface identifiers. A venue splits the same logical capability across
// several endpoint families; the futures fallback cascade walks these in order.
const (
	// SurfaceSpot identifies the spot REST surface.
	SurfaceSpot string = "spot"
	// SurfaceLinear identifies the USDT-margined futures REST surface.
	SurfaceLinear string = "linear"
	// SurfaceInverse identifies the coin-margined futures REST surface.
	SurfaceInverse string = "inverse"
	// SurfaceStandard identifies a legacy standard-contract REST surface.
	SurfaceStandard string = "standard"
)

// ExchangeSettings aggregates transport configuration for one venue.
type ExchangeSettings struct {
	// REST maps surface identifiers to base URLs.
	REST map[string]string `yaml:"rest"`
	// HTTPTimeout bounds every outbound call so a stalled upstream cannot
	// hang a sync indefinitely.
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	// Pacing is the minimum inter-request delay applied before any
	// authenticated call.
	Pacing time.Duration `yaml:"pacing"`
	// RecvWindow is the signed-request validity window for venues that use one.
	RecvWindow time.Duration `yaml:"recvWindow"`
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment
	Exchanges   map[Exchange]ExchangeSettings
	Telemetry   TelemetryConfig
}

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultRecvWindow  = 5 * time.Second
)

// Default returns the production endpoint set for every supported venue.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Exchanges: map[Exchange]ExchangeSettings{
			ExchangeBinance: {
				REST: map[string]string{
					SurfaceSpot:    "https://api.binance.com",
					SurfaceLinear:  "https://fapi.binance.com",
					SurfaceInverse: "https://dapi.binance.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      100 * time.Millisecond,
				RecvWindow:  defaultRecvWindow,
			},
			ExchangeBybit: {
				REST: map[string]string{
					SurfaceSpot: "https://api.bybit.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      120 * time.Millisecond,
				RecvWindow:  defaultRecvWindow,
			},
			ExchangeOKX: {
				REST: map[string]string{
					SurfaceSpot: "https://www.okx.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      120 * time.Millisecond,
			},
			ExchangeBitget: {
				REST: map[string]string{
					SurfaceSpot: "https://api.bitget.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
			ExchangeKucoin: {
				REST: map[string]string{
					SurfaceSpot: "https://api.kucoin.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
			ExchangeGateio: {
				REST: map[string]string{
					SurfaceSpot: "https://api.gateio.ws",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
			ExchangeKraken: {
				REST: map[string]string{
					SurfaceSpot: "https://api.kraken.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      500 * time.Millisecond,
			},
			ExchangeMEXC: {
				REST: map[string]string{
					SurfaceSpot: "https://api.mexc.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      100 * time.Millisecond,
				RecvWindow:  defaultRecvWindow,
			},
			ExchangeHTX: {
				REST: map[string]string{
					SurfaceSpot: "https://api.huobi.pro",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
			ExchangeBingX: {
				REST: map[string]string{
					SurfaceSpot:     "https://open-api.bingx.com",
					SurfaceLinear:   "https://open-api.bingx.com",
					SurfaceInverse:  "https://open-api.bingx.com",
					SurfaceStandard: "https://open-api.bingx.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      200 * time.Millisecond,
			},
			ExchangeCoinbase: {
				REST: map[string]string{
					SurfaceSpot: "https://api.exchange.coinbase.com",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
			ExchangeCryptocom: {
				REST: map[string]string{
					SurfaceSpot: "https://api.crypto.com/v2",
				},
				HTTPTimeout: defaultHTTPTimeout,
				Pacing:      150 * time.Millisecond,
			},
		},
		Telemetry: TelemetryConfig{OTLPEndpoint: "", ServiceName: "exsync"},
	}
}

// SupportedExchanges lists the exchange keys this build can initialize.
func SupportedExchanges() []Exchange {
	return []Exchange{
		ExchangeBinance, ExchangeBybit, ExchangeOKX, ExchangeBitget,
		ExchangeKucoin, ExchangeGateio, ExchangeKraken, ExchangeMEXC,
		ExchangeHTX, ExchangeBingX, ExchangeCoinbase, ExchangeCryptocom,
	}
}

// IsSupported reports whether the key names a known exchange integration.
func IsSupported(name string) bool {
	key := Exchange(NormalizeExchangeName(name))
	for _, ex := range SupportedExchanges() {
		if ex == key {
			return true
		}
	}
	return false
}

// NormalizeExchangeName lowercases and trims an exchange key.
func NormalizeExchangeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FromEnv loads configuration values from environment variables, overriding
// defaults. Recognized variables follow the pattern
// EXSYNC_<EXCHANGE>_<SURFACE>_BASE_URL plus EXSYNC_<EXCHANGE>_HTTP_TIMEOUT.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("EXSYNC_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("EXSYNC_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	for _, ex := range SupportedExchanges() {
		settings := cfg.Exchanges[ex]
		prefix := "EXSYNC_" + strings.ToUpper(string(ex)) + "_"
		for _, surface := range []string{SurfaceSpot, SurfaceLinear, SurfaceInverse, SurfaceStandard} {
			key := prefix + strings.ToUpper(surface) + "_BASE_URL"
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				if settings.REST == nil {
					settings.REST = make(map[string]string)
				}
				settings.REST[surface] = v
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "HTTP_TIMEOUT")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.HTTPTimeout = dur
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "PACING")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.Pacing = dur
			}
		}
		cfg.Exchanges[ex] = settings
	}
	return cfg
}

// Exchange returns the venue-specific configuration if present.
func (s Settings) Exchange(name Exchange) (ExchangeSettings, bool) {
	if len(s.Exchanges) == 0 {
		return ExchangeSettings{}, false
	}
	cfg, ok := s.Exchanges[Exchange(NormalizeExchangeName(string(name)))]
	if !ok {
		return ExchangeSettings{}, false
	}
	return cloneExchangeSettings(cfg), true
}

// BaseURL resolves a surface base URL with the spot surface as fallback.
func (e ExchangeSettings) BaseURL(surface string) string {
	if len(e.REST) == 0 {
		return ""
	}
	if v := strings.TrimSpace(e.REST[surface]); v != "" {
		return strings.TrimSuffix(v, "/")
	}
	return strings.TrimSuffix(strings.TrimSpace(e.REST[SurfaceSpot]), "/")
}

// Timeout returns the configured HTTP deadline, defaulting when unset.
func (e ExchangeSettings) Timeout() time.Duration {
	if e.HTTPTimeout <= 0 {
		return defaultHTTPTimeout
	}
	return e.HTTPTimeout
}

func cloneExchangeSettings(in ExchangeSettings) ExchangeSettings {
	out := in
	if in.REST != nil {
		out.REST = make(map[string]string, len(in.REST))
		for k, v := range in.REST {
			out.REST[k] = v
		}
	}
	return out
}
