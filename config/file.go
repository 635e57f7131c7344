package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSettings mirrors the YAML override file layout.
type fileSettings struct {
	Environment string                      `yaml:"environment"`
	Exchanges   map[string]exchangeOverride `yaml:"exchanges"`
	Telemetry   TelemetryConfig             `yaml:"telemetry"`
}

type exchangeOverride struct {
	REST        map[string]string `yaml:"rest"`
	HTTPTimeout time.Duration     `yaml:"httpTimeout"`
	Pacing      time.Duration     `yaml:"pacing"`
	RecvWindow  time.Duration     `yaml:"recvWindow"`
}

// LoadFile reads a YAML override file and merges it over the defaults.
// Unknown exchange keys are a configuration error so typos surface loudly
// instead of being silently ignored.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse merges YAML override content over the default settings.
func Parse(data []byte) (Settings, error) {
	var overrides fileSettings
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if env := strings.TrimSpace(overrides.Environment); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(overrides.Telemetry.OTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(overrides.Telemetry.ServiceName); v != "" {
		cfg.Telemetry.ServiceName = v
	}

	for name, override := range overrides.Exchanges {
		key := Exchange(NormalizeExchangeName(name))
		settings, ok := cfg.Exchanges[key]
		if !ok {
			return Settings{}, fmt.Errorf("config file references unsupported exchange %q", name)
		}
		for surface, baseURL := range override.REST {
			trimmed := strings.TrimSpace(baseURL)
			if trimmed == "" {
				continue
			}
			if settings.REST == nil {
				settings.REST = make(map[string]string)
			}
			settings.REST[strings.ToLower(strings.TrimSpace(surface))] = trimmed
		}
		if override.HTTPTimeout > 0 {
			settings.HTTPTimeout = override.HTTPTimeout
		}
		if override.Pacing > 0 {
			settings.Pacing = override.Pacing
		}
		if override.RecvWindow > 0 {
			settings.RecvWindow = override.RecvWindow
		}
		cfg.Exchanges[key] = settings
	}
	return cfg, nil
}
