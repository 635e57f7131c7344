// Package service exposes the exchange-agnostic façade the rest of the
// application depends on. It owns the map of initialized adapters and wraps
// every sync-family operation in a uniform result envelope so callers never
// receive a raw error from a sync call.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/adapters/shared"
	"github.com/profitlens/exsync/internal/schema"
)

// futuresProbeWindow is the trade-history window used by the futures health
// check when the adapter has no dedicated futures connectivity probe.
const futuresProbeWindow = 24 * time.Hour

// defaultSyncAllWorkers bounds SyncAll concurrency across venues.
const defaultSyncAllWorkers = 4

// Service is the adapter registry façade. Safe for concurrent use.
type Service struct {
	mu       sync.RWMutex
	adapters map[string]adapters.Adapter

	registry *adapters.Registry
	settings config.Settings
	log      zerolog.Logger
}

// New constructs a Service dispatching through the given factory registry.
func New(settings config.Settings, registry *adapters.Registry, log zerolog.Logger) *Service {
	return &Service{
		adapters: make(map[string]adapters.Adapter),
		registry: registry,
		settings: settings,
		log:      log.With().Str("component", "service").Logger(),
	}
}

// TradesResult is the envelope for trade syncs.
type TradesResult struct {
	Success bool           `json:"success"`
	RunID   string         `json:"runId"`
	Trades  []schema.Trade `json:"trades,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BalancesResult is the envelope for balance syncs.
type BalancesResult struct {
	Success  bool             `json:"success"`
	RunID    string           `json:"runId"`
	Balances []schema.Balance `json:"balances,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// OrdersResult is the envelope for order syncs.
type OrdersResult struct {
	Success bool           `json:"success"`
	RunID   string         `json:"runId"`
	Orders  []schema.Order `json:"orders,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// DepositsResult is the envelope for deposit syncs.
type DepositsResult struct {
	Success  bool             `json:"success"`
	RunID    string           `json:"runId"`
	Deposits []schema.Deposit `json:"deposits,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// WithdrawalsResult is the envelope for withdrawal syncs.
type WithdrawalsResult struct {
	Success     bool                `json:"success"`
	RunID       string              `json:"runId"`
	Withdrawals []schema.Withdrawal `json:"withdrawals,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Initialize constructs the adapter for the exchange, gates it behind one
// connection test, and registers it on success. A failed connection test
// returns (false, nil): rejected credentials are an expected outcome the
// caller surfaces to the end user, not a service fault. An unknown exchange
// key is a configuration error and does return an error.
func (s *Service) Initialize(ctx context.Context, exchange string, creds schema.Credentials) (bool, error) {
	key := config.NormalizeExchangeName(exchange)
	if !config.IsSupported(key) {
		return false, fmt.Errorf("unsupported exchange %q", exchange)
	}
	settings, ok := s.settings.Exchange(config.Exchange(key))
	if !ok {
		return false, fmt.Errorf("no configuration for exchange %q", exchange)
	}
	adapter, err := s.registry.Create(key, settings, creds, s.log)
	if err != nil {
		return false, err
	}
	if !adapter.TestConnection(ctx) {
		s.log.Warn().Str("exchange", key).Msg("connection test failed, adapter not registered")
		return false, nil
	}
	s.mu.Lock()
	s.adapters[key] = adapter
	s.mu.Unlock()
	s.log.Info().Str("exchange", key).Msg("adapter registered")
	return true, nil
}

// Adapter returns the registered adapter for the exchange, if any.
func (s *Service) Adapter(exchange string) (adapters.Adapter, bool) {
	key := config.NormalizeExchangeName(exchange)
	s.mu.RLock()
	defer s.mu.RUnlock()
	adapter, ok := s.adapters[key]
	return adapter, ok
}

// Remove unregisters the exchange's adapter and reports whether one existed.
func (s *Service) Remove(exchange string) bool {
	key := config.NormalizeExchangeName(exchange)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.adapters[key]
	delete(s.adapters, key)
	return ok
}

// Shutdown unregisters every adapter.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.adapters = make(map[string]adapters.Adapter)
	s.mu.Unlock()
}

// RegisteredExchanges lists the keys with a registered adapter, sorted.
func (s *Service) RegisteredExchanges() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.adapters))
	for key := range s.adapters {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Capabilities reports the capability flags of every registered adapter so
// callers can render capability-aware surfaces without probing.
func (s *Service) Capabilities() map[string]adapters.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]adapters.Capabilities, len(s.adapters))
	for key, adapter := range s.adapters {
		caps := adapter.Capabilities()
		if _, ok := adapter.(adapters.FuturesAdapter); !ok {
			caps.Futures = false
		}
		out[key] = caps
	}
	return out
}

// errorText renders an error for the envelope, preferring the structured
// message over the full key=value form.
func errorText(err error) string {
	if e, ok := errs.As(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// fetchTrades dispatches to the futures or spot surface per the requested
// trading type.
func fetchTrades(ctx context.Context, adapter adapters.Adapter, opts schema.FetchOptions) ([]schema.Trade, error) {
	if opts.TradingType == schema.TradingTypeFutures {
		futures, ok := adapter.(adapters.FuturesAdapter)
		if !ok {
			return nil, errs.NotSupported(adapter.Exchange(), "futures trading")
		}
		return futures.FetchFuturesTrades(ctx, opts)
	}
	return adapter.FetchTrades(ctx, opts)
}

// SyncTrades fetches trade history for one exchange. The result envelope
// carries either the normalized trades or a captured error message.
func (s *Service) SyncTrades(ctx context.Context, exchange string, opts schema.FetchOptions) TradesResult {
	runID := uuid.NewString()
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return TradesResult{RunID: runID, Error: errorText(errs.NotInitialized(exchange))}
	}
	log := s.log.With().Str("exchange", adapter.Exchange()).Str("run_id", runID).Logger()
	trades, err := fetchTrades(ctx, adapter, opts)
	if err != nil {
		log.Error().Err(err).Msg("trade sync failed")
		return TradesResult{RunID: runID, Error: errorText(err)}
	}
	log.Info().Int("count", len(trades)).Str("trading_type", string(opts.TradingType)).Msg("trade sync complete")
	return TradesResult{Success: true, RunID: runID, Trades: trades}
}

// SyncBalances fetches the exchange's non-zero holdings.
func (s *Service) SyncBalances(ctx context.Context, exchange string) BalancesResult {
	runID := uuid.NewString()
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return BalancesResult{RunID: runID, Error: errorText(errs.NotInitialized(exchange))}
	}
	balances, err := adapter.FetchBalances(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", adapter.Exchange()).Str("run_id", runID).Msg("balance sync failed")
		return BalancesResult{RunID: runID, Error: errorText(err)}
	}
	return BalancesResult{Success: true, RunID: runID, Balances: balances}
}

// SyncOrders fetches order history for one exchange.
func (s *Service) SyncOrders(ctx context.Context, exchange string, opts schema.FetchOptions) OrdersResult {
	runID := uuid.NewString()
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return OrdersResult{RunID: runID, Error: errorText(errs.NotInitialized(exchange))}
	}
	orders, err := adapter.FetchOrders(ctx, opts)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", adapter.Exchange()).Str("run_id", runID).Msg("order sync failed")
		return OrdersResult{RunID: runID, Error: errorText(err)}
	}
	return OrdersResult{Success: true, RunID: runID, Orders: orders}
}

// SyncDeposits fetches deposit history for one exchange.
func (s *Service) SyncDeposits(ctx context.Context, exchange string, opts schema.FetchOptions) DepositsResult {
	runID := uuid.NewString()
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return DepositsResult{RunID: runID, Error: errorText(errs.NotInitialized(exchange))}
	}
	deposits, err := adapter.FetchDeposits(ctx, opts)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", adapter.Exchange()).Str("run_id", runID).Msg("deposit sync failed")
		return DepositsResult{RunID: runID, Error: errorText(err)}
	}
	return DepositsResult{Success: true, RunID: runID, Deposits: deposits}
}

// SyncWithdrawals fetches withdrawal history for one exchange.
func (s *Service) SyncWithdrawals(ctx context.Context, exchange string, opts schema.FetchOptions) WithdrawalsResult {
	runID := uuid.NewString()
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return WithdrawalsResult{RunID: runID, Error: errorText(errs.NotInitialized(exchange))}
	}
	withdrawals, err := adapter.FetchWithdrawals(ctx, opts)
	if err != nil {
		s.log.Error().Err(err).Str("exchange", adapter.Exchange()).Str("run_id", runID).Msg("withdrawal sync failed")
		return WithdrawalsResult{RunID: runID, Error: errorText(err)}
	}
	return WithdrawalsResult{Success: true, RunID: runID, Withdrawals: withdrawals}
}

// SyncAll runs a trade sync for every registered adapter with bounded
// concurrency and returns the per-exchange envelopes.
func (s *Service) SyncAll(ctx context.Context, opts schema.FetchOptions) map[string]TradesResult {
	exchanges := s.RegisteredExchanges()
	results := make(map[string]TradesResult, len(exchanges))
	var mu sync.Mutex

	workers := defaultSyncAllWorkers
	if workers > len(exchanges) {
		workers = len(exchanges)
	}
	if workers < 1 {
		return results
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, exchange := range exchanges {
		ex := exchange
		p.Go(func() {
			result := s.SyncTrades(ctx, ex, opts)
			mu.Lock()
			results[ex] = result
			mu.Unlock()
		})
	}
	p.Wait()
	return results
}

// HealthCheck probes one exchange. An unregistered exchange reports down.
func (s *Service) HealthCheck(ctx context.Context, exchange string) schema.Health {
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return schema.Health{Status: schema.HealthDown, LastError: errorText(errs.NotInitialized(exchange))}
	}
	return adapter.HealthCheck(ctx)
}

// FuturesHealthCheck probes the futures surface. It prefers the adapter's
// dedicated futures connectivity test, falls back to a minimal 24-hour trade
// window probe, and reports down when the venue has no futures surface.
func (s *Service) FuturesHealthCheck(ctx context.Context, exchange string) schema.Health {
	adapter, ok := s.Adapter(exchange)
	if !ok {
		return schema.Health{Status: schema.HealthDown, LastError: errorText(errs.NotInitialized(exchange))}
	}
	if tester, ok := adapter.(adapters.FuturesConnTester); ok {
		return shared.MeasureHealth(ctx, func(ctx context.Context) error {
			if !tester.TestFuturesConnection(ctx) {
				return errors.New("futures connection test failed")
			}
			return nil
		})
	}
	futures, ok := adapter.(adapters.FuturesAdapter)
	if !ok {
		return schema.Health{Status: schema.HealthDown, LastError: errorText(errs.NotSupported(adapter.Exchange(), "futures trading"))}
	}
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		now := time.Now()
		_, err := futures.FetchFuturesTrades(ctx, schema.FetchOptions{
			StartTime:   now.Add(-futuresProbeWindow),
			EndTime:     now,
			Limit:       1,
			TradingType: schema.TradingTypeFutures,
		})
		return err
	})
}

// AllHealth runs health checks across every registered adapter concurrently.
func (s *Service) AllHealth(ctx context.Context) map[string]schema.Health {
	exchanges := s.RegisteredExchanges()
	results := make(map[string]schema.Health, len(exchanges))
	var mu sync.Mutex

	workers := defaultSyncAllWorkers
	if workers > len(exchanges) {
		workers = len(exchanges)
	}
	if workers < 1 {
		return results
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, exchange := range exchanges {
		ex := exchange
		p.Go(func() {
			health := s.HealthCheck(ctx, ex)
			mu.Lock()
			results[ex] = health
			mu.Unlock()
		})
	}
	p.Wait()
	return results
}
