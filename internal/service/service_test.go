package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/schema"
)

type fakeAdapter struct {
	name      string
	connectOK bool
	trades    []schema.Trade
	tradesErr error
	health    schema.Health

	futuresCalls int
	futuresOpts  schema.FetchOptions
}

func (f *fakeAdapter) Exchange() string                          { return f.name }
func (f *fakeAdapter) TestConnection(context.Context) bool       { return f.connectOK }
func (f *fakeAdapter) HealthCheck(context.Context) schema.Health { return f.health }
func (f *fakeAdapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Orders: true, Deposits: true, Withdrawals: true}
}

func (f *fakeAdapter) FetchTrades(context.Context, schema.FetchOptions) ([]schema.Trade, error) {
	return f.trades, f.tradesErr
}

func (f *fakeAdapter) FetchBalances(context.Context) ([]schema.Balance, error) {
	return []schema.Balance{}, nil
}

func (f *fakeAdapter) FetchOrders(context.Context, schema.FetchOptions) ([]schema.Order, error) {
	return []schema.Order{}, nil
}

func (f *fakeAdapter) FetchDeposits(context.Context, schema.FetchOptions) ([]schema.Deposit, error) {
	return []schema.Deposit{}, nil
}

func (f *fakeAdapter) FetchWithdrawals(context.Context, schema.FetchOptions) ([]schema.Withdrawal, error) {
	return []schema.Withdrawal{}, nil
}

type fakeFutures struct {
	fakeAdapter
	futuresTrades []schema.Trade
	futuresErr    error
}

func (f *fakeFutures) FetchFuturesTrades(_ context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	f.futuresCalls++
	f.futuresOpts = opts
	return f.futuresTrades, f.futuresErr
}

type fakeTester struct {
	fakeFutures
	testerOK bool
}

func (f *fakeTester) TestFuturesConnection(context.Context) bool { return f.testerOK }

func newService(t *testing.T, registered map[string]adapters.Adapter) *Service {
	t.Helper()
	reg := adapters.NewRegistry()
	for key, adapter := range registered {
		a := adapter
		reg.Register(key, func(config.ExchangeSettings, schema.Credentials, zerolog.Logger) (adapters.Adapter, error) {
			return a, nil
		})
	}
	svc := New(config.Default(), reg, zerolog.Nop())
	for key := range registered {
		ok, err := svc.Initialize(context.Background(), key, schema.Credentials{Key: "k", Secret: "s"})
		if err != nil {
			t.Fatalf("Initialize(%s): %v", key, err)
		}
		if !ok {
			t.Fatalf("Initialize(%s) = false", key)
		}
	}
	return svc
}

func TestInitializeRejectedCredentialsReturnsFalseWithoutError(t *testing.T) {
	reg := adapters.NewRegistry()
	reg.Register("binance", func(config.ExchangeSettings, schema.Credentials, zerolog.Logger) (adapters.Adapter, error) {
		return &fakeAdapter{name: "binance", connectOK: false}, nil
	})
	svc := New(config.Default(), reg, zerolog.Nop())

	ok, err := svc.Initialize(context.Background(), "Binance", schema.Credentials{Key: "bad", Secret: "bad"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ok {
		t.Fatal("Initialize = true with failing connection test")
	}
	if _, registered := svc.Adapter("binance"); registered {
		t.Fatal("adapter registered despite failed connection test")
	}
}

func TestInitializeUnknownExchangeIsConfigError(t *testing.T) {
	svc := New(config.Default(), adapters.NewRegistry(), zerolog.Nop())
	if _, err := svc.Initialize(context.Background(), "nasdaq", schema.Credentials{}); err == nil {
		t.Fatal("expected error for unsupported exchange")
	}
}

func TestSyncTradesUnregisteredExchange(t *testing.T) {
	svc := New(config.Default(), adapters.NewRegistry(), zerolog.Nop())
	result := svc.SyncTrades(context.Background(), "kraken", schema.FetchOptions{})
	if result.Success {
		t.Fatal("Success = true for unregistered exchange")
	}
	if result.Error != "kraken not initialized" {
		t.Fatalf("Error = %q", result.Error)
	}
	if result.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestSyncTradesSpotEnvelope(t *testing.T) {
	trades := []schema.Trade{{ID: "t1", Exchange: "binance", Symbol: "BTC/USDT", Side: schema.SideBuy}}
	svc := newService(t, map[string]adapters.Adapter{
		"binance": &fakeAdapter{name: "binance", connectOK: true, trades: trades},
	})
	result := svc.SyncTrades(context.Background(), "binance", schema.FetchOptions{})
	if !result.Success || len(result.Trades) != 1 || result.Error != "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncTradesFuturesDispatch(t *testing.T) {
	futures := &fakeFutures{
		fakeAdapter:   fakeAdapter{name: "bybit", connectOK: true},
		futuresTrades: []schema.Trade{{ID: "f1"}},
	}
	svc := newService(t, map[string]adapters.Adapter{"bybit": futures})

	result := svc.SyncTrades(context.Background(), "bybit", schema.FetchOptions{TradingType: schema.TradingTypeFutures})
	if !result.Success || len(result.Trades) != 1 || result.Trades[0].ID != "f1" {
		t.Fatalf("result = %+v", result)
	}
	if futures.futuresCalls != 1 {
		t.Fatalf("futures surface called %d times", futures.futuresCalls)
	}
}

func TestSyncTradesFuturesOnSpotOnlyVenue(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"kraken": &fakeAdapter{name: "kraken", connectOK: true},
	})
	result := svc.SyncTrades(context.Background(), "kraken", schema.FetchOptions{TradingType: schema.TradingTypeFutures})
	if result.Success {
		t.Fatal("Success = true for unsupported futures sync")
	}
	if result.Error != "futures trading not supported" {
		t.Fatalf("Error = %q", result.Error)
	}
}

func TestSyncTradesCapturesAdapterError(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"okx": &fakeAdapter{
			name: "okx", connectOK: true,
			tradesErr: errs.New("okx", errs.CodeRateLimited, errs.WithOperation("fetch_trades")),
		},
	})
	result := svc.SyncTrades(context.Background(), "okx", schema.FetchOptions{})
	if result.Success || result.Error == "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestSyncAllCoversEveryRegisteredExchange(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"binance": &fakeAdapter{name: "binance", connectOK: true, trades: []schema.Trade{{ID: "a"}}},
		"kraken":  &fakeAdapter{name: "kraken", connectOK: true, trades: []schema.Trade{{ID: "b"}}},
		"okx": &fakeAdapter{
			name: "okx", connectOK: true,
			tradesErr: errs.New("okx", errs.CodeNetwork),
		},
	})
	results := svc.SyncAll(context.Background(), schema.FetchOptions{})
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if !results["binance"].Success || !results["kraken"].Success {
		t.Fatalf("results = %+v", results)
	}
	if results["okx"].Success || results["okx"].Error == "" {
		t.Fatalf("okx result = %+v", results["okx"])
	}
}

func TestFuturesHealthCheckPrefersDedicatedProbe(t *testing.T) {
	tester := &fakeTester{
		fakeFutures: fakeFutures{fakeAdapter: fakeAdapter{name: "binance", connectOK: true}},
		testerOK:    true,
	}
	svc := newService(t, map[string]adapters.Adapter{"binance": tester})

	health := svc.FuturesHealthCheck(context.Background(), "binance")
	if health.Status != schema.HealthHealthy {
		t.Fatalf("status = %s (%s)", health.Status, health.LastError)
	}
	if tester.futuresCalls != 0 {
		t.Fatal("trade probe used despite dedicated connectivity test")
	}
}

func TestFuturesHealthCheckFallsBackToTradeProbe(t *testing.T) {
	futures := &fakeFutures{fakeAdapter: fakeAdapter{name: "bybit", connectOK: true}}
	svc := newService(t, map[string]adapters.Adapter{"bybit": futures})

	health := svc.FuturesHealthCheck(context.Background(), "bybit")
	if health.Status != schema.HealthHealthy {
		t.Fatalf("status = %s (%s)", health.Status, health.LastError)
	}
	if futures.futuresCalls != 1 {
		t.Fatalf("trade probe called %d times", futures.futuresCalls)
	}
	window := futures.futuresOpts.EndTime.Sub(futures.futuresOpts.StartTime)
	if window != 24*time.Hour {
		t.Fatalf("probe window = %v", window)
	}
}

func TestFuturesHealthCheckUnsupportedVenueIsDown(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"kraken": &fakeAdapter{name: "kraken", connectOK: true},
	})
	health := svc.FuturesHealthCheck(context.Background(), "kraken")
	if health.Status != schema.HealthDown {
		t.Fatalf("status = %s", health.Status)
	}
	if health.LastError != "futures trading not supported" {
		t.Fatalf("lastError = %q", health.LastError)
	}
}

func TestCapabilitiesReflectFuturesInterface(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"bybit":  &fakeFutures{fakeAdapter: fakeAdapter{name: "bybit", connectOK: true}},
		"kraken": &fakeAdapter{name: "kraken", connectOK: true},
	})
	caps := svc.Capabilities()
	if caps["kraken"].Futures {
		t.Fatal("kraken reported futures capability")
	}
}

func TestRemoveAndShutdown(t *testing.T) {
	svc := newService(t, map[string]adapters.Adapter{
		"binance": &fakeAdapter{name: "binance", connectOK: true},
		"kraken":  &fakeAdapter{name: "kraken", connectOK: true},
	})
	if !svc.Remove("Binance") {
		t.Fatal("Remove = false for registered exchange")
	}
	if svc.Remove("binance") {
		t.Fatal("Remove = true after removal")
	}
	if got := svc.RegisteredExchanges(); len(got) != 1 || got[0] != "kraken" {
		t.Fatalf("RegisteredExchanges = %v", got)
	}
	svc.Shutdown()
	if got := svc.RegisteredExchanges(); len(got) != 0 {
		t.Fatalf("RegisteredExchanges after Shutdown = %v", got)
	}
}
