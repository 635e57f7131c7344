// Package adapters defines the uniform capability contract every exchange
// integration satisfies, plus the factory registry the service dispatches
// through.
package adapters

import (
	"context"

	"github.com/profitlens/exsync/internal/schema"
)

// Adapter is the per-exchange implementation of the fetch/normalize contract.
// Every fetch method issues one or more signed REST calls and returns
// canonical records. Methods whose venue has no source endpoint return an
// empty slice, signaling "no data available" rather than "failed".
type Adapter interface {
	// Exchange returns the lowercase venue key.
	Exchange() string

	// TestConnection issues one cheap authenticated call. It reports false
	// rather than an error on any failure; the service uses it as a gate
	// before registration.
	TestConnection(ctx context.Context) bool

	// FetchTrades returns normalized spot trade history.
	FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error)

	// FetchBalances returns the account's non-zero holdings.
	FetchBalances(ctx context.Context) ([]schema.Balance, error)

	// FetchOrders returns normalized order history.
	FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error)

	// FetchDeposits returns normalized deposit history.
	FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error)

	// FetchWithdrawals returns normalized withdrawal history.
	FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error)

	// HealthCheck probes availability and classifies latency.
	HealthCheck(ctx context.Context) schema.Health

	// Capabilities reports which optional surfaces this venue integration
	// actually backs with endpoints, so callers never need runtime probing.
	Capabilities() Capabilities
}

// FuturesAdapter marks adapters whose venue exposes derivatives trade history.
// FetchFuturesTrades walks the venue's endpoint families in fixed priority
// order and returns the first non-empty, well-formed result.
type FuturesAdapter interface {
	Adapter
	FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error)
}

// FuturesConnTester is an optional dedicated futures connectivity probe used
// by the futures health check before it falls back to a trade-window probe.
type FuturesConnTester interface {
	TestFuturesConnection(ctx context.Context) bool
}

// Capabilities enumerates the optional surfaces a venue integration backs.
type Capabilities struct {
	Futures     bool `json:"futures"`
	Orders      bool `json:"orders"`
	Deposits    bool `json:"deposits"`
	Withdrawals bool `json:"withdrawals"`
}
