// Package exsync synchronizes trade, balance, order and transfer history
// from cryptocurrency exchange REST APIs into one canonical record model.
//
// The entry point is New, which returns a Service with every supported
// exchange adapter installed. Callers Initialize each exchange with account
// credentials, then invoke the Sync family; every sync returns a uniform
// result envelope instead of an error.
package exsync

import (
	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/adapters/all"
	"github.com/profitlens/exsync/internal/schema"
	"github.com/profitlens/exsync/internal/service"
)

// Canonical record types produced by every adapter.
type (
	Trade        = schema.Trade
	Balance      = schema.Balance
	Order        = schema.Order
	Deposit      = schema.Deposit
	Withdrawal   = schema.Withdrawal
	Credentials  = schema.Credentials
	FetchOptions = schema.FetchOptions
	Health       = schema.Health
	HealthState  = schema.HealthState
	TradingType  = schema.TradingType
	Side         = schema.Side
)

// Re-exported enum values.
const (
	TradingTypeSpot    = schema.TradingTypeSpot
	TradingTypeFutures = schema.TradingTypeFutures
	SideBuy            = schema.SideBuy
	SideSell           = schema.SideSell
	HealthHealthy      = schema.HealthHealthy
	HealthDegraded     = schema.HealthDegraded
	HealthDown         = schema.HealthDown
)

// Service is the exchange-agnostic façade. See the service package for the
// full operation set.
type Service = service.Service

// Result envelopes returned by the Sync family.
type (
	TradesResult      = service.TradesResult
	BalancesResult    = service.BalancesResult
	OrdersResult      = service.OrdersResult
	DepositsResult    = service.DepositsResult
	WithdrawalsResult = service.WithdrawalsResult
)

// Capabilities reports which optional surfaces a venue integration backs.
type Capabilities = adapters.Capabilities

// New returns a Service with every supported exchange adapter factory
// installed, configured from the given settings tree.
func New(settings config.Settings, log zerolog.Logger) *Service {
	return service.New(settings, all.NewRegistry(), log)
}

// Default returns a Service built from the default production endpoints.
func Default(log zerolog.Logger) *Service {
	return New(config.Default(), log)
}
