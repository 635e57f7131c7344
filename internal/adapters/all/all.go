// Package all wires every venue adapter into a registry in one call.
package all

import (
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/adapters/binance"
	"github.com/profitlens/exsync/internal/adapters/bingx"
	"github.com/profitlens/exsync/internal/adapters/bitget"
	"github.com/profitlens/exsync/internal/adapters/bybit"
	"github.com/profitlens/exsync/internal/adapters/coinbase"
	"github.com/profitlens/exsync/internal/adapters/cryptocom"
	"github.com/profitlens/exsync/internal/adapters/gateio"
	"github.com/profitlens/exsync/internal/adapters/htx"
	"github.com/profitlens/exsync/internal/adapters/kraken"
	"github.com/profitlens/exsync/internal/adapters/kucoin"
	"github.com/profitlens/exsync/internal/adapters/mexc"
	"github.com/profitlens/exsync/internal/adapters/okx"
)

// Register installs the factory for every supported exchange.
func Register(reg *adapters.Registry) {
	binance.Register(reg)
	bingx.Register(reg)
	bitget.Register(reg)
	bybit.Register(reg)
	coinbase.Register(reg)
	cryptocom.Register(reg)
	gateio.Register(reg)
	htx.Register(reg)
	kraken.Register(reg)
	kucoin.Register(reg)
	mexc.Register(reg)
	okx.Register(reg)
}

// NewRegistry returns a registry with every supported exchange installed.
func NewRegistry() *adapters.Registry {
	reg := adapters.NewRegistry()
	Register(reg)
	return reg
}
