// Package bitget implements the Bitget sync adapter over the v2 REST API.
// Derivatives history cascades USDT-margined then coin-margined product types.
package bitget

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/adapters/shared"
	"github.com/profitlens/exsync/internal/schema"
	"github.com/profitlens/exsync/internal/sign"
)

const (
	exchangeName = "bitget"
	maxPageLimit = 100

	codeOK = "00000"
)

// Adapter talks to the Bitget v2 REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a Bitget adapter bound to one credential set.
func New(settings config.ExchangeSettings, creds schema.Credentials, log zerolog.Logger) *Adapter {
	return &Adapter{
		creds:    creds,
		settings: settings,
		client:   shared.NewClient(exchangeName, settings, log),
		clock:    time.Now,
		log:      log.With().Str("exchange", exchangeName).Logger(),
	}
}

// Register installs the factory into the adapter registry.
func Register(reg *adapters.Registry) {
	reg.Register(exchangeName, func(settings config.ExchangeSettings, creds schema.Credentials, log zerolog.Logger) (adapters.Adapter, error) {
		return New(settings, creds, log), nil
	})
}

// Exchange returns the venue key.
func (a *Adapter) Exchange() string { return exchangeName }

// Capabilities reports the surfaces Bitget backs with endpoints.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: true, Orders: true, Deposits: true, Withdrawals: true}
}

// signedRequest signs ts + method + path?query with the base64 scheme and a
// millisecond timestamp.
func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		requestPath := path
		if query := sign.CanonicalQuery(params); query != "" {
			requestPath += "?" + query
		}
		ts := sign.TimestampMS(a.clock)
		signature := sign.HMACSHA256Base64(a.creds.Secret, ts+http.MethodGet+requestPath)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			a.settings.BaseURL(config.SurfaceSpot)+requestPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("ACCESS-KEY", a.creds.Key)
		req.Header.Set("ACCESS-SIGN", signature)
		req.Header.Set("ACCESS-TIMESTAMP", ts)
		req.Header.Set("ACCESS-PASSPHRASE", a.creds.Passphrase)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *Adapter) call(ctx context.Context, op, path string, params url.Values) (json.RawMessage, error) {
	body, err := a.client.Do(ctx, op, a.signedRequest(path, params))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	if env.Code != "" && env.Code != codeOK {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(env.Code),
			errs.WithRawMessage(env.Msg))
	}
	return env.Data, nil
}

// TestConnection issues one cheap authenticated asset call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", "/api/v2/spot/account/assets", url.Values{})
	return err == nil
}

// HealthCheck measures latency against the public time endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/api/v2/public/time", nil)
		})
		return err
	})
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("startTime", strconv.FormatInt(opts.StartTime.UnixMilli(), 10))
	}
	if !opts.EndTime.IsZero() {
		params.Set("endTime", strconv.FormatInt(opts.EndTime.UnixMilli(), 10))
	}
}

type feeDetail struct {
	TotalFee string `json:"totalFee"`
	FeeCoin  string `json:"feeCoin"`
}

type spotFill struct {
	TradeID   string    `json:"tradeId"`
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	PriceAvg  string    `json:"priceAvg"`
	Size      string    `json:"size"`
	FeeDetail feeDetail `json:"feeDetail"`
	CTime     string    `json:"cTime"`
}

// FetchTrades returns normalized spot fill history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_trades", "/api/v2/spot/trade/fills", params)
	if err != nil {
		return nil, err
	}
	var raw []spotFill
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, f := range raw {
		trades = append(trades, schema.Trade{
			ID:          f.TradeID,
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromConcat(f.Symbol),
			Side:        schema.NormalizeSide(f.Side),
			Price:       shared.Decimal(f.PriceAvg),
			Quantity:    shared.Decimal(f.Size),
			Fee:         shared.AbsDecimal(f.FeeDetail.TotalFee),
			FeeCurrency: f.FeeDetail.FeeCoin,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochString(f.CTime)),
			OrderID:     f.OrderID,
		})
	}
	return trades, nil
}

type mixFill struct {
	TradeID    string `json:"tradeId"`
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	BaseVolume string `json:"baseVolume"`
	CTime      string `json:"cTime"`
	FeeDetail  []struct {
		FeeCoin  string `json:"feeCoin"`
		TotalFee string `json:"totalFee"`
	} `json:"feeDetail"`
}

type mixFillList struct {
	FillList []mixFill `json:"fillList"`
}

func (a *Adapter) fetchMixFills(ctx context.Context, productType string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("productType", productType)
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_futures_trades", "/api/v2/mix/order/fills", params)
	if err != nil {
		return nil, err
	}
	var page mixFillList
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_futures_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(page.FillList))
	for _, f := range page.FillList {
		trade := schema.Trade{
			ID:        f.TradeID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromConcat(f.Symbol),
			Side:      schema.NormalizeSide(f.Side),
			Price:     shared.Decimal(f.Price),
			Quantity:  shared.Decimal(f.BaseVolume),
			Timestamp: shared.Timestamp(a.log, "futures trade", shared.EpochString(f.CTime)),
			OrderID:   f.OrderID,
		}
		if len(f.FeeDetail) > 0 {
			trade.Fee = shared.AbsDecimal(f.FeeDetail[0].TotalFee)
			trade.FeeCurrency = f.FeeDetail[0].FeeCoin
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// FetchFuturesTrades probes USDT-margined contracts first, then coin-margined.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "usdt-futures", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchMixFills(ctx, "USDT-FUTURES", opts)
		}},
		{Name: "coin-futures", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchMixFills(ctx, "COIN-FUTURES", opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

type assetRecord struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
	Locked    string `json:"locked"`
}

// FetchBalances returns non-zero spot holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	data, err := a.call(ctx, "fetch_balances", "/api/v2/spot/account/assets", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw []assetRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, r := range raw {
		free := shared.Decimal(r.Available)
		locked := shared.Decimal(r.Frozen).Add(shared.Decimal(r.Locked))
		balance := schema.Balance{
			Exchange: exchangeName,
			Currency: r.Coin,
			Free:     free,
			Locked:   locked,
			Total:    free.Add(locked),
		}
		if balance.IsZero() {
			continue
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

type orderRecord struct {
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	BaseVolume string `json:"baseVolume"`
	Status     string `json:"status"`
	OrderType  string `json:"orderType"`
	Side       string `json:"side"`
	CTime      string `json:"cTime"`
}

// FetchOrders returns normalized spot order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_orders", "/api/v2/spot/trade/history-orders", params)
	if err != nil {
		return nil, err
	}
	var raw []orderRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, schema.Order{
			ID:        o.OrderID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromConcat(o.Symbol),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.OrderType,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Size),
			Filled:    shared.Decimal(o.BaseVolume),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochString(o.CTime)),
		})
	}
	return orders, nil
}

type depositRecord struct {
	OrderID   string `json:"orderId"`
	TradeID   string `json:"tradeId"`
	Coin      string `json:"coin"`
	Size      string `json:"size"`
	Status    string `json:"status"`
	ToAddress string `json:"toAddress"`
	CTime     string `json:"cTime"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_deposits", "/api/v2/spot/wallet/deposit-records", params)
	if err != nil {
		return nil, err
	}
	var raw []depositRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_deposits"), errs.WithCause(err))
	}
	deposits := make([]schema.Deposit, 0, len(raw))
	for _, d := range raw {
		deposits = append(deposits, schema.Deposit{
			ID:        d.OrderID,
			Exchange:  exchangeName,
			Currency:  d.Coin,
			Amount:    shared.Decimal(d.Size),
			Status:    d.Status,
			TxID:      d.TradeID,
			Address:   d.ToAddress,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochString(d.CTime)),
		})
	}
	return deposits, nil
}

type withdrawalRecord struct {
	OrderID   string `json:"orderId"`
	TradeID   string `json:"tradeId"`
	Coin      string `json:"coin"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	Status    string `json:"status"`
	ToAddress string `json:"toAddress"`
	CTime     string `json:"cTime"`
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_withdrawals", "/api/v2/spot/wallet/withdrawal-records", params)
	if err != nil {
		return nil, err
	}
	var raw []withdrawalRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.OrderID,
			Exchange:  exchangeName,
			Currency:  w.Coin,
			Amount:    shared.Decimal(w.Size),
			Fee:       shared.AbsDecimal(w.Fee),
			Status:    w.Status,
			TxID:      w.TradeID,
			Address:   w.ToAddress,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochString(w.CTime)),
		})
	}
	return withdrawals, nil
}
