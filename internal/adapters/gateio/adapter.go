// Package gateio implements the Gate.io sync adapter over the v4 REST API.
// Trading pairs use underscore notation; derivatives history cascades the
// USDT-settled then BTC-settled futures books.
package gateio

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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
	exchangeName = "gateio"
	maxPageLimit = 1000
)

// Adapter talks to the Gate.io v4 REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a Gate.io adapter bound to one credential set.
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

// Capabilities reports the surfaces Gate.io backs with endpoints.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: true, Orders: true, Deposits: true, Withdrawals: true}
}

// signedRequest signs method, path, query, body hash and a second-resolution
// timestamp joined by newlines, with HMAC-SHA512.
func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		query := sign.CanonicalQuery(params)
		ts := sign.TimestampS(a.clock)
		payload := strings.Join([]string{
			http.MethodGet, path, query, sign.SHA512Hex(""), ts,
		}, "\n")
		signature := sign.HMACSHA512Hex(a.creds.Secret, payload)

		endpoint := a.settings.BaseURL(config.SurfaceSpot) + path
		if query != "" {
			endpoint += "?" + query
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("KEY", a.creds.Key)
		req.Header.Set("Timestamp", ts)
		req.Header.Set("SIGN", signature)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// checkBody surfaces label errors the venue embeds in a 2xx response body.
func (a *Adapter) checkBody(op string, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Label != "" {
		return errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(apiErr.Label),
			errs.WithRawMessage(apiErr.Message))
	}
	return nil
}

// TestConnection issues one cheap authenticated accounts call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.FetchBalances(ctx)
	return err == nil
}

// HealthCheck measures latency against the public time endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/api/v4/spot/time", nil)
		})
		return err
	})
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("from", strconv.FormatInt(opts.StartTime.Unix(), 10))
	}
	if !opts.EndTime.IsZero() {
		params.Set("to", strconv.FormatInt(opts.EndTime.Unix(), 10))
	}
}

type spotTrade struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	FeeCurrency  string `json:"fee_currency"`
	CreateTimeMS string `json:"create_time_ms"`
	Role         string `json:"role"`
}

// FetchTrades returns normalized spot trade history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("currency_pair", schema.SymbolToDelimited(opts.Symbol, "_"))
	}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_trades", a.signedRequest("/api/v4/spot/my_trades", params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_trades", body); err != nil {
		return nil, err
	}
	var raw []spotTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, t := range raw {
		trades = append(trades, schema.Trade{
			ID:          t.ID,
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(t.CurrencyPair, "_"),
			Side:        schema.NormalizeSide(t.Side),
			Price:       shared.Decimal(t.Price),
			Quantity:    shared.Decimal(t.Amount),
			Fee:         shared.Decimal(t.Fee),
			FeeCurrency: t.FeeCurrency,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochString(t.CreateTimeMS)),
			OrderID:     t.OrderID,
			Role:        t.Role,
		})
	}
	return trades, nil
}

type futuresTrade struct {
	ID         int64   `json:"id"`
	OrderID    string  `json:"order_id"`
	Contract   string  `json:"contract"`
	Price      string  `json:"price"`
	Size       int64   `json:"size"`
	CreateTime float64 `json:"create_time"`
	Role       string  `json:"role"`
	Fee        string  `json:"fee"`
}

func (a *Adapter) fetchFuturesSettle(ctx context.Context, settle string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("contract", schema.SymbolToDelimited(opts.Symbol, "_"))
	}

	body, err := a.client.Do(ctx, "fetch_futures_trades",
		a.signedRequest("/api/v4/futures/"+settle+"/my_trades", params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_futures_trades", body); err != nil {
		return nil, err
	}
	var raw []futuresTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_futures_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, t := range raw {
		// The sign of size carries direction on futures fills.
		side := schema.SideBuy
		size := t.Size
		if size < 0 {
			side = schema.SideSell
			size = -size
		}
		trades = append(trades, schema.Trade{
			ID:          strconv.FormatInt(t.ID, 10),
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(t.Contract, "_"),
			Side:        side,
			Price:       shared.Decimal(t.Price),
			Quantity:    shared.Decimal(strconv.FormatInt(size, 10)),
			Fee:         shared.AbsDecimal(t.Fee),
			FeeCurrency: strings.ToUpper(settle),
			Timestamp: shared.Timestamp(a.log, "futures trade",
				shared.EpochMillis(int64(t.CreateTime*1000))),
			OrderID: t.OrderID,
			Role:    t.Role,
		})
	}
	return trades, nil
}

// FetchFuturesTrades probes the USDT-settled book first, then BTC-settled.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "usdt-settle", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFuturesSettle(ctx, "usdt", opts)
		}},
		{Name: "btc-settle", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFuturesSettle(ctx, "btc", opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

type accountRecord struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// FetchBalances returns non-zero spot holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.client.Do(ctx, "fetch_balances", a.signedRequest("/api/v4/spot/accounts", url.Values{}))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_balances", body); err != nil {
		return nil, err
	}
	var raw []accountRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, r := range raw {
		free := shared.Decimal(r.Available)
		locked := shared.Decimal(r.Locked)
		balance := schema.Balance{
			Exchange: exchangeName,
			Currency: r.Currency,
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
	ID           string `json:"id"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	FilledAmount string `json:"filled_amount"`
	Status       string `json:"status"`
	CreateTimeMS string `json:"create_time_ms"`
}

// FetchOrders returns normalized finished-order history. The venue requires a
// currency pair on the order-list endpoint.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	if opts.Symbol == "" {
		return nil, errs.New(exchangeName, errs.CodeInvalid,
			errs.WithOperation("fetch_orders"),
			errs.WithMessage("symbol filter required for order history"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	}
	params := url.Values{}
	params.Set("currency_pair", schema.SymbolToDelimited(opts.Symbol, "_"))
	params.Set("status", "finished")
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_orders", a.signedRequest("/api/v4/spot/orders", params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_orders", body); err != nil {
		return nil, err
	}
	var raw []orderRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, schema.Order{
			ID:        o.ID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromDelimited(o.CurrencyPair, "_"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Amount),
			Filled:    shared.Decimal(o.FilledAmount),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochString(o.CreateTimeMS)),
		})
	}
	return orders, nil
}

type transferRecord struct {
	ID        string `json:"id"`
	TxID      string `json:"txid"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (a *Adapter) fetchTransfers(ctx context.Context, op, path string, opts schema.FetchOptions) ([]transferRecord, error) {
	params := url.Values{}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, op, a.signedRequest(path, params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody(op, body); err != nil {
		return nil, err
	}
	var raw []transferRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	return raw, nil
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_deposits", "/api/v4/wallet/deposits", opts)
	if err != nil {
		return nil, err
	}
	deposits := make([]schema.Deposit, 0, len(raw))
	for _, d := range raw {
		deposits = append(deposits, schema.Deposit{
			ID:        d.ID,
			Exchange:  exchangeName,
			Currency:  d.Currency,
			Amount:    shared.Decimal(d.Amount),
			Status:    d.Status,
			TxID:      d.TxID,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochString(d.Timestamp)),
		})
	}
	return deposits, nil
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_withdrawals", "/api/v4/wallet/withdrawals", opts)
	if err != nil {
		return nil, err
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.ID,
			Exchange:  exchangeName,
			Currency:  w.Currency,
			Amount:    shared.Decimal(w.Amount),
			Fee:       shared.Decimal(w.Fee),
			Status:    w.Status,
			TxID:      w.TxID,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochString(w.Timestamp)),
		})
	}
	return withdrawals, nil
}
