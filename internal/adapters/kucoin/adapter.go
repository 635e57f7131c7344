// Package kucoin implements the KuCoin sync adapter. The integration covers
// the spot surface only; the venue's derivatives API lives on a separate
// product with separate keys.
package kucoin

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
	exchangeName = "kucoin"
	maxPageSize  = 500

	codeOK = "200000"
)

// Adapter talks to the KuCoin REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a KuCoin adapter bound to one credential set.
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

// Capabilities reports the surfaces this integration backs.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: false, Orders: true, Deposits: true, Withdrawals: true}
}

// signedRequest applies the key-version-2 scheme: both the signature and the
// passphrase header are HMAC-signed with the API secret.
func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		endpoint := path
		if query := sign.CanonicalQuery(params); query != "" {
			endpoint += "?" + query
		}
		ts := sign.TimestampMS(a.clock)
		signature := sign.HMACSHA256Base64(a.creds.Secret, ts+http.MethodGet+endpoint)
		passphrase := sign.HMACSHA256Base64(a.creds.Secret, a.creds.Passphrase)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			a.settings.BaseURL(config.SurfaceSpot)+endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("KC-API-KEY", a.creds.Key)
		req.Header.Set("KC-API-SIGN", signature)
		req.Header.Set("KC-API-TIMESTAMP", ts)
		req.Header.Set("KC-API-PASSPHRASE", passphrase)
		req.Header.Set("KC-API-KEY-VERSION", "2")
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

// TestConnection issues one cheap authenticated accounts call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", "/api/v1/accounts", url.Values{})
	return err == nil
}

// HealthCheck measures latency against the public timestamp endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/api/v1/timestamp", nil)
		})
		return err
	})
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("startAt", strconv.FormatInt(opts.StartTime.UnixMilli(), 10))
	}
	if !opts.EndTime.IsZero() {
		params.Set("endAt", strconv.FormatInt(opts.EndTime.UnixMilli(), 10))
	}
}

type fillRecord struct {
	TradeID     string `json:"tradeId"`
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
	Liquidity   string `json:"liquidity"`
	CreatedAt   int64  `json:"createdAt"`
}

type fillPage struct {
	Items []fillRecord `json:"items"`
}

// FetchTrades returns normalized spot fill history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(opts.CappedLimit(maxPageSize)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_trades", "/api/v1/fills", params)
	if err != nil {
		return nil, err
	}
	var page fillPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(page.Items))
	for _, f := range page.Items {
		trades = append(trades, schema.Trade{
			ID:          f.TradeID,
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(f.Symbol, "-"),
			Side:        schema.NormalizeSide(f.Side),
			Price:       shared.Decimal(f.Price),
			Quantity:    shared.Decimal(f.Size),
			Fee:         shared.Decimal(f.Fee),
			FeeCurrency: f.FeeCurrency,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochMillis(f.CreatedAt)),
			OrderID:     f.OrderID,
			Role:        f.Liquidity,
		})
	}
	return trades, nil
}

type accountRecord struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

// FetchBalances aggregates holdings across the main and trade accounts,
// returning one combined non-zero balance per currency.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	data, err := a.call(ctx, "fetch_balances", "/api/v1/accounts", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw []accountRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	byCurrency := map[string]*schema.Balance{}
	order := []string{}
	for _, r := range raw {
		entry, ok := byCurrency[r.Currency]
		if !ok {
			entry = &schema.Balance{Exchange: exchangeName, Currency: r.Currency}
			byCurrency[r.Currency] = entry
			order = append(order, r.Currency)
		}
		entry.Free = entry.Free.Add(shared.Decimal(r.Available))
		entry.Locked = entry.Locked.Add(shared.Decimal(r.Holds))
		entry.Total = entry.Total.Add(shared.Decimal(r.Balance))
	}
	balances := []schema.Balance{}
	for _, currency := range order {
		entry := byCurrency[currency]
		if entry.IsZero() {
			continue
		}
		balances = append(balances, *entry)
	}
	return balances, nil
}

type orderRecord struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	DealSize  string `json:"dealSize"`
	IsActive  bool   `json:"isActive"`
	CreatedAt int64  `json:"createdAt"`
}

type orderPage struct {
	Items []orderRecord `json:"items"`
}

// FetchOrders returns normalized spot order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(opts.CappedLimit(maxPageSize)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_orders", "/api/v1/orders", params)
	if err != nil {
		return nil, err
	}
	var page orderPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(page.Items))
	for _, o := range page.Items {
		status := "done"
		if o.IsActive {
			status = "active"
		}
		orders = append(orders, schema.Order{
			ID:        o.ID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromDelimited(o.Symbol, "-"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Size),
			Filled:    shared.Decimal(o.DealSize),
			Status:    status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochMillis(o.CreatedAt)),
		})
	}
	return orders, nil
}

type depositRecord struct {
	Currency   string `json:"currency"`
	Amount     string `json:"amount"`
	Address    string `json:"address"`
	WalletTxID string `json:"walletTxId"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAt"`
}

type depositPage struct {
	Items []depositRecord `json:"items"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(opts.CappedLimit(maxPageSize)))
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_deposits", "/api/v1/deposits", params)
	if err != nil {
		return nil, err
	}
	var page depositPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_deposits"), errs.WithCause(err))
	}
	deposits := make([]schema.Deposit, 0, len(page.Items))
	for _, d := range page.Items {
		deposits = append(deposits, schema.Deposit{
			ID:        d.WalletTxID,
			Exchange:  exchangeName,
			Currency:  d.Currency,
			Amount:    shared.Decimal(d.Amount),
			Status:    d.Status,
			TxID:      d.WalletTxID,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochMillis(d.CreatedAt)),
		})
	}
	return deposits, nil
}

type withdrawalRecord struct {
	ID         string `json:"id"`
	Currency   string `json:"currency"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Address    string `json:"address"`
	WalletTxID string `json:"walletTxId"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAt"`
}

type withdrawalPage struct {
	Items []withdrawalRecord `json:"items"`
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(opts.CappedLimit(maxPageSize)))
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_withdrawals", "/api/v1/withdrawals", params)
	if err != nil {
		return nil, err
	}
	var page withdrawalPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(page.Items))
	for _, w := range page.Items {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.ID,
			Exchange:  exchangeName,
			Currency:  w.Currency,
			Amount:    shared.Decimal(w.Amount),
			Fee:       shared.Decimal(w.Fee),
			Status:    w.Status,
			TxID:      w.WalletTxID,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochMillis(w.CreatedAt)),
		})
	}
	return withdrawals, nil
}
