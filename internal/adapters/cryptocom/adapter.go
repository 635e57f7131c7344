// Package cryptocom implements the Crypto.com Exchange sync adapter. Every
// private call is a JSON-RPC POST; the signature covers method, request id,
// api key, the sorted parameter concatenation and a nonce.
package cryptocom

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
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
	exchangeName = "cryptocom"
	maxPageSize  = 200
)

// Adapter talks to the Crypto.com Exchange JSON-RPC API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
	nextID   atomic.Int64
}

// New constructs a Crypto.com adapter bound to one credential set.
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

type rpcRequest struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	APIKey string            `json:"api_key"`
	Params map[string]string `json:"params"`
	Nonce  int64             `json:"nonce"`
	Sig    string            `json:"sig"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Code   int64           `json:"code"`
	Msg    string          `json:"message"`
	Result json.RawMessage `json:"result"`
}

// call issues one signed JSON-RPC POST. The request body is rebuilt per retry
// attempt so the nonce and signature stay fresh.
func (a *Adapter) call(ctx context.Context, op, method string, params map[string]string) (json.RawMessage, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		id := a.nextID.Add(1)
		nonce := a.clock().UTC().UnixMilli()
		payload := method + strconv.FormatInt(id, 10) + a.creds.Key +
			sign.SortedConcat(params) + strconv.FormatInt(nonce, 10)
		request := rpcRequest{
			ID:     id,
			Method: method,
			APIKey: a.creds.Key,
			Params: params,
			Nonce:  nonce,
			Sig:    sign.HMACSHA256Hex(a.creds.Secret, payload),
		}
		body, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.settings.BaseURL(config.SurfaceSpot)+"/"+method, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	body, err := a.client.Do(ctx, op, build)
	if err != nil {
		return nil, err
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	if resp.Code != 0 {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(strconv.FormatInt(resp.Code, 10)),
			errs.WithRawMessage(resp.Msg))
	}
	return resp.Result, nil
}

// TestConnection issues one cheap authenticated account-summary call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", "private/get-account-summary", map[string]string{})
	return err == nil
}

// HealthCheck measures latency against the public instruments endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/public/get-instruments", nil)
		})
		return err
	})
}

func windowParams(params map[string]string, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params["start_ts"] = strconv.FormatInt(opts.StartTime.UnixMilli(), 10)
	}
	if !opts.EndTime.IsZero() {
		params["end_ts"] = strconv.FormatInt(opts.EndTime.UnixMilli(), 10)
	}
}

type tradeRecord struct {
	TradeID        string          `json:"trade_id"`
	OrderID        string          `json:"order_id"`
	InstrumentName string          `json:"instrument_name"`
	Side           string          `json:"side"`
	TradedPrice    json.RawMessage `json:"traded_price"`
	TradedQty      json.RawMessage `json:"traded_quantity"`
	Fee            json.RawMessage `json:"fee"`
	FeeCurrency    string          `json:"fee_currency"`
	CreateTime     int64           `json:"create_time"`
}

type tradeList struct {
	TradeList []tradeRecord `json:"trade_list"`
}

// rawNumber tolerates the API rendering numerics as either JSON numbers or
// strings across versions.
func rawNumber(raw json.RawMessage) string {
	trimmed := bytes.Trim(bytes.TrimSpace(raw), `"`)
	return string(trimmed)
}

// FetchTrades returns normalized trade history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := map[string]string{
		"page_size": strconv.Itoa(opts.CappedLimit(maxPageSize)),
	}
	if opts.Symbol != "" {
		params["instrument_name"] = schema.SymbolToDelimited(opts.Symbol, "_")
	}
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_trades", "private/get-trades", params)
	if err != nil {
		return nil, err
	}
	var page tradeList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(page.TradeList))
	for _, t := range page.TradeList {
		trades = append(trades, schema.Trade{
			ID:          t.TradeID,
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(t.InstrumentName, "_"),
			Side:        schema.NormalizeSide(t.Side),
			Price:       shared.Decimal(rawNumber(t.TradedPrice)),
			Quantity:    shared.Decimal(rawNumber(t.TradedQty)),
			Fee:         shared.AbsDecimal(rawNumber(t.Fee)),
			FeeCurrency: t.FeeCurrency,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochMillis(t.CreateTime)),
			OrderID:     t.OrderID,
		})
	}
	return trades, nil
}

type accountRecord struct {
	Currency  string          `json:"currency"`
	Balance   json.RawMessage `json:"balance"`
	Available json.RawMessage `json:"available"`
	Order     json.RawMessage `json:"order"`
}

type accountSummary struct {
	Accounts []accountRecord `json:"accounts"`
}

// FetchBalances returns non-zero holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	result, err := a.call(ctx, "fetch_balances", "private/get-account-summary", map[string]string{})
	if err != nil {
		return nil, err
	}
	var summary accountSummary
	if err := json.Unmarshal(result, &summary); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, account := range summary.Accounts {
		total := shared.Decimal(rawNumber(account.Balance))
		if total.IsZero() {
			continue
		}
		balances = append(balances, schema.Balance{
			Exchange: exchangeName,
			Currency: account.Currency,
			Free:     shared.Decimal(rawNumber(account.Available)),
			Locked:   shared.Decimal(rawNumber(account.Order)),
			Total:    total,
		})
	}
	return balances, nil
}

type orderRecord struct {
	OrderID        string          `json:"order_id"`
	InstrumentName string          `json:"instrument_name"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Price          json.RawMessage `json:"price"`
	Quantity       json.RawMessage `json:"quantity"`
	CumulativeQty  json.RawMessage `json:"cumulative_quantity"`
	Status         string          `json:"status"`
	CreateTime     int64           `json:"create_time"`
}

type orderList struct {
	OrderList []orderRecord `json:"order_list"`
}

// FetchOrders returns normalized order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := map[string]string{
		"page_size": strconv.Itoa(opts.CappedLimit(maxPageSize)),
	}
	if opts.Symbol != "" {
		params["instrument_name"] = schema.SymbolToDelimited(opts.Symbol, "_")
	}
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_orders", "private/get-order-history", params)
	if err != nil {
		return nil, err
	}
	var page orderList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(page.OrderList))
	for _, o := range page.OrderList {
		orders = append(orders, schema.Order{
			ID:        o.OrderID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromDelimited(o.InstrumentName, "_"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(rawNumber(o.Price)),
			Quantity:  shared.Decimal(rawNumber(o.Quantity)),
			Filled:    shared.Decimal(rawNumber(o.CumulativeQty)),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochMillis(o.CreateTime)),
		})
	}
	return orders, nil
}

type transferRecord struct {
	ID         string          `json:"id"`
	Currency   string          `json:"currency"`
	Amount     json.RawMessage `json:"amount"`
	Fee        json.RawMessage `json:"fee"`
	Address    string          `json:"address"`
	TxID       string          `json:"txid"`
	Status     string          `json:"status"`
	CreateTime int64           `json:"create_time"`
}

type depositList struct {
	DepositList []transferRecord `json:"deposit_list"`
}

type withdrawalList struct {
	WithdrawalList []transferRecord `json:"withdrawal_list"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := map[string]string{}
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_deposits", "private/get-deposit-history", params)
	if err != nil {
		return nil, err
	}
	var page depositList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_deposits"), errs.WithCause(err))
	}
	deposits := make([]schema.Deposit, 0, len(page.DepositList))
	for _, d := range page.DepositList {
		deposits = append(deposits, schema.Deposit{
			ID:        d.ID,
			Exchange:  exchangeName,
			Currency:  d.Currency,
			Amount:    shared.Decimal(rawNumber(d.Amount)),
			Status:    d.Status,
			TxID:      d.TxID,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochMillis(d.CreateTime)),
		})
	}
	return deposits, nil
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := map[string]string{}
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_withdrawals", "private/get-withdrawal-history", params)
	if err != nil {
		return nil, err
	}
	var page withdrawalList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(page.WithdrawalList))
	for _, w := range page.WithdrawalList {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.ID,
			Exchange:  exchangeName,
			Currency:  w.Currency,
			Amount:    shared.Decimal(rawNumber(w.Amount)),
			Fee:       shared.Decimal(rawNumber(w.Fee)),
			Status:    w.Status,
			TxID:      w.TxID,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochMillis(w.CreateTime)),
		})
	}
	return withdrawals, nil
}
