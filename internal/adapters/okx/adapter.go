// Package okx implements the OKX sync adapter. One host serves every
// instrument type; derivatives history cascades SWAP then FUTURES.
package okx

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
	exchangeName = "okx"
	maxPageLimit = 100
)

// Adapter talks to the OKX v5 REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs an OKX adapter bound to one credential set.
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

// Capabilities reports the surfaces OKX backs with endpoints.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: true, Orders: true, Deposits: true, Withdrawals: true}
}

// signedRequest signs timestamp + method + path?query with the base64 scheme.
func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		requestPath := path
		if query := sign.CanonicalQuery(params); query != "" {
			requestPath += "?" + query
		}
		ts := sign.TimestampISO(a.clock)
		signature := sign.HMACSHA256Base64(a.creds.Secret, ts+http.MethodGet+requestPath)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			a.settings.BaseURL(config.SurfaceSpot)+requestPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("OK-ACCESS-KEY", a.creds.Key)
		req.Header.Set("OK-ACCESS-SIGN", signature)
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", a.creds.Passphrase)
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
	if env.Code != "" && env.Code != "0" {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(env.Code),
			errs.WithRawMessage(env.Msg))
	}
	return env.Data, nil
}

// TestConnection issues one cheap authenticated balance call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", "/api/v5/account/balance", url.Values{})
	return err == nil
}

// HealthCheck measures latency against the public time endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/api/v5/public/time", nil)
		})
		return err
	})
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("begin", strconv.FormatInt(opts.StartTime.UnixMilli(), 10))
	}
	if !opts.EndTime.IsZero() {
		params.Set("end", strconv.FormatInt(opts.EndTime.UnixMilli(), 10))
	}
}

type fill struct {
	TradeID  string `json:"tradeId"`
	OrdID    string `json:"ordId"`
	InstID   string `json:"instId"`
	Side     string `json:"side"`
	FillPx   string `json:"fillPx"`
	FillSz   string `json:"fillSz"`
	Fee      string `json:"fee"`
	FeeCcy   string `json:"feeCcy"`
	TS       string `json:"ts"`
	ExecType string `json:"execType"`
	PosSide  string `json:"posSide"`
}

func (a *Adapter) fetchFills(ctx context.Context, op, instType string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("instType", instType)
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("instId", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, op, "/api/v5/trade/fills-history", params)
	if err != nil {
		return nil, err
	}
	var raw []fill
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, f := range raw {
		role := ""
		switch f.ExecType {
		case "T":
			role = "taker"
		case "M":
			role = "maker"
		}
		trades = append(trades, schema.Trade{
			ID:       f.TradeID,
			Exchange: exchangeName,
			Symbol:   schema.SymbolFromDelimited(f.InstID, "-"),
			Side:     schema.NormalizeSide(f.Side),
			Price:    shared.Decimal(f.FillPx),
			Quantity: shared.Decimal(f.FillSz),
			// OKX reports fees as negative deductions.
			Fee:          shared.AbsDecimal(f.Fee),
			FeeCurrency:  f.FeeCcy,
			Timestamp:    shared.Timestamp(a.log, "trade", shared.EpochString(f.TS)),
			OrderID:      f.OrdID,
			Role:         role,
			PositionSide: f.PosSide,
		})
	}
	return trades, nil
}

// FetchTrades returns normalized spot fill history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	return a.fetchFills(ctx, "fetch_trades", "SPOT", opts)
}

// FetchFuturesTrades probes perpetual swaps first, then dated futures.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "swap", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFills(ctx, "fetch_futures_trades", "SWAP", opts)
		}},
		{Name: "futures", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFills(ctx, "fetch_futures_trades", "FUTURES", opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

type balanceDetail struct {
	Ccy       string `json:"ccy"`
	CashBal   string `json:"cashBal"`
	AvailBal  string `json:"availBal"`
	FrozenBal string `json:"frozenBal"`
}

type balanceData struct {
	Details []balanceDetail `json:"details"`
}

// FetchBalances returns non-zero trading-account holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	data, err := a.call(ctx, "fetch_balances", "/api/v5/account/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var accounts []balanceData
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, account := range accounts {
		for _, d := range account.Details {
			total := shared.Decimal(d.CashBal)
			if total.IsZero() {
				continue
			}
			balances = append(balances, schema.Balance{
				Exchange: exchangeName,
				Currency: d.Ccy,
				Free:     shared.Decimal(d.AvailBal),
				Locked:   shared.Decimal(d.FrozenBal),
				Total:    total,
			})
		}
	}
	return balances, nil
}

type orderRecord struct {
	OrdID     string `json:"ordId"`
	InstID    string `json:"instId"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	State     string `json:"state"`
	OrdType   string `json:"ordType"`
	Side      string `json:"side"`
	CTime     string `json:"cTime"`
}

// FetchOrders returns normalized spot order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("instType", "SPOT")
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("instId", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_orders", "/api/v5/trade/orders-history-archive", params)
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
			ID:        o.OrdID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromDelimited(o.InstID, "-"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.OrdType,
			Price:     shared.Decimal(o.Px),
			Quantity:  shared.Decimal(o.Sz),
			Filled:    shared.Decimal(o.AccFillSz),
			Status:    o.State,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochString(o.CTime)),
		})
	}
	return orders, nil
}

type depositRecord struct {
	Ccy   string `json:"ccy"`
	Amt   string `json:"amt"`
	TxID  string `json:"txId"`
	To    string `json:"to"`
	State string `json:"state"`
	TS    string `json:"ts"`
	DepID string `json:"depId"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))

	data, err := a.call(ctx, "fetch_deposits", "/api/v5/asset/deposit-history", params)
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
			ID:        d.DepID,
			Exchange:  exchangeName,
			Currency:  d.Ccy,
			Amount:    shared.Decimal(d.Amt),
			Status:    depositState(d.State),
			TxID:      d.TxID,
			Address:   d.To,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochString(d.TS)),
		})
	}
	return deposits, nil
}

func depositState(code string) string {
	switch code {
	case "2":
		return "success"
	case "0", "1":
		return "pending"
	default:
		return code
	}
}

type withdrawalRecord struct {
	WdID  string `json:"wdId"`
	Ccy   string `json:"ccy"`
	Amt   string `json:"amt"`
	Fee   string `json:"fee"`
	TxID  string `json:"txId"`
	To    string `json:"to"`
	State string `json:"state"`
	TS    string `json:"ts"`
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))

	data, err := a.call(ctx, "fetch_withdrawals", "/api/v5/asset/withdrawal-history", params)
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
			ID:        w.WdID,
			Exchange:  exchangeName,
			Currency:  w.Ccy,
			Amount:    shared.Decimal(w.Amt),
			Fee:       shared.AbsDecimal(w.Fee),
			Status:    withdrawalState(w.State),
			TxID:      w.TxID,
			Address:   w.To,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochString(w.TS)),
		})
	}
	return withdrawals, nil
}

func withdrawalState(code string) string {
	switch code {
	case "2":
		return "success"
	case "-3", "0", "1", "4", "5":
		return "pending"
	case "-1":
		return "failed"
	case "-2":
		return "cancelled"
	default:
		return code
	}
}
