// Package bybit implements the Bybit sync adapter over the unified v5 REST
// API. Spot and both futures surfaces share one host, selected by category.
package bybit

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
	exchangeName = "bybit"
	maxPageLimit = 100
)

// Adapter talks to the Bybit v5 REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a Bybit adapter bound to one credential set.
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

// Capabilities reports the surfaces Bybit backs with endpoints.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: true, Orders: true, Deposits: true, Withdrawals: true}
}

func (a *Adapter) recvWindowMS() string {
	window := a.settings.RecvWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	return strconv.FormatInt(window.Milliseconds(), 10)
}

// signedRequest signs ts + key + recvWindow + query into the X-BAPI headers.
func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		query := sign.CanonicalQuery(params)
		ts := sign.TimestampMS(a.clock)
		recv := a.recvWindowMS()
		signature := sign.HMACSHA256Hex(a.creds.Secret, ts+a.creds.Key+recv+query)

		endpoint := a.settings.BaseURL(config.SurfaceSpot) + path
		if query != "" {
			endpoint += "?" + query
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BAPI-API-KEY", a.creds.Key)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", recv)
		req.Header.Set("X-BAPI-SIGN", signature)
		return req, nil
	}
}

type envelope struct {
	RetCode int64           `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// call issues one signed GET and unwraps the retCode envelope.
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
	if env.RetCode != 0 {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(strconv.FormatInt(env.RetCode, 10)),
			errs.WithRawMessage(env.RetMsg))
	}
	return env.Result, nil
}

// TestConnection issues one cheap authenticated wallet call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", "/v5/account/wallet-balance",
		url.Values{"accountType": {"UNIFIED"}})
	return err == nil
}

// TestFuturesConnection probes the linear category.
func (a *Adapter) TestFuturesConnection(ctx context.Context) bool {
	params := url.Values{"category": {"linear"}, "limit": {"1"}}
	_, err := a.call(ctx, "test_futures_connection", "/v5/execution/list", params)
	return err == nil
}

// HealthCheck measures latency against the public server-time endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/v5/market/time", nil)
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

type execution struct {
	ExecID      string `json:"execId"`
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	FeeCurrency string `json:"feeCurrency"`
	ExecTime    string `json:"execTime"`
	IsMaker     bool   `json:"isMaker"`
}

type executionList struct {
	List []execution `json:"list"`
}

func (a *Adapter) fetchExecutions(ctx context.Context, op, category string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	windowParams(params, opts)

	result, err := a.call(ctx, op, "/v5/execution/list", params)
	if err != nil {
		return nil, err
	}
	var page executionList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(page.List))
	for _, e := range page.List {
		role := "taker"
		if e.IsMaker {
			role = "maker"
		}
		trades = append(trades, schema.Trade{
			ID:          e.ExecID,
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromConcat(e.Symbol),
			Side:        schema.NormalizeSide(e.Side),
			Price:       shared.Decimal(e.ExecPrice),
			Quantity:    shared.Decimal(e.ExecQty),
			Fee:         shared.AbsDecimal(e.ExecFee),
			FeeCurrency: e.FeeCurrency,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochString(e.ExecTime)),
			OrderID:     e.OrderID,
			Role:        role,
		})
	}
	return trades, nil
}

// FetchTrades returns normalized spot execution history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	return a.fetchExecutions(ctx, "fetch_trades", "spot", opts)
}

// FetchFuturesTrades probes the linear category first, then inverse.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "linear", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchExecutions(ctx, "fetch_futures_trades", "linear", opts)
		}},
		{Name: "inverse", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchExecutions(ctx, "fetch_futures_trades", "inverse", opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

type walletCoin struct {
	Coin                string `json:"coin"`
	WalletBalance       string `json:"walletBalance"`
	Locked              string `json:"locked"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
}

type walletResult struct {
	List []struct {
		Coin []walletCoin `json:"coin"`
	} `json:"list"`
}

// FetchBalances returns non-zero unified-account holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	result, err := a.call(ctx, "fetch_balances", "/v5/account/wallet-balance",
		url.Values{"accountType": {"UNIFIED"}})
	if err != nil {
		return nil, err
	}
	var wallet walletResult
	if err := json.Unmarshal(result, &wallet); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	var balances []schema.Balance
	for _, account := range wallet.List {
		for _, c := range account.Coin {
			total := shared.Decimal(c.WalletBalance)
			locked := shared.Decimal(c.Locked)
			free := shared.Decimal(c.AvailableToWithdraw)
			if free.IsZero() {
				free = total.Sub(locked)
			}
			balance := schema.Balance{
				Exchange: exchangeName,
				Currency: c.Coin,
				Free:     free,
				Locked:   locked,
				Total:    total,
			}
			if total.IsZero() {
				continue
			}
			balances = append(balances, balance)
		}
	}
	if balances == nil {
		balances = []schema.Balance{}
	}
	return balances, nil
}

type orderRecord struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

type orderList struct {
	List []orderRecord `json:"list"`
}

// FetchOrders returns normalized spot order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_orders", "/v5/order/history", params)
	if err != nil {
		return nil, err
	}
	var page orderList
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(page.List))
	for _, o := range page.List {
		orders = append(orders, schema.Order{
			ID:        o.OrderID,
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromConcat(o.Symbol),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.OrderType,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Qty),
			Filled:    shared.Decimal(o.CumExecQty),
			Status:    o.OrderStatus,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochString(o.CreatedTime)),
		})
	}
	return orders, nil
}

type depositRow struct {
	Coin      string `json:"coin"`
	Amount    string `json:"amount"`
	Status    int    `json:"status"`
	TxID      string `json:"txID"`
	ToAddress string `json:"toAddress"`
	SuccessAt string `json:"successAt"`
}

type depositRows struct {
	Rows []depositRow `json:"rows"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_deposits", "/v5/asset/deposit/query-record", params)
	if err != nil {
		return nil, err
	}
	var page depositRows
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_deposits"), errs.WithCause(err))
	}
	deposits := make([]schema.Deposit, 0, len(page.Rows))
	for _, d := range page.Rows {
		deposits = append(deposits, schema.Deposit{
			ID:        d.TxID,
			Exchange:  exchangeName,
			Currency:  d.Coin,
			Amount:    shared.Decimal(d.Amount),
			Status:    depositStatus(d.Status),
			TxID:      d.TxID,
			Address:   d.ToAddress,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochString(d.SuccessAt)),
		})
	}
	return deposits, nil
}

func depositStatus(code int) string {
	switch code {
	case 3:
		return "success"
	case 0, 1, 2:
		return "pending"
	case 4:
		return "failed"
	default:
		return strconv.Itoa(code)
	}
}

type withdrawalRow struct {
	WithdrawID  string `json:"withdrawId"`
	Coin        string `json:"coin"`
	Amount      string `json:"amount"`
	WithdrawFee string `json:"withdrawFee"`
	Status      string `json:"status"`
	TxID        string `json:"txID"`
	ToAddress   string `json:"toAddress"`
	CreateTime  string `json:"createTime"`
}

type withdrawalRows struct {
	Rows []withdrawalRow `json:"rows"`
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	windowParams(params, opts)

	result, err := a.call(ctx, "fetch_withdrawals", "/v5/asset/withdraw/query-record", params)
	if err != nil {
		return nil, err
	}
	var page withdrawalRows
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(page.Rows))
	for _, w := range page.Rows {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.WithdrawID,
			Exchange:  exchangeName,
			Currency:  w.Coin,
			Amount:    shared.Decimal(w.Amount),
			Fee:       shared.Decimal(w.WithdrawFee),
			Status:    w.Status,
			TxID:      w.TxID,
			Address:   w.ToAddress,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochString(w.CreateTime)),
		})
	}
	return withdrawals, nil
}
