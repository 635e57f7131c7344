// Package binance implements the Binance sync adapter over the spot, USDT-
// margined and coin-margined REST surfaces.
package binance

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
	exchangeName  = "binance"
	maxTradeLimit = 1000
)

// Adapter talks to the Binance REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a Binance adapter bound to one credential set.
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

// Capabilities reports the surfaces Binance backs with endpoints.
func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{Futures: true, Orders: true, Deposits: true, Withdrawals: true}
}

func (a *Adapter) signedRequest(surface, path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		for key, vals := range params {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
		values.Set("timestamp", sign.TimestampMS(a.clock))
		if a.settings.RecvWindow > 0 {
			values.Set("recvWindow", strconv.FormatInt(a.settings.RecvWindow.Milliseconds(), 10))
		}
		query := sign.CanonicalQuery(values)
		signature := sign.HMACSHA256Hex(a.creds.Secret, query)
		endpoint := a.settings.BaseURL(surface) + path + "?" + query + "&signature=" + signature
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", a.creds.Key)
		return req, nil
	}
}

type apiError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// checkBody surfaces errors the venue embeds in a 2xx response body.
func (a *Adapter) checkBody(op string, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Code != 0 && apiErr.Msg != "" {
		return errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(strconv.FormatInt(apiErr.Code, 10)),
			errs.WithRawMessage(apiErr.Msg))
	}
	return nil
}

// TestConnection issues one cheap authenticated account call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.fetchAccount(ctx)
	return err == nil
}

// TestFuturesConnection probes the USDT-margined surface.
func (a *Adapter) TestFuturesConnection(ctx context.Context) bool {
	_, err := a.client.Do(ctx, "test_futures_connection", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, a.settings.BaseURL(config.SurfaceLinear)+"/fapi/v1/ping", nil)
	})
	return err == nil
}

// HealthCheck measures latency against the spot ping endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, a.settings.BaseURL(config.SurfaceSpot)+"/api/v3/ping", nil)
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

type spotTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// FetchTrades returns normalized spot trade history. The venue requires a
// symbol filter on the trade endpoint.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	if opts.Symbol == "" {
		return nil, errs.New(exchangeName, errs.CodeInvalid,
			errs.WithOperation("fetch_trades"),
			errs.WithMessage("symbol filter required for trade history"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	}
	params := url.Values{}
	params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_trades", a.signedRequest(config.SurfaceSpot, "/api/v3/myTrades", params))
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
		trades = append(trades, a.normalizeSpotTrade(t))
	}
	return trades, nil
}

func (a *Adapter) normalizeSpotTrade(t spotTrade) schema.Trade {
	side := schema.SideSell
	if t.IsBuyer {
		side = schema.SideBuy
	}
	role := "taker"
	if t.IsMaker {
		role = "maker"
	}
	return schema.Trade{
		ID:          strconv.FormatInt(t.ID, 10),
		Exchange:    exchangeName,
		Symbol:      schema.SymbolFromConcat(t.Symbol),
		Side:        side,
		Price:       shared.Decimal(t.Price),
		Quantity:    shared.Decimal(t.Qty),
		Fee:         shared.Decimal(t.Commission),
		FeeCurrency: t.CommissionAsset,
		Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochMillis(t.Time)),
		OrderID:     strconv.FormatInt(t.OrderID, 10),
		Role:        role,
	}
}

type futuresTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	Buyer           bool   `json:"buyer"`
	Maker           bool   `json:"maker"`
	PositionSide    string `json:"positionSide"`
}

// FetchFuturesTrades probes the USDT-margined surface first and falls back to
// the coin-margined surface.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "linear", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFuturesSurface(ctx, config.SurfaceLinear, "/fapi/v1/userTrades", opts)
		}},
		{Name: "inverse", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchFuturesSurface(ctx, config.SurfaceInverse, "/dapi/v1/userTrades", opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

func (a *Adapter) fetchFuturesSurface(ctx context.Context, surface, path string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_futures_trades", a.signedRequest(surface, path, params))
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
		side := schema.SideSell
		if t.Buyer {
			side = schema.SideBuy
		}
		role := "taker"
		if t.Maker {
			role = "maker"
		}
		trades = append(trades, schema.Trade{
			ID:           strconv.FormatInt(t.ID, 10),
			Exchange:     exchangeName,
			Symbol:       schema.SymbolFromConcat(t.Symbol),
			Side:         side,
			Price:        shared.Decimal(t.Price),
			Quantity:     shared.Decimal(t.Qty),
			Fee:          shared.Decimal(t.Commission),
			FeeCurrency:  t.CommissionAsset,
			Timestamp:    shared.Timestamp(a.log, "futures trade", shared.EpochMillis(t.Time)),
			OrderID:      strconv.FormatInt(t.OrderID, 10),
			Role:         role,
			PositionSide: t.PositionSide,
		})
	}
	return trades, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (a *Adapter) fetchAccount(ctx context.Context) (*accountResponse, error) {
	body, err := a.client.Do(ctx, "fetch_balances", a.signedRequest(config.SurfaceSpot, "/api/v3/account", url.Values{}))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_balances", body); err != nil {
		return nil, err
	}
	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	return &account, nil
}

// FetchBalances returns non-zero spot holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	account, err := a.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}
	balances := make([]schema.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free := shared.Decimal(b.Free)
		locked := shared.Decimal(b.Locked)
		balance := schema.Balance{
			Exchange: exchangeName,
			Currency: b.Asset,
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
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Time        int64  `json:"time"`
	UpdateTime  int64  `json:"updateTime"`
}

// FetchOrders returns normalized order history for one symbol.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	if opts.Symbol == "" {
		return nil, errs.New(exchangeName, errs.CodeInvalid,
			errs.WithOperation("fetch_orders"),
			errs.WithMessage("symbol filter required for order history"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	}
	params := url.Values{}
	params.Set("symbol", schema.SymbolToConcat(opts.Symbol))
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_orders", a.signedRequest(config.SurfaceSpot, "/api/v3/allOrders", params))
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
			ID:        strconv.FormatInt(o.OrderID, 10),
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromConcat(o.Symbol),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.OrigQty),
			Filled:    shared.Decimal(o.ExecutedQty),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochMillis(o.Time), shared.EpochMillis(o.UpdateTime)),
		})
	}
	return orders, nil
}

type depositRecord struct {
	ID         string `json:"id"`
	Amount     string `json:"amount"`
	Coin       string `json:"coin"`
	Status     int    `json:"status"`
	Address    string `json:"address"`
	TxID       string `json:"txId"`
	InsertTime int64  `json:"insertTime"`
}

// FetchDeposits returns deposit history from the capital endpoint.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_deposits", a.signedRequest(config.SurfaceSpot, "/sapi/v1/capital/deposit/hisrec", params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_deposits", body); err != nil {
		return nil, err
	}
	var raw []depositRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_deposits"), errs.WithCause(err))
	}
	deposits := make([]schema.Deposit, 0, len(raw))
	for _, d := range raw {
		deposits = append(deposits, schema.Deposit{
			ID:        d.ID,
			Exchange:  exchangeName,
			Currency:  d.Coin,
			Amount:    shared.Decimal(d.Amount),
			Status:    depositStatus(d.Status),
			TxID:      d.TxID,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochMillis(d.InsertTime)),
		})
	}
	return deposits, nil
}

func depositStatus(code int) string {
	switch code {
	case 0:
		return "pending"
	case 6:
		return "credited"
	case 1:
		return "success"
	default:
		return strconv.Itoa(code)
	}
}

type withdrawalRecord struct {
	ID             string `json:"id"`
	Amount         string `json:"amount"`
	TransactionFee string `json:"transactionFee"`
	Coin           string `json:"coin"`
	Status         int    `json:"status"`
	Address        string `json:"address"`
	TxID           string `json:"txId"`
	ApplyTime      string `json:"applyTime"`
	CompleteTime   string `json:"completeTime"`
}

// FetchWithdrawals returns withdrawal history from the capital endpoint.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_withdrawals", a.signedRequest(config.SurfaceSpot, "/sapi/v1/capital/withdraw/history", params))
	if err != nil {
		return nil, err
	}
	if err := a.checkBody("fetch_withdrawals", body); err != nil {
		return nil, err
	}
	var raw []withdrawalRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.ID,
			Exchange:  exchangeName,
			Currency:  w.Coin,
			Amount:    shared.Decimal(w.Amount),
			Fee:       shared.Decimal(w.TransactionFee),
			Status:    withdrawalStatus(w.Status),
			TxID:      w.TxID,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", parseApplyTime(w.ApplyTime), parseApplyTime(w.CompleteTime)),
		})
	}
	return withdrawals, nil
}

// The capital endpoints render apply times as "2006-01-02 15:04:05" in UTC.
func parseApplyTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func withdrawalStatus(code int) string {
	switch code {
	case 0:
		return "email_sent"
	case 1:
		return "cancelled"
	case 2:
		return "awaiting_approval"
	case 3:
		return "rejected"
	case 4:
		return "processing"
	case 5:
		return "failure"
	case 6:
		return "completed"
	default:
		return strconv.Itoa(code)
	}
}
