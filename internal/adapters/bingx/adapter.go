// Package bingx implements the BingX sync adapter. Derivatives history walks
// three endpoint families in order: USDT-margined perpetuals, coin-margined
// perpetuals, then the legacy standard-contract book. The fill payloads differ
// per family, so normalization probes candidate field names instead of binding
// one struct shape.
package bingx

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/adapters"
	"github.com/profitlens/exsync/internal/adapters/shared"
	"github.com/profitlens/exsync/internal/schema"
	"github.com/profitlens/exsync/internal/sign"
)

const (
	exchangeName  = "bingx"
	maxTradeLimit = 500
)

// Adapter talks to the BingX REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a BingX adapter bound to one credential set.
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

// Capabilities reports the surfaces BingX backs with endpoints.
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
		query := sign.CanonicalQuery(values)
		signature := sign.HMACSHA256Hex(a.creds.Secret, query)
		endpoint := a.settings.BaseURL(surface) + path + "?" + query + "&signature=" + signature
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-BX-APIKEY", a.creds.Key)
		return req, nil
	}
}

type envelope struct {
	Code int64           `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *Adapter) call(ctx context.Context, op, surface, path string, params url.Values) (json.RawMessage, error) {
	body, err := a.client.Do(ctx, op, a.signedRequest(surface, path, params))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	if env.Code != 0 {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(strconv.FormatInt(env.Code, 10)),
			errs.WithRawMessage(env.Msg))
	}
	return env.Data, nil
}

// TestConnection issues one cheap authenticated balance call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_connection", config.SurfaceSpot,
		"/openApi/spot/v1/account/balance", url.Values{})
	return err == nil
}

// TestFuturesConnection probes the USDT-margined perpetual surface.
func (a *Adapter) TestFuturesConnection(ctx context.Context) bool {
	_, err := a.call(ctx, "test_futures_connection", config.SurfaceLinear,
		"/openApi/swap/v2/user/balance", url.Values{})
	return err == nil
}

// HealthCheck measures latency against the public server-time endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/openApi/swap/v2/server/time", nil)
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

type spotFill struct {
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

type spotFills struct {
	Fills []spotFill `json:"fills"`
}

// FetchTrades returns normalized spot fill history. The venue requires a
// symbol filter on the fills endpoint.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	if opts.Symbol == "" {
		return nil, errs.New(exchangeName, errs.CodeInvalid,
			errs.WithOperation("fetch_trades"),
			errs.WithMessage("symbol filter required for trade history"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	}
	params := url.Values{}
	params.Set("symbol", schema.SymbolToDelimited(opts.Symbol, "-"))
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_trades", config.SurfaceSpot,
		"/openApi/spot/v1/trade/myTrades", params)
	if err != nil {
		return nil, err
	}
	var page spotFills
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(page.Fills))
	for _, f := range page.Fills {
		side := schema.SideSell
		if f.IsBuyer {
			side = schema.SideBuy
		}
		role := "taker"
		if f.IsMaker {
			role = "maker"
		}
		trades = append(trades, schema.Trade{
			ID:          strconv.FormatInt(f.ID, 10),
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(f.Symbol, "-"),
			Side:        side,
			Price:       shared.Decimal(f.Price),
			Quantity:    shared.Decimal(f.Qty),
			Fee:         shared.AbsDecimal(f.Commission),
			FeeCurrency: f.CommissionAsset,
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochMillis(f.Time)),
			OrderID:     strconv.FormatInt(f.OrderID, 10),
			Role:        role,
		})
	}
	return trades, nil
}

// fetchDerivativeFills pulls one endpoint family and normalizes by probing
// candidate field names, since the three families disagree on naming.
func (a *Adapter) fetchDerivativeFills(ctx context.Context, surface, path string, listPaths []string, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_futures_trades", surface, path, params)
	if err != nil {
		return nil, err
	}

	var list gjson.Result
	for _, lp := range listPaths {
		if candidate := gjson.GetBytes(data, lp); candidate.IsArray() {
			list = candidate
			break
		}
	}
	if !list.Exists() {
		if root := gjson.ParseBytes(data); root.IsArray() {
			list = root
		}
	}

	trades := []schema.Trade{}
	for _, el := range list.Array() {
		record := []byte(el.Raw)
		symbol := shared.FieldString(record, "symbol", "contract")
		side := schema.NormalizeSide(shared.FieldString(record, "side", "type"))
		trades = append(trades, schema.Trade{
			ID:           shared.FieldString(record, "tradeId", "fillId", "orderId"),
			Exchange:     exchangeName,
			Symbol:       schema.SymbolFromDelimited(symbol, "-"),
			Side:         side,
			Price:        shared.FieldDecimal(record, "price", "avgPrice", "fillPrice"),
			Quantity:     shared.FieldDecimal(record, "volume", "qty", "filledQty", "amount").Abs(),
			Fee:          shared.FieldDecimal(record, "commission", "fee").Abs(),
			FeeCurrency:  shared.FieldString(record, "commissionAsset", "currency"),
			Timestamp:    a.fillTime(record),
			OrderID:      shared.FieldString(record, "orderId"),
			PositionSide: shared.FieldString(record, "positionSide"),
		})
	}
	return trades, nil
}

// fillTime probes epoch fields first and falls back to the RFC3339 strings the
// standard-contract book renders.
func (a *Adapter) fillTime(record []byte) time.Time {
	if epoch := shared.FieldInt(record, "filledTime", "time", "ctime", "updateTime"); epoch > 0 {
		return shared.EpochMillis(epoch)
	}
	if raw := shared.FieldString(record, "filledTm", "createTime"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC()
		}
	}
	return shared.Timestamp(a.log, "futures trade")
}

// FetchFuturesTrades walks USDT-margined perpetuals, coin-margined perpetuals,
// then the standard-contract book.
func (a *Adapter) FetchFuturesTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	probes := []shared.TradeProbe{
		{Name: "usdt-swap", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchDerivativeFills(ctx, config.SurfaceLinear,
				"/openApi/swap/v2/trade/allFillOrders",
				[]string{"fill_orders", "fillOrders"}, opts)
		}},
		{Name: "coin-swap", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchDerivativeFills(ctx, config.SurfaceInverse,
				"/openApi/cswap/v1/trade/allFillOrders",
				[]string{"fill_orders", "fillOrders"}, opts)
		}},
		{Name: "standard-contract", Fetch: func(ctx context.Context) ([]schema.Trade, error) {
			return a.fetchDerivativeFills(ctx, config.SurfaceStandard,
				"/openApi/contract/v1/allOrders",
				[]string{"orders"}, opts)
		}},
	}
	return shared.RunTradeCascade(ctx, a.log, probes)
}

type balanceData struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// FetchBalances returns non-zero spot holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	data, err := a.call(ctx, "fetch_balances", config.SurfaceSpot,
		"/openApi/spot/v1/account/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var page balanceData
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, b := range page.Balances {
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
}

type orderData struct {
	Orders []orderRecord `json:"orders"`
}

// FetchOrders returns normalized spot order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	if opts.Symbol != "" {
		params.Set("symbol", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_orders", config.SurfaceSpot,
		"/openApi/spot/v1/trade/historyOrders", params)
	if err != nil {
		return nil, err
	}
	var page orderData
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_orders"), errs.WithCause(err))
	}
	orders := make([]schema.Order, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, schema.Order{
			ID:        strconv.FormatInt(o.OrderID, 10),
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromDelimited(o.Symbol, "-"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.OrigQty),
			Filled:    shared.Decimal(o.ExecutedQty),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochMillis(o.Time)),
		})
	}
	return orders, nil
}

type depositRecord struct {
	Amount     string `json:"amount"`
	Coin       string `json:"coin"`
	Status     int    `json:"status"`
	Address    string `json:"address"`
	TxID       string `json:"txId"`
	InsertTime int64  `json:"insertTime"`
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	params := url.Values{}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_deposits",
		a.signedRequest(config.SurfaceSpot, "/openApi/api/v3/capital/deposit/hisrec", params))
	if err != nil {
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
			ID:        d.TxID,
			Exchange:  exchangeName,
			Currency:  d.Coin,
			Amount:    shared.Decimal(d.Amount),
			Status:    strconv.Itoa(d.Status),
			TxID:      d.TxID,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochMillis(d.InsertTime)),
		})
	}
	return deposits, nil
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
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	params := url.Values{}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_withdrawals",
		a.signedRequest(config.SurfaceSpot, "/openApi/api/v3/capital/withdraw/history", params))
	if err != nil {
		return nil, err
	}
	var raw []withdrawalRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_withdrawals"), errs.WithCause(err))
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		ts := shared.EpochString(w.ApplyTime)
		if ts.IsZero() {
			if parsed, err := time.Parse(time.RFC3339, w.ApplyTime); err == nil {
				ts = parsed.UTC()
			}
		}
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        w.ID,
			Exchange:  exchangeName,
			Currency:  w.Coin,
			Amount:    shared.Decimal(w.Amount),
			Fee:       shared.Decimal(w.TransactionFee),
			Status:    strconv.Itoa(w.Status),
			TxID:      w.TxID,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", ts),
		})
	}
	return withdrawals, nil
}
