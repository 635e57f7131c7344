// Package htx implements the HTX (Huobi) sync adapter. Signatures are carried
// in the query string and cover the request host, so the canonical string is
// rebuilt from the configured base URL. Derivatives live on a separate host
// and key product and are not integrated.
package htx

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
	exchangeName  = "htx"
	maxTradeLimit = 500
)

// Adapter talks to the HTX REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger

	accountID string
}

// New constructs an HTX adapter bound to one credential set.
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

func (a *Adapter) signedRequest(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		base := a.settings.BaseURL(config.SurfaceSpot)
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, err
		}
		values := url.Values{}
		for key, vals := range params {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
		values.Set("AccessKeyId", a.creds.Key)
		values.Set("SignatureMethod", "HmacSHA256")
		values.Set("SignatureVersion", "2")
		values.Set("Timestamp", a.clock().UTC().Format("2006-01-02T15:04:05"))

		canonical := strings.Join([]string{
			http.MethodGet, parsed.Host, path, sign.CanonicalQuery(values),
		}, "\n")
		values.Set("Signature", sign.HMACSHA256Base64(a.creds.Secret, canonical))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			base+path+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
}

type envelope struct {
	Status  string          `json:"status"`
	ErrCode string          `json:"err-code"`
	ErrMsg  string          `json:"err-msg"`
	Data    json.RawMessage `json:"data"`
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
	if env.Status != "" && env.Status != "ok" {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op),
			errs.WithRawCode(env.ErrCode),
			errs.WithRawMessage(env.ErrMsg))
	}
	return env.Data, nil
}

// TestConnection resolves the spot account id with one authenticated call.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.resolveAccountID(ctx)
	return err == nil
}

// HealthCheck measures latency against the public timestamp endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) schema.Health {
	return shared.MeasureHealth(ctx, func(ctx context.Context) error {
		_, err := a.client.Do(ctx, "health_check", func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				a.settings.BaseURL(config.SurfaceSpot)+"/v1/common/timestamp", nil)
		})
		return err
	})
}

type accountEntry struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	State string `json:"state"`
}

func (a *Adapter) resolveAccountID(ctx context.Context) (string, error) {
	if a.accountID != "" {
		return a.accountID, nil
	}
	data, err := a.call(ctx, "resolve_account", "/v1/account/accounts", url.Values{})
	if err != nil {
		return "", err
	}
	var accounts []accountEntry
	if err := json.Unmarshal(data, &accounts); err != nil {
		return "", errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("resolve_account"), errs.WithCause(err))
	}
	for _, account := range accounts {
		if account.Type == "spot" {
			a.accountID = strconv.FormatInt(account.ID, 10)
			return a.accountID, nil
		}
	}
	return "", errs.New(exchangeName, errs.CodeExchange,
		errs.WithOperation("resolve_account"),
		errs.WithMessage("no spot account on this key"))
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("start-time", strconv.FormatInt(opts.StartTime.UnixMilli(), 10))
	}
	if !opts.EndTime.IsZero() {
		params.Set("end-time", strconv.FormatInt(opts.EndTime.UnixMilli(), 10))
	}
}

// sideFromOrderType splits HTX's combined "side-ordertype" strings.
func sideFromOrderType(orderType string) (schema.Side, string) {
	parts := strings.SplitN(orderType, "-", 2)
	side := schema.NormalizeSide(parts[0])
	kind := ""
	if len(parts) == 2 {
		kind = parts[1]
	}
	return side, kind
}

type matchResult struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order-id"`
	Symbol       string `json:"symbol"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	FilledAmount string `json:"filled-amount"`
	FilledFees   string `json:"filled-fees"`
	FeeCurrency  string `json:"fee-currency"`
	CreatedAt    int64  `json:"created-at"`
	Role         string `json:"role"`
}

// FetchTrades returns normalized spot match results.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("size", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	if opts.Symbol != "" {
		params.Set("symbol", strings.ToLower(schema.SymbolToConcat(opts.Symbol)))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_trades", "/v1/order/matchresults", params)
	if err != nil {
		return nil, err
	}
	var raw []matchResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, m := range raw {
		side, _ := sideFromOrderType(m.Type)
		trades = append(trades, schema.Trade{
			ID:          strconv.FormatInt(m.ID, 10),
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromConcat(strings.ToUpper(m.Symbol)),
			Side:        side,
			Price:       shared.Decimal(m.Price),
			Quantity:    shared.Decimal(m.FilledAmount),
			Fee:         shared.Decimal(m.FilledFees),
			FeeCurrency: strings.ToUpper(m.FeeCurrency),
			Timestamp:   shared.Timestamp(a.log, "trade", shared.EpochMillis(m.CreatedAt)),
			OrderID:     strconv.FormatInt(m.OrderID, 10),
			Role:        m.Role,
		})
	}
	return trades, nil
}

type balanceList struct {
	List []struct {
		Currency string `json:"currency"`
		Type     string `json:"type"`
		Balance  string `json:"balance"`
	} `json:"list"`
}

// FetchBalances resolves the spot account then aggregates its trade and
// frozen sub-balances per currency.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	accountID, err := a.resolveAccountID(ctx)
	if err != nil {
		return nil, err
	}
	data, err := a.call(ctx, "fetch_balances", "/v1/account/accounts/"+accountID+"/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var page balanceList
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	byCurrency := map[string]*schema.Balance{}
	order := []string{}
	for _, entry := range page.List {
		currency := strings.ToUpper(entry.Currency)
		b, ok := byCurrency[currency]
		if !ok {
			b = &schema.Balance{Exchange: exchangeName, Currency: currency}
			byCurrency[currency] = b
			order = append(order, currency)
		}
		amount := shared.Decimal(entry.Balance)
		switch entry.Type {
		case "frozen":
			b.Locked = b.Locked.Add(amount)
		default:
			b.Free = b.Free.Add(amount)
		}
		b.Total = b.Total.Add(amount)
	}
	balances := []schema.Balance{}
	for _, currency := range order {
		b := byCurrency[currency]
		if b.IsZero() {
			continue
		}
		balances = append(balances, *b)
	}
	return balances, nil
}

type orderRecord struct {
	ID          int64  `json:"id"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	FieldAmount string `json:"field-amount"`
	State       string `json:"state"`
	Type        string `json:"type"`
	CreatedAt   int64  `json:"created-at"`
}

// FetchOrders returns normalized order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("size", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))
	params.Set("states", "filled,partial-canceled,canceled")
	if opts.Symbol != "" {
		params.Set("symbol", strings.ToLower(schema.SymbolToConcat(opts.Symbol)))
	}
	windowParams(params, opts)

	data, err := a.call(ctx, "fetch_orders", "/v1/order/orders", params)
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
		side, kind := sideFromOrderType(o.Type)
		orders = append(orders, schema.Order{
			ID:        strconv.FormatInt(o.ID, 10),
			Exchange:  exchangeName,
			Symbol:    schema.SymbolFromConcat(strings.ToUpper(o.Symbol)),
			Side:      side,
			Type:      kind,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Amount),
			Filled:    shared.Decimal(o.FieldAmount),
			Status:    o.State,
			Timestamp: shared.Timestamp(a.log, "order", shared.EpochMillis(o.CreatedAt)),
		})
	}
	return orders, nil
}

type transferRecord struct {
	ID        int64   `json:"id"`
	Currency  string  `json:"currency"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Address   string  `json:"address"`
	TxHash    string  `json:"tx-hash"`
	State     string  `json:"state"`
	CreatedAt int64   `json:"created-at"`
}

func (a *Adapter) fetchTransfers(ctx context.Context, op, transferType string, opts schema.FetchOptions) ([]transferRecord, error) {
	params := url.Values{}
	params.Set("type", transferType)
	params.Set("size", strconv.Itoa(opts.CappedLimit(maxTradeLimit)))

	data, err := a.call(ctx, op, "/v1/query/deposit-withdraw", params)
	if err != nil {
		return nil, err
	}
	var raw []transferRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	return raw, nil
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_deposits", "deposit", opts)
	if err != nil {
		return nil, err
	}
	deposits := make([]schema.Deposit, 0, len(raw))
	for _, d := range raw {
		deposits = append(deposits, schema.Deposit{
			ID:        strconv.FormatInt(d.ID, 10),
			Exchange:  exchangeName,
			Currency:  strings.ToUpper(d.Currency),
			Amount:    shared.Decimal(strconv.FormatFloat(d.Amount, 'f', -1, 64)),
			Status:    d.State,
			TxID:      d.TxHash,
			Address:   d.Address,
			Timestamp: shared.Timestamp(a.log, "deposit", shared.EpochMillis(d.CreatedAt)),
		})
	}
	return deposits, nil
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_withdrawals", "withdraw", opts)
	if err != nil {
		return nil, err
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:        strconv.FormatInt(w.ID, 10),
			Exchange:  exchangeName,
			Currency:  strings.ToUpper(w.Currency),
			Amount:    shared.Decimal(strconv.FormatFloat(w.Amount, 'f', -1, 64)),
			Fee:       shared.Decimal(strconv.FormatFloat(w.Fee, 'f', -1, 64)),
			Status:    w.State,
			TxID:      w.TxHash,
			Address:   w.Address,
			Timestamp: shared.Timestamp(a.log, "withdrawal", shared.EpochMillis(w.CreatedAt)),
		})
	}
	return withdrawals, nil
}
