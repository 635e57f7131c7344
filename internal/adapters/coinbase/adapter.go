// Package coinbase implements the Coinbase Exchange sync adapter. The API
// secret is base64; the signature covers epoch-second timestamp, method and
// path. Record timestamps arrive as RFC3339 strings, with a legacy space
// separated form on transfer records. The exchange API has no derivatives.
package coinbase

import (
	"context"
	"encoding/base64"
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
	exchangeName = "coinbase"
	maxPageLimit = 100
)

// Adapter talks to the Coinbase Exchange REST API for one account.
type Adapter struct {
	creds    schema.Credentials
	settings config.ExchangeSettings
	client   *shared.Client
	clock    func() time.Time
	log      zerolog.Logger
}

// New constructs a Coinbase adapter bound to one credential set.
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
		requestPath := path
		if query := sign.CanonicalQuery(params); query != "" {
			requestPath += "?" + query
		}
		secret, err := base64.StdEncoding.DecodeString(a.creds.Secret)
		if err != nil {
			return nil, errs.New(exchangeName, errs.CodeAuth,
				errs.WithMessage("api secret is not valid base64"),
				errs.WithCanonicalCode(errs.CanonicalBadCredentials))
		}
		ts := sign.TimestampS(a.clock)
		signature := sign.HMACSHA256Base64Raw(secret, ts+http.MethodGet+requestPath)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			a.settings.BaseURL(config.SurfaceSpot)+requestPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("CB-ACCESS-KEY", a.creds.Key)
		req.Header.Set("CB-ACCESS-SIGN", signature)
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
		req.Header.Set("CB-ACCESS-PASSPHRASE", a.creds.Passphrase)
		return req, nil
	}
}

// parseTime accepts the RFC3339 form plus the space-separated legacy form on
// transfer records.
func parseTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return parsed.UTC()
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05.999999+00",
		"2006-01-02 15:04:05",
	} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
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
				a.settings.BaseURL(config.SurfaceSpot)+"/time", nil)
		})
		return err
	})
}

func windowParams(params url.Values, opts schema.FetchOptions) {
	if !opts.StartTime.IsZero() {
		params.Set("start_date", opts.StartTime.UTC().Format(time.RFC3339))
	}
	if !opts.EndTime.IsZero() {
		params.Set("end_date", opts.EndTime.UTC().Format(time.RFC3339))
	}
}

type fillRecord struct {
	TradeID   int64  `json:"trade_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	CreatedAt string `json:"created_at"`
	Liquidity string `json:"liquidity"`
	Side      string `json:"side"`
}

// FetchTrades returns normalized fill history.
func (a *Adapter) FetchTrades(ctx context.Context, opts schema.FetchOptions) ([]schema.Trade, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("product_id", schema.SymbolToDelimited(opts.Symbol, "-"))
	}
	windowParams(params, opts)

	body, err := a.client.Do(ctx, "fetch_trades", a.signedRequest("/fills", params))
	if err != nil {
		return nil, err
	}
	var raw []fillRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_trades"), errs.WithCause(err))
	}
	trades := make([]schema.Trade, 0, len(raw))
	for _, f := range raw {
		role := ""
		switch f.Liquidity {
		case "T":
			role = "taker"
		case "M":
			role = "maker"
		}
		// The quote currency pays the fee on Coinbase fills.
		_, quote, _ := schema.SplitSymbol(schema.SymbolFromDelimited(f.ProductID, "-"))
		trades = append(trades, schema.Trade{
			ID:          strconv.FormatInt(f.TradeID, 10),
			Exchange:    exchangeName,
			Symbol:      schema.SymbolFromDelimited(f.ProductID, "-"),
			Side:        schema.NormalizeSide(f.Side),
			Price:       shared.Decimal(f.Price),
			Quantity:    shared.Decimal(f.Size),
			Fee:         shared.Decimal(f.Fee),
			FeeCurrency: quote,
			Timestamp:   shared.Timestamp(a.log, "trade", parseTime(f.CreatedAt)),
			OrderID:     f.OrderID,
			Role:        role,
		})
	}
	return trades, nil
}

type accountRecord struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

// FetchBalances returns non-zero holdings.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.client.Do(ctx, "fetch_balances", a.signedRequest("/accounts", url.Values{}))
	if err != nil {
		return nil, err
	}
	var raw []accountRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation("fetch_balances"), errs.WithCause(err))
	}
	balances := []schema.Balance{}
	for _, r := range raw {
		total := shared.Decimal(r.Balance)
		if total.IsZero() {
			continue
		}
		balances = append(balances, schema.Balance{
			Exchange: exchangeName,
			Currency: r.Currency,
			Free:     shared.Decimal(r.Available),
			Locked:   shared.Decimal(r.Hold),
			Total:    total,
		})
	}
	return balances, nil
}

type orderRecord struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	Status     string `json:"status"`
	Type       string `json:"type"`
	Side       string `json:"side"`
	CreatedAt  string `json:"created_at"`
}

// FetchOrders returns normalized completed-order history.
func (a *Adapter) FetchOrders(ctx context.Context, opts schema.FetchOptions) ([]schema.Order, error) {
	params := url.Values{}
	params.Set("status", "done")
	params.Set("limit", strconv.Itoa(opts.CappedLimit(maxPageLimit)))
	if opts.Symbol != "" {
		params.Set("product_id", schema.SymbolToDelimited(opts.Symbol, "-"))
	}

	body, err := a.client.Do(ctx, "fetch_orders", a.signedRequest("/orders", params))
	if err != nil {
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
			Symbol:    schema.SymbolFromDelimited(o.ProductID, "-"),
			Side:      schema.NormalizeSide(o.Side),
			Type:      o.Type,
			Price:     shared.Decimal(o.Price),
			Quantity:  shared.Decimal(o.Size),
			Filled:    shared.Decimal(o.FilledSize),
			Status:    o.Status,
			Timestamp: shared.Timestamp(a.log, "order", parseTime(o.CreatedAt)),
		})
	}
	return orders, nil
}

type transferRecord struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
	Details     struct {
		CryptoAddress         string `json:"crypto_address"`
		CryptoTransactionHash string `json:"crypto_transaction_hash"`
		SentToAddress         string `json:"sent_to_address"`
	} `json:"details"`
}

func (a *Adapter) fetchTransfers(ctx context.Context, op, transferType string) ([]transferRecord, error) {
	params := url.Values{}
	params.Set("type", transferType)

	body, err := a.client.Do(ctx, op, a.signedRequest("/transfers", params))
	if err != nil {
		return nil, err
	}
	var raw []transferRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(exchangeName, errs.CodeExchange,
			errs.WithOperation(op), errs.WithCause(err))
	}
	return raw, nil
}

func transferStatus(completedAt string) string {
	if strings.TrimSpace(completedAt) == "" {
		return "pending"
	}
	return "completed"
}

// FetchDeposits returns deposit history.
func (a *Adapter) FetchDeposits(ctx context.Context, opts schema.FetchOptions) ([]schema.Deposit, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_deposits", "deposit")
	if err != nil {
		return nil, err
	}
	deposits := make([]schema.Deposit, 0, len(raw))
	for _, d := range raw {
		deposits = append(deposits, schema.Deposit{
			ID:       d.ID,
			Exchange: exchangeName,
			Currency: d.Currency,
			Amount:   shared.Decimal(d.Amount),
			Status:   transferStatus(d.CompletedAt),
			TxID:     d.Details.CryptoTransactionHash,
			Address:  d.Details.CryptoAddress,
			Timestamp: shared.Timestamp(a.log, "deposit",
				parseTime(d.CompletedAt), parseTime(d.CreatedAt)),
		})
	}
	return deposits, nil
}

// FetchWithdrawals returns withdrawal history.
func (a *Adapter) FetchWithdrawals(ctx context.Context, opts schema.FetchOptions) ([]schema.Withdrawal, error) {
	raw, err := a.fetchTransfers(ctx, "fetch_withdrawals", "withdraw")
	if err != nil {
		return nil, err
	}
	withdrawals := make([]schema.Withdrawal, 0, len(raw))
	for _, w := range raw {
		address := w.Details.SentToAddress
		if address == "" {
			address = w.Details.CryptoAddress
		}
		withdrawals = append(withdrawals, schema.Withdrawal{
			ID:       w.ID,
			Exchange: exchangeName,
			Currency: w.Currency,
			Amount:   shared.Decimal(w.Amount),
			Status:   transferStatus(w.CompletedAt),
			TxID:     w.Details.CryptoTransactionHash,
			Address:  address,
			Timestamp: shared.Timestamp(a.log, "withdrawal",
				parseTime(w.CompletedAt), parseTime(w.CreatedAt)),
		})
	}
	return withdrawals, nil
}
