package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/schema"
)

func testAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	settings := config.ExchangeSettings{
		REST: map[string]string{
			config.SurfaceSpot:    srv.URL,
			config.SurfaceLinear:  srv.URL + "/linear",
			config.SurfaceInverse: srv.URL + "/inverse",
		},
		HTTPTimeout: 5 * time.Second,
		Pacing:      time.Millisecond,
		RecvWindow:  5 * time.Second,
	}
	creds := schema.Credentials{Key: "test-key", Secret: "test-secret"}
	return New(settings, creds, zerolog.Nop()), srv
}

func TestFetchTradesNormalization(t *testing.T) {
	var gotPath, gotKey string
	var gotQuery map[string][]string
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.Query()
		w.Write([]byte(`[
			{"id":28457,"orderId":100234,"symbol":"BTCUSDT","price":"4000.00000000",
			 "qty":"12.00000000","commission":"10.10000000","commissionAsset":"BNB",
			 "time":1499865549590,"isBuyer":true,"isMaker":false}
		]`))
	}))

	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{Symbol: "BTC/USDT"})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if gotPath != "/api/v3/myTrades" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotQuery["symbol"][0] != "BTCUSDT" {
		t.Fatalf("symbol param = %q", gotQuery["symbol"][0])
	}
	if len(gotQuery["signature"]) != 1 || gotQuery["signature"][0] == "" {
		t.Fatal("signature missing from query")
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	trade := trades[0]
	if trade.ID != "28457" || trade.OrderID != "100234" {
		t.Fatalf("ids = %q/%q", trade.ID, trade.OrderID)
	}
	if trade.Symbol != "BTC/USDT" {
		t.Fatalf("symbol = %q", trade.Symbol)
	}
	if trade.Side != schema.SideBuy {
		t.Fatalf("side = %q", trade.Side)
	}
	if trade.Price.String() != "4000" || trade.Quantity.String() != "12" {
		t.Fatalf("price/qty = %s/%s", trade.Price, trade.Quantity)
	}
	if trade.FeeCurrency != "BNB" {
		t.Fatalf("fee currency = %q", trade.FeeCurrency)
	}
	if trade.Role != "taker" {
		t.Fatalf("role = %q", trade.Role)
	}
	if want := time.UnixMilli(1499865549590).UTC(); !trade.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestFetchTradesRequiresSymbol(t *testing.T) {
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	_, err := a.FetchTrades(context.Background(), schema.FetchOptions{})
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.Code != errs.CodeInvalid || e.Canonical != errs.CanonicalInvalidSymbol {
		t.Fatalf("code = %s canonical = %s", e.Code, e.Canonical)
	}
}

func TestFetchBalancesFiltersZeroHoldings(t *testing.T) {
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.30000000","locked":"0.20000000"},
			{"asset":"ETH","free":"0.00000000","locked":"0.00000000"},
			{"asset":"DUST","free":"0","locked":"0"}
		]}`))
	}))

	balances, err := a.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("got %d balances, want 1", len(balances))
	}
	b := balances[0]
	if b.Currency != "BTC" {
		t.Fatalf("currency = %q", b.Currency)
	}
	if b.Total.String() != "0.5" {
		t.Fatalf("total = %s, want 0.5", b.Total)
	}
}

func TestFuturesCascadeFallsBackToInverse(t *testing.T) {
	var linearHits, inverseHits int
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/linear/fapi/v1/userTrades":
			linearHits++
			w.Write([]byte(`[]`))
		case "/inverse/dapi/v1/userTrades":
			inverseHits++
			w.Write([]byte(`[
				{"id":1,"orderId":11,"symbol":"BTCUSD_PERP","price":"50000","qty":"1",
				 "commission":"0.1","commissionAsset":"BTC","time":1700000000000,
				 "buyer":true,"maker":false,"positionSide":"LONG"},
				{"id":2,"orderId":12,"symbol":"BTCUSD_PERP","price":"50100","qty":"2",
				 "commission":"0.2","commissionAsset":"BTC","time":1700000001000,
				 "buyer":false,"maker":true,"positionSide":"SHORT"}
			]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if linearHits != 1 || inverseHits != 1 {
		t.Fatalf("hits linear=%d inverse=%d", linearHits, inverseHits)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Side != schema.SideBuy || trades[1].Side != schema.SideSell {
		t.Fatalf("sides = %q/%q", trades[0].Side, trades[1].Side)
	}
	if trades[0].PositionSide != "LONG" {
		t.Fatalf("position side = %q", trades[0].PositionSide)
	}
}

func TestFuturesCascadeStopsOnLinearFills(t *testing.T) {
	var inverseHits int
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/linear/fapi/v1/userTrades":
			w.Write([]byte(`[{"id":7,"orderId":70,"symbol":"ETHUSDT","price":"3000",
				"qty":"5","commission":"0.01","commissionAsset":"USDT",
				"time":1700000000000,"buyer":true,"maker":true}]`))
		case "/inverse/dapi/v1/userTrades":
			inverseHits++
			w.Write([]byte(`[]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if inverseHits != 0 {
		t.Fatal("inverse surface should not be probed after linear fills")
	}
	if len(trades) != 1 || trades[0].Symbol != "ETH/USDT" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestBodyErrorSurfacesRawCode(t *testing.T) {
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	_, err := a.FetchTrades(context.Background(), schema.FetchOptions{Symbol: "BTC/USDT"})
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.Code != errs.CodeExchange || e.RawCode != "-1121" {
		t.Fatalf("code = %s raw = %s", e.Code, e.RawCode)
	}
}

func TestTestConnection(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":[]}`))
	})
	a, _ := testAdapter(t, ok)
	if !a.TestConnection(context.Background()) {
		t.Fatal("expected connection test to pass")
	}

	bad := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key."}`))
	})
	b, _ := testAdapter(t, bad)
	if b.TestConnection(context.Background()) {
		t.Fatal("expected connection test to fail")
	}
}

func TestHealthCheck(t *testing.T) {
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	health := a.HealthCheck(context.Background())
	if health.Status != schema.HealthHealthy {
		t.Fatalf("status = %q", health.Status)
	}
	if health.Latency <= 0 {
		t.Fatal("latency not measured")
	}
}

func TestFetchWithdrawalsParsesApplyTime(t *testing.T) {
	a, _ := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"w1","amount":"1.5","transactionFee":"0.0005",
			"coin":"ETH","status":6,"address":"0xabc","txId":"0xdef",
			"applyTime":"2023-10-12 11:12:02"}]`))
	}))
	withdrawals, err := a.FetchWithdrawals(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchWithdrawals: %v", err)
	}
	if len(withdrawals) != 1 {
		t.Fatalf("got %d withdrawals", len(withdrawals))
	}
	w := withdrawals[0]
	if w.Status != "completed" {
		t.Fatalf("status = %q", w.Status)
	}
	want := time.Date(2023, 10, 12, 11, 12, 2, 0, time.UTC)
	if !w.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", w.Timestamp, want)
	}
}
