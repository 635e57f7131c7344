package bitget

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
	"github.com/profitlens/exsync/internal/sign"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	settings := config.ExchangeSettings{
		REST:        map[string]string{config.SurfaceSpot: srv.URL},
		HTTPTimeout: 5 * time.Second,
		Pacing:      time.Millisecond,
	}
	creds := schema.Credentials{Key: "test-key", Secret: "test-secret", Passphrase: "test-pass"}
	return New(settings, creds, zerolog.Nop())
}

func TestSignedHeadersVerify(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("ACCESS-TIMESTAMP")
		requestPath := r.URL.Path
		if r.URL.RawQuery != "" {
			requestPath += "?" + r.URL.RawQuery
		}
		want := sign.HMACSHA256Base64("test-secret", ts+http.MethodGet+requestPath)
		if got := r.Header.Get("ACCESS-SIGN"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		w.Write([]byte(`{"code":"00000","msg":"success","data":[]}`))
	}))
	if _, err := a.FetchTrades(context.Background(), schema.FetchOptions{}); err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
}

func TestFetchTradesNormalization(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"00000","data":[
			{"tradeId":"t1","orderId":"o1","symbol":"SOLUSDT","side":"buy",
			 "priceAvg":"150.25","size":"10","feeDetail":{"totalFee":"-0.15","feeCoin":"USDT"},
			 "cTime":"1700000000000"}
		]}`))
	}))
	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	trade := trades[0]
	if trade.Symbol != "SOL/USDT" || trade.Fee.String() != "0.15" {
		t.Fatalf("symbol/fee = %q/%s", trade.Symbol, trade.Fee)
	}
}

func TestFuturesCascadeProductTypes(t *testing.T) {
	var productTypes []string
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pt := r.URL.Query().Get("productType")
		productTypes = append(productTypes, pt)
		if pt == "USDT-FUTURES" {
			w.Write([]byte(`{"code":"00000","data":{"fillList":[]}}`))
			return
		}
		w.Write([]byte(`{"code":"00000","data":{"fillList":[
			{"tradeId":"f1","orderId":"o2","symbol":"BTCUSD","side":"sell",
			 "price":"50000","baseVolume":"1","cTime":"1700000000000",
			 "feeDetail":[{"feeCoin":"BTC","totalFee":"-0.0001"}]}
		]}}`))
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if len(productTypes) != 2 || productTypes[0] != "USDT-FUTURES" || productTypes[1] != "COIN-FUTURES" {
		t.Fatalf("probe order = %v", productTypes)
	}
	if len(trades) != 1 || trades[0].FeeCurrency != "BTC" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestErrorCodeSurfaces(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"40037","msg":"Apikey does not exist","data":null}`))
	}))
	_, err := a.FetchBalances(context.Background())
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.RawCode != "40037" {
		t.Fatalf("raw code = %s", e.RawCode)
	}
}

func TestFetchBalancesSumsFrozenAndLocked(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"00000","data":[
			{"coin":"BTC","available":"0.3","frozen":"0.1","locked":"0.1"},
			{"coin":"ETH","available":"0","frozen":"0","locked":"0"}
		]}`))
	}))
	balances, err := a.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("got %d balances", len(balances))
	}
	if balances[0].Locked.String() != "0.2" || balances[0].Total.String() != "0.5" {
		t.Fatalf("balance = %+v", balances[0])
	}
}
