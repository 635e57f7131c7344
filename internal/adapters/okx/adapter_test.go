package okx

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
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		requestPath := r.URL.Path
		if r.URL.RawQuery != "" {
			requestPath += "?" + r.URL.RawQuery
		}
		want := sign.HMACSHA256Base64("test-secret", ts+http.MethodGet+requestPath)
		if got := r.Header.Get("OK-ACCESS-SIGN"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		if got := r.Header.Get("OK-ACCESS-PASSPHRASE"); got != "test-pass" {
			t.Errorf("passphrase = %q", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	}))
	if _, err := a.FetchTrades(context.Background(), schema.FetchOptions{}); err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
}

func TestFetchTradesNormalizesNegativeFee(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[
			{"tradeId":"t1","ordId":"o1","instId":"BTC-USDT","side":"buy",
			 "fillPx":"42000","fillSz":"0.1","fee":"-0.0042","feeCcy":"USDT",
			 "ts":"1700000000000","execType":"T"}
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
	if trade.Symbol != "BTC/USDT" {
		t.Fatalf("symbol = %q", trade.Symbol)
	}
	if trade.Fee.String() != "0.0042" {
		t.Fatalf("fee = %s, want 0.0042", trade.Fee)
	}
	if trade.Role != "taker" {
		t.Fatalf("role = %q", trade.Role)
	}
}

func TestFuturesCascadeSwapThenFutures(t *testing.T) {
	var instTypes []string
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instType := r.URL.Query().Get("instType")
		instTypes = append(instTypes, instType)
		if instType == "SWAP" {
			w.Write([]byte(`{"code":"0","data":[]}`))
			return
		}
		w.Write([]byte(`{"code":"0","data":[
			{"tradeId":"f1","ordId":"o2","instId":"BTC-USD-240329","side":"sell",
			 "fillPx":"50000","fillSz":"1","fee":"-0.01","feeCcy":"USD",
			 "ts":"1700000000000","execType":"M","posSide":"short"}
		]}`))
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if len(instTypes) != 2 || instTypes[0] != "SWAP" || instTypes[1] != "FUTURES" {
		t.Fatalf("probe order = %v", instTypes)
	}
	if len(trades) != 1 || trades[0].PositionSide != "short" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestErrorCodeSurfaces(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"50111","msg":"Invalid OK-ACCESS-KEY","data":[]}`))
	}))
	_, err := a.FetchBalances(context.Background())
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.RawCode != "50111" {
		t.Fatalf("raw code = %s", e.RawCode)
	}
}

func TestFetchBalancesFiltersZero(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[{"details":[
			{"ccy":"BTC","cashBal":"0.5","availBal":"0.3","frozenBal":"0.2"},
			{"ccy":"ETH","cashBal":"0","availBal":"0","frozenBal":"0"}
		]}]}`))
	}))
	balances, err := a.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 || balances[0].Currency != "BTC" {
		t.Fatalf("balances = %+v", balances)
	}
}
