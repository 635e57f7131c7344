package gateio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
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
	return New(settings, schema.Credentials{Key: "test-key", Secret: "test-secret"}, zerolog.Nop())
}

func TestSignatureCoversMethodPathQueryBodyHash(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("Timestamp")
		payload := strings.Join([]string{
			http.MethodGet, r.URL.Path, r.URL.RawQuery, sign.SHA512Hex(""), ts,
		}, "\n")
		want := sign.HMACSHA512Hex("test-secret", payload)
		if got := r.Header.Get("SIGN"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		w.Write([]byte(`[]`))
	}))
	if _, err := a.FetchTrades(context.Background(), schema.FetchOptions{}); err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
}

func TestFetchTradesUnderscorePairs(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("currency_pair"); got != "BTC_USDT" {
			t.Errorf("currency_pair = %q", got)
		}
		w.Write([]byte(`[
			{"id":"t1","order_id":"o1","currency_pair":"BTC_USDT","side":"buy",
			 "price":"42000","amount":"0.1","fee":"0.42","fee_currency":"USDT",
			 "create_time_ms":"1700000000123.456","role":"maker"}
		]`))
	}))
	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{Symbol: "BTC/USDT"})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Symbol != "BTC/USDT" || trades[0].Role != "maker" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestFuturesSignedSizeBecomesSide(t *testing.T) {
	var settles []string
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/futures/usdt/"):
			settles = append(settles, "usdt")
			w.Write([]byte(`[]`))
		case strings.Contains(r.URL.Path, "/futures/btc/"):
			settles = append(settles, "btc")
			w.Write([]byte(`[
				{"id":91,"order_id":"o7","contract":"BTC_USD","price":"50000",
				 "size":-3,"create_time":1700000000.5,"role":"taker","fee":"-0.0002"}
			]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if len(settles) != 2 || settles[0] != "usdt" || settles[1] != "btc" {
		t.Fatalf("probe order = %v", settles)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	trade := trades[0]
	if trade.Side != schema.SideSell || trade.Quantity.String() != "3" {
		t.Fatalf("side/qty = %q/%s", trade.Side, trade.Quantity)
	}
	if trade.Fee.String() != "0.0002" {
		t.Fatalf("fee = %s", trade.Fee)
	}
}

func TestLabelErrorSurfaces(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"label":"INVALID_KEY","message":"Invalid key provided"}`))
	}))
	_, err := a.FetchBalances(context.Background())
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.RawCode != "INVALID_KEY" {
		t.Fatalf("raw code = %s", e.RawCode)
	}
}

func TestFetchOrdersRequiresSymbol(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	_, err := a.FetchOrders(context.Background(), schema.FetchOptions{})
	e, ok := errs.As(err)
	if !ok || e.Canonical != errs.CanonicalInvalidSymbol {
		t.Fatalf("err = %v", err)
	}
}
