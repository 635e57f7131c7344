package kraken

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
	"github.com/profitlens/exsync/internal/schema"
	"github.com/profitlens/exsync/internal/sign"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("raw-kraken-secret"))

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	settings := config.ExchangeSettings{
		REST:        map[string]string{config.SurfaceSpot: srv.URL},
		HTTPTimeout: 5 * time.Second,
		Pacing:      time.Millisecond,
	}
	return New(settings, schema.Credentials{Key: "test-key", Secret: testSecret}, zerolog.Nop())
}

func TestSignatureVerifiesServerSide(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("parse body: %v", err)
		}
		nonce := form.Get("nonce")
		if nonce == "" {
			t.Fatal("nonce missing")
		}
		digest := sha256.Sum256([]byte(nonce + string(body)))
		payload := append([]byte(r.URL.Path), digest[:]...)
		want := sign.HMACSHA512Base64Raw([]byte("raw-kraken-secret"), payload)
		if got := r.Header.Get("API-Sign"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		w.Write([]byte(`{"error":[],"result":{}}`))
	}))
	if _, err := a.FetchBalances(context.Background()); err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
}

func TestNormalizePair(t *testing.T) {
	cases := map[string]string{
		"XXBTZUSD": "BTC/USD",
		"XETHZEUR": "ETH/EUR",
		"XBTUSDT":  "BTC/USDT",
		"SOLUSD":   "SOL/USD",
	}
	for pair, want := range cases {
		if got := normalizePair(pair); got != want {
			t.Errorf("normalizePair(%q) = %q, want %q", pair, got, want)
		}
	}
}

func TestFetchTradesSortedAndNormalized(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"trades":{
			"T2": {"ordertxid":"O2","pair":"XXBTZUSD","time":1700000200.5,
			       "type":"sell","ordertype":"limit","price":"50200","fee":"0.2","vol":"0.5"},
			"T1": {"ordertxid":"O1","pair":"XXBTZUSD","time":1700000100.5,
			       "type":"buy","ordertype":"market","price":"50100","fee":"0.1","vol":"1.0"}
		}}}`))
	}))
	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades", len(trades))
	}
	if trades[0].ID != "T1" || trades[1].ID != "T2" {
		t.Fatalf("order = %s, %s", trades[0].ID, trades[1].ID)
	}
	if trades[0].Symbol != "BTC/USD" || trades[0].Side != schema.SideBuy {
		t.Fatalf("trade = %+v", trades[0])
	}
}

func TestFetchTradesAppliesRequestedLimit(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"trades":{
			"T3": {"ordertxid":"O3","pair":"XXBTZUSD","time":1700000300.5,
			       "type":"buy","ordertype":"limit","price":"50300","fee":"0.3","vol":"0.3"},
			"T2": {"ordertxid":"O2","pair":"XXBTZUSD","time":1700000200.5,
			       "type":"sell","ordertype":"limit","price":"50200","fee":"0.2","vol":"0.5"},
			"T1": {"ordertxid":"O1","pair":"XXBTZUSD","time":1700000100.5,
			       "type":"buy","ordertype":"market","price":"50100","fee":"0.1","vol":"1.0"}
		}}}`))
	}))
	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want limit applied", len(trades))
	}
	if trades[0].ID != "T1" || trades[1].ID != "T2" {
		t.Fatalf("order = %s, %s", trades[0].ID, trades[1].ID)
	}
}

func TestFetchBalancesNoFreeLockedSplit(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBT":"0.5","ZUSD":"1000.0","XETH":"0"}}`))
	}))
	balances, err := a.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances", len(balances))
	}
	if balances[0].Currency != "BTC" || balances[1].Currency != "USD" {
		t.Fatalf("currencies = %q, %q", balances[0].Currency, balances[1].Currency)
	}
	if !balances[0].Free.Equal(balances[0].Total) {
		t.Fatal("free should equal total")
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EAPI:Invalid key"],"result":null}`))
	}))
	_, err := a.FetchBalances(context.Background())
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.RawCode != "EAPI:Invalid key" {
		t.Fatalf("raw code = %s", e.RawCode)
	}
}

func TestFetchDepositsFromLedger(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"ledger":{
			"L1": {"refid":"R1","time":1700000000.1,"type":"deposit",
			       "asset":"XXBT","amount":"0.5","fee":"0"}
		}}}`))
	}))
	deposits, err := a.FetchDeposits(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchDeposits: %v", err)
	}
	if len(deposits) != 1 {
		t.Fatalf("got %d deposits", len(deposits))
	}
	if deposits[0].Currency != "BTC" || deposits[0].Amount.String() != "0.5" {
		t.Fatalf("deposit = %+v", deposits[0])
	}
}
