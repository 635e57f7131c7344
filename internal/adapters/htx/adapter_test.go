package htx

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

func TestQuerySignatureCoversHost(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		got := query.Get("Signature")
		query.Del("Signature")
		canonical := strings.Join([]string{
			http.MethodGet, r.Host, r.URL.Path, query.Encode(),
		}, "\n")
		want := sign.HMACSHA256Base64("test-secret", canonical)
		if got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		w.Write([]byte(`{"status":"ok","data":[]}`))
	}))
	if _, err := a.FetchTrades(context.Background(), schema.FetchOptions{}); err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
}

func TestFetchTradesSplitsCombinedType(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","data":[
			{"id":99,"order-id":555,"symbol":"btcusdt","type":"buy-limit",
			 "price":"42000","filled-amount":"0.1","filled-fees":"0.001",
			 "fee-currency":"btc","created-at":1700000000000,"role":"maker"}
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
	if trade.Symbol != "BTC/USDT" || trade.Side != schema.SideBuy {
		t.Fatalf("trade = %+v", trade)
	}
	if trade.FeeCurrency != "BTC" {
		t.Fatalf("fee currency = %q", trade.FeeCurrency)
	}
}

func TestFetchBalancesTwoStepAggregation(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/account/accounts":
			w.Write([]byte(`{"status":"ok","data":[
				{"id":12345,"type":"spot","state":"working"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/12345/balance"):
			w.Write([]byte(`{"status":"ok","data":{"list":[
				{"currency":"btc","type":"trade","balance":"0.3"},
				{"currency":"btc","type":"frozen","balance":"0.2"},
				{"currency":"eth","type":"trade","balance":"0"}
			]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	balances, err := a.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("got %d balances", len(balances))
	}
	b := balances[0]
	if b.Currency != "BTC" || b.Total.String() != "0.5" || b.Locked.String() != "0.2" {
		t.Fatalf("balance = %+v", b)
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","err-code":"api-signature-not-valid","err-msg":"Signature not valid"}`))
	}))
	_, err := a.FetchTrades(context.Background(), schema.FetchOptions{})
	e, ok := errs.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.RawCode != "api-signature-not-valid" {
		t.Fatalf("raw code = %s", e.RawCode)
	}
}
