package bingx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/internal/schema"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	settings := config.ExchangeSettings{
		REST: map[string]string{
			config.SurfaceSpot:     srv.URL,
			config.SurfaceLinear:   srv.URL,
			config.SurfaceInverse:  srv.URL,
			config.SurfaceStandard: srv.URL,
		},
		HTTPTimeout: 5 * time.Second,
		Pacing:      time.Millisecond,
	}
	return New(settings, schema.Credentials{Key: "test-key", Secret: "test-secret"}, zerolog.Nop())
}

func TestFetchTradesNormalization(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-BX-APIKEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTC-USDT" {
			t.Errorf("symbol param = %q", got)
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"fills":[
			{"id":1,"orderId":10,"symbol":"BTC-USDT","price":"42000","qty":"0.1",
			 "commission":"-0.42","commissionAsset":"USDT","time":1700000000000,
			 "isBuyer":true,"isMaker":false}
		]}}`))
	}))
	trades, err := a.FetchTrades(context.Background(), schema.FetchOptions{Symbol: "BTC/USDT"})
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
	if trade.Fee.String() != "0.42" {
		t.Fatalf("fee = %s", trade.Fee)
	}
}

func TestFuturesCascadeThreeStages(t *testing.T) {
	var paths []string
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/openApi/swap/v2/trade/allFillOrders":
			w.Write([]byte(`{"code":0,"data":{"fill_orders":[]}}`))
		case "/openApi/cswap/v1/trade/allFillOrders":
			w.Write([]byte(`{"code":0,"data":{"fill_orders":[]}}`))
		case "/openApi/contract/v1/allOrders":
			w.Write([]byte(`{"code":0,"data":{"orders":[
				{"orderId":"77","symbol":"BTC-USDT","side":"sell","avgPrice":"50000",
				 "filledQty":"2","fee":"-0.5","time":1700000000000,"positionSide":"Short"}
			]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("probe paths = %v", paths)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	trade := trades[0]
	if trade.Symbol != "BTC/USDT" || trade.Side != schema.SideSell {
		t.Fatalf("trade = %+v", trade)
	}
	if trade.Price.String() != "50000" || trade.Quantity.String() != "2" {
		t.Fatalf("price/qty = %s/%s", trade.Price, trade.Quantity)
	}
	if trade.Fee.String() != "0.5" {
		t.Fatalf("fee = %s", trade.Fee)
	}
}

func TestFuturesCascadeStopsEarly(t *testing.T) {
	var hits int
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"code":0,"data":{"fill_orders":[
			{"tradeId":"t1","orderId":"o1","symbol":"ETH-USDT","side":"buy",
			 "price":"3000","volume":"1","commission":"-0.1",
			 "commissionAsset":"USDT","filledTime":1700000000000}
		]}}`))
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
	if len(trades) != 1 || trades[0].Symbol != "ETH/USDT" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestCascadeToleratesFamilyErrors(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openApi/swap/v2/trade/allFillOrders":
			w.Write([]byte(`{"code":100400,"msg":"not authorized for swap"}`))
		case "/openApi/cswap/v1/trade/allFillOrders":
			w.Write([]byte(`{"code":0,"data":{"fill_orders":[
				{"tradeId":"c1","orderId":"o2","symbol":"BTC-USD","side":"buy",
				 "price":"50000","volume":"1","filledTime":1700000000000}
			]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	trades, err := a.FetchFuturesTrades(context.Background(), schema.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchFuturesTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Symbol != "BTC/USD" {
		t.Fatalf("trades = %+v", trades)
	}
}
