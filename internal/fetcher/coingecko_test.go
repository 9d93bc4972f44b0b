package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchDominanceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/global" {
			t.Fatalf("路径应为 /global, 实际 %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"market_cap_percentage": map[string]float64{"btc": 54.32, "eth": 17.1},
			},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	dominance, err := c.FetchDominance(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if dominance.Cmp(decimal.NewFromFloat(54.32)) != 0 {
		t.Fatalf("期望 54.32, 实际 %s", dominance.String())
	}
}

func TestFetchDominanceMissingBTC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"market_cap_percentage": map[string]float64{"eth": 17.1}},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchDominance(context.Background()); err == nil {
		t.Fatal("缺少 btc 占比时应报错")
	}
}

func TestFetchMarketsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "bitcoin,ethereum" {
			t.Fatalf("ids 参数不正确: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "bitcoin", "symbol": "btc", "current_price": 64000.5, "total_volume": 30000000000.0, "last_updated": "2026-08-25T10:00:00Z"},
			{"id": "ethereum", "symbol": "eth", "current_price": 3200.25, "total_volume": 15000000000.0, "last_updated": "2026-08-25T10:00:00Z"},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quotes, err := c.FetchMarkets(context.Background(), []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("期望 2 条行情, 实际 %d", len(quotes))
	}
	if quotes[0].Symbol != "BTC" {
		t.Fatalf("symbol 应大写, 实际 %s", quotes[0].Symbol)
	}
	if quotes[0].Price.Cmp(decimal.NewFromFloat(64000.5)) != 0 {
		t.Fatalf("价格解析错误: %s", quotes[0].Price.String())
	}
}

func TestFetchMarketsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 429, "error_message": "rate limited"},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchMarkets(context.Background(), []string{"bitcoin"}); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestFetchMarketsEmptyIDs(t *testing.T) {
	c := NewCoinGecko(CoinGeckoOptions{}, noopLogger())
	if _, err := c.FetchMarkets(context.Background(), nil); err == nil {
		t.Fatal("空 ids 应返回错误")
	}
}

func TestFetchRangeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart/range" {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prices":        [][]float64{{1700000000000, 64000}, {1700000300000, 64100}},
			"total_volumes": [][]float64{{1700000000000, 1000}, {1700000300000, 2000}},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	from := time.UnixMilli(1700000000000)
	points, err := c.FetchRange(context.Background(), "bitcoin", from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个点, 实际 %d", len(points))
	}
	if points[1].Volume.Cmp(decimal.NewFromInt(2000)) != 0 {
		t.Fatalf("成交量应按时间戳对齐: %s", points[1].Volume.String())
	}
}

func TestFetchRangeInvalidWindow(t *testing.T) {
	c := NewCoinGecko(CoinGeckoOptions{}, noopLogger())
	now := time.Now()
	if _, err := c.FetchRange(context.Background(), "bitcoin", now, now); err == nil {
		t.Fatal("from >= to 应返回错误")
	}
}
