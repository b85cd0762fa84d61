package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const btcFeed = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func hermesPayload(id, price string, expo int32) map[string]any {
	return map[string]any{
		"parsed": []map[string]any{{
			"id": id,
			"price": map[string]any{
				"price":        price,
				"conf":         "1000",
				"expo":         expo,
				"publish_time": time.Now().Unix(),
			},
		}},
	}
}

func TestHermesFetchMissingFeed(t *testing.T) {
	h := NewHermes(HermesOptions{}, noopLogger())
	if _, err := h.Fetch(context.Background(), "BTC/USD"); err == nil {
		t.Fatal("缺少 feed 配置时应返回错误")
	}
}

func TestHermesFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != hermesLatestPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query()["ids[]"]; len(got) != 1 || got[0] != btcFeed {
			t.Errorf("ids[] 参数不正确: %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(hermesPayload(btcFeed[2:], "6512345678901", -8))
	}))
	defer srv.Close()

	h := NewHermes(HermesOptions{
		BaseURL: srv.URL,
		Feeds:   map[string]string{"BTC/USD": btcFeed},
		Timeout: time.Second,
	}, noopLogger())

	price, err := h.Fetch(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if price != 65123.45678901 {
		t.Fatalf("期望价格 65123.45678901, 实际 %v", price)
	}
}

func TestHermesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(hermesPayload(btcFeed, "250000", -2))
	}))
	defer srv.Close()

	h := NewHermes(HermesOptions{
		BaseURL:  srv.URL,
		Feeds:    map[string]string{"BTC/USD": btcFeed},
		MaxRetry: 2 * time.Second,
	}, noopLogger())

	price, err := h.Fetch(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if price != 2500 {
		t.Fatalf("期望价格 2500, 实际 %v", price)
	}
	if calls.Load() != 2 {
		t.Fatalf("期望请求 2 次, 实际 %d", calls.Load())
	}
}

func TestHermesDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"price ids not found"}`))
	}))
	defer srv.Close()

	h := NewHermes(HermesOptions{
		BaseURL: srv.URL,
		Feeds:   map[string]string{"MATIC/USD": "0xdead"},
	}, noopLogger())

	if _, err := h.Fetch(context.Background(), "MATIC/USD"); err == nil {
		t.Fatal("HTTP 404 应返回错误")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx 不应重试, 实际请求 %d 次", calls.Load())
	}
}

func TestStaticRepeatsLastPrice(t *testing.T) {
	s := NewStatic(map[string][]float64{"BTC/USD": {1, 2}})
	want := []float64{1, 2, 2}
	for i, w := range want {
		got, err := s.Fetch(context.Background(), "BTC/USD")
		if err != nil || got != w {
			t.Fatalf("第 %d 次期望 %v, 实际 %v (%v)", i, w, got, err)
		}
	}
	if _, err := s.Fetch(context.Background(), "ETH/USD"); err == nil {
		t.Fatal("未配置资产应报错")
	}
}
