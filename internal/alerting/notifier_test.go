package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sentinel-oracle/internal/detector"
)

func sampleEvent(kind detector.ActionKind) ActionEvent {
	z := 3.1
	return ActionEvent{
		ActionID:    "a-1",
		Asset:       "BTC/USD",
		Kind:        kind,
		Reason:      "spike: z-score 3.10 exceeds threshold 2.50",
		TxHash:      "0xabc",
		ConfirmedAt: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
		Verdict: detector.Verdict{
			Asset:       "BTC/USD",
			Price:       71000,
			ZScore:      &z,
			IsAnomalous: true,
			Severity:    detector.SeverityCritical,
			Threshold:   2.5,
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleEvent(detector.ActionFlag)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "ANOMALY FLAGGED") {
		t.Fatalf("text 应包含 flag 标题: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleEvent(detector.ActionFlag)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleEvent(detector.ActionClear)); err == nil {
		t.Fatal("502 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	flag := RenderMessage(sampleEvent(detector.ActionFlag))
	for _, want := range []string{"BTC/USD", "Z-score: 3.10", "Severity: critical", "Tx: 0xabc", "2025-10-01T12:00:00Z"} {
		if !strings.Contains(flag, want) {
			t.Fatalf("flag 消息缺少 %q:\n%s", want, flag)
		}
	}

	clear := RenderMessage(sampleEvent(detector.ActionClear))
	if !strings.Contains(clear, "anomaly cleared") {
		t.Fatalf("clear 消息标题不正确:\n%s", clear)
	}
	if strings.Contains(clear, "Severity") {
		t.Fatalf("clear 消息不应包含 severity:\n%s", clear)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
