package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug", Format: "json"}, "sentinel", &buf)
	logger.Debug().Str("asset", "BTC/USD").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("日志应为 JSON: %v (%s)", err, buf.String())
	}
	if line["service"] != "sentinel" || line["asset"] != "BTC/USD" || line["message"] != "hello" {
		t.Fatalf("日志字段不正确: %#v", line)
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "nonsense"}, "", &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退到 info, 实际 %s", logger.GetLevel())
	}
	logger.Debug().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info 级别不应输出 debug 日志: %s", buf.String())
	}
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Format: "console"}, "sentinel", &buf)
	logger.Info().Msg("pretty")
	if !strings.Contains(buf.String(), "pretty") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console 格式输出不正确: %s", buf.String())
	}
}
