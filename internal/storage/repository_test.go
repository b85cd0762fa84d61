package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel-oracle/internal/detector"
)

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if err := s.Publish(ctx, detector.Verdict{Asset: "BTC/USD"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置时 Publish 应返回 ErrNotConfigured, 实际 %v", err)
	}
	if _, err := s.RecordAction(ctx, ActionRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置时 RecordAction 应返回 ErrNotConfigured, 实际 %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("未配置时 TryAdvisoryLock 应返回 ErrNotConfigured, 实际 %v", err)
	}
	s.Close()
}

func TestVerdictFromDetector(t *testing.T) {
	z, mean, sd := 3.25, 100.5, 12.0
	at := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	rec := VerdictFromDetector(detector.Verdict{
		Asset:       "ETH/USD",
		Price:       139.5,
		ZScore:      &z,
		Mean:        &mean,
		StdDev:      &sd,
		Samples:     11,
		IsAnomalous: true,
		Severity:    detector.SeverityCritical,
		Reason:      "spike",
		Timestamp:   at,
	})

	if rec.Price.String() != "139.5" {
		t.Fatalf("价格转换错误: %s", rec.Price)
	}
	if rec.ZScore == nil || rec.ZScore.String() != "3.25" {
		t.Fatalf("z_score 转换错误: %v", rec.ZScore)
	}
	if rec.Severity != "critical" || !rec.ObservedAt.Equal(at) {
		t.Fatalf("字段映射错误: %+v", rec)
	}

	insufficient := VerdictFromDetector(detector.Verdict{Asset: "ETH/USD", Price: 1})
	if insufficient.ZScore != nil || insufficient.Mean != nil {
		t.Fatalf("数据不足时 z_score/mean 应为空")
	}
	if decimalArg(insufficient.ZScore) != nil {
		t.Fatalf("空 decimal 应写入 NULL")
	}
}
