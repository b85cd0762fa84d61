package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"sentinel-oracle/internal/detector"
)

// VerdictRecord is a persisted classifier outcome.
type VerdictRecord struct {
	ID          int64
	Asset       string
	ObservedAt  time.Time
	Price       decimal.Decimal
	ZScore      *decimal.Decimal
	Mean        *decimal.Decimal
	StdDev      *decimal.Decimal
	Samples     int
	IsAnomalous bool
	Severity    string
	Reason      string
	CreatedAt   time.Time
}

// ActionRecord captures one ledger dispatch attempt for auditing.
type ActionRecord struct {
	ID          int64
	ActionID    string
	Asset       string
	Kind        string
	Reason      string
	Status      string
	TxHash      *string
	Error       *string
	RequestedAt time.Time
	CreatedAt   time.Time
}

const (
	ActionStatusConfirmed = "confirmed"
	ActionStatusFailed    = "failed"
)

// VerdictFromDetector converts a live verdict into its persisted form.
func VerdictFromDetector(v detector.Verdict) VerdictRecord {
	return VerdictRecord{
		Asset:       v.Asset,
		ObservedAt:  v.Timestamp,
		Price:       decimal.NewFromFloat(v.Price),
		ZScore:      decimalPtr(v.ZScore),
		Mean:        decimalPtr(v.Mean),
		StdDev:      decimalPtr(v.StdDev),
		Samples:     v.Samples,
		IsAnomalous: v.IsAnomalous,
		Severity:    v.Severity.String(),
		Reason:      v.Reason,
	}
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
