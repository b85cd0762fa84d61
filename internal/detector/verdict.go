package detector

import (
	"encoding/json"
	"time"
)

// Severity grades an anomalous observation by |z|.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityModerate
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityModerate:
		return "moderate"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// MarshalText renders the severity as its lowercase name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity is the inverse of Severity.String; unknown names map to SeverityNone.
func ParseSeverity(v string) Severity {
	switch v {
	case "moderate":
		return SeverityModerate
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// Direction of a deviation from the rolling mean.
type Direction string

const (
	DirectionSpike Direction = "spike"
	DirectionDrop  Direction = "drop"
	DirectionFlat  Direction = "flat"
)

// Verdict is the immutable classification of one observation.
type Verdict struct {
	Asset       string    `json:"asset"`
	Price       float64   `json:"price"`
	ZScore      *float64  `json:"z_score"`
	Mean        *float64  `json:"mean,omitempty"`
	StdDev      *float64  `json:"std_dev,omitempty"`
	Samples     int       `json:"samples"`
	IsAnomalous bool      `json:"is_anomalous"`
	Severity    Severity  `json:"severity"`
	Direction   Direction `json:"direction"`
	Threshold   float64   `json:"threshold"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// Insufficient reports whether the window had too few samples to score the price.
func (v Verdict) Insufficient() bool { return v.ZScore == nil }

// Z returns the z-score, or 0 for an insufficient-data verdict.
func (v Verdict) Z() float64 {
	if v.ZScore == nil {
		return 0
	}
	return *v.ZScore
}

// String implements fmt.Stringer for log lines.
func (v Verdict) String() string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func float64Ptr(v float64) *float64 { return &v }
