package detector

import (
	"fmt"
	"math"
	"strings"
)

// Explain renders a human-readable analysis of a verdict. It only formats the
// verdict's fields and has no effect on detection.
func Explain(v Verdict) string {
	if v.Insufficient() {
		return fmt.Sprintf("%s: %s", v.Asset, v.Reason)
	}

	z := v.Z()
	abs := math.Abs(z)
	mean := 0.0
	if v.Mean != nil {
		mean = *v.Mean
	}
	change := 0.0
	if mean != 0 {
		change = (v.Price - mean) / mean * 100
	}

	severity := strings.ToUpper(v.Severity.String())
	if !v.IsAnomalous {
		severity = "NONE"
	}

	risk, action := "MEDIUM", "MONITOR_CLOSELY"
	switch {
	case abs > criticalZ:
		risk, action = "EXTREME", "IMMEDIATE_STOP_LOSS"
	case abs > highZ:
		risk = "HIGH"
	case !v.IsAnomalous:
		risk, action = "LOW", "NONE"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis for %s:\n", v.Asset)
	fmt.Fprintf(&b, "- Severity: %s\n", severity)
	fmt.Fprintf(&b, "- Z-Score: %.3f\n", z)
	fmt.Fprintf(&b, "- Price Change: %+.2f%%\n", change)
	fmt.Fprintf(&b, "- Current Price: $%.2f\n", v.Price)
	fmt.Fprintf(&b, "- Historical Mean: $%.2f\n", mean)
	fmt.Fprintf(&b, "- Reasoning: price deviated %.2f standard deviations from mean\n", abs)
	fmt.Fprintf(&b, "- Risk Level: %s\n", risk)
	fmt.Fprintf(&b, "- Recommended Action: %s", action)
	return b.String()
}
