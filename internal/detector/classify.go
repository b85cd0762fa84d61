package detector

import (
	"fmt"
	"math"
	"time"
)

const (
	criticalZ = 3.0
	highZ     = 2.5
)

// Classify scores price against the window statistics. It is pure: the same
// inputs always produce the same verdict.
//
// A zero standard deviation yields a z-score of exactly 0. Below minSamples the
// verdict carries a nil z-score and is never anomalous.
func Classify(asset string, price float64, st Stats, threshold float64, at time.Time) Verdict {
	v := Verdict{
		Asset:     asset,
		Price:     price,
		Samples:   st.Count,
		Threshold: threshold,
		Direction: DirectionFlat,
		Timestamp: at,
	}

	if !st.Ready {
		v.Reason = fmt.Sprintf("insufficient data: %d/%d samples", st.Count, st.MinSamples)
		return v
	}

	z := 0.0
	if st.StdDev != 0 {
		z = (price - st.Mean) / st.StdDev
	}
	v.ZScore = float64Ptr(z)
	v.Mean = float64Ptr(st.Mean)
	v.StdDev = float64Ptr(st.StdDev)

	switch {
	case z > 0:
		v.Direction = DirectionSpike
	case z < 0:
		v.Direction = DirectionDrop
	}

	abs := math.Abs(z)
	v.IsAnomalous = abs > threshold
	if !v.IsAnomalous {
		v.Reason = fmt.Sprintf("normal: z-score %.2f within threshold %.2f", z, threshold)
		return v
	}

	v.Severity = severityFor(abs)
	v.Reason = fmt.Sprintf("%s: z-score %.2f exceeds threshold %.2f", v.Direction, z, threshold)
	return v
}

// severityFor grades an anomalous |z|. Anything below the High band is Moderate,
// which only happens with a configured threshold under 2.5.
func severityFor(abs float64) Severity {
	switch {
	case abs > criticalZ:
		return SeverityCritical
	case abs > highZ:
		return SeverityHigh
	default:
		return SeverityModerate
	}
}
