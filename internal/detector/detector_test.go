package detector

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := NewWindow(3, 2)
	for _, p := range []float64{1, 2, 3, 4} {
		w.Push(p)
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{2, 3, 4}, w.Values())

	w.Push(5)
	assert.Equal(t, []float64{3, 4, 5}, w.Values())
}

func TestWindowStatsUndefinedBelowMinSamples(t *testing.T) {
	w := NewWindow(30, 10)
	for i := 0; i < 9; i++ {
		w.Push(100)
		_, ok := w.Mean()
		assert.False(t, ok)
		_, ok = w.StdDev()
		assert.False(t, ok)
	}
	w.Push(100)
	mean, ok := w.Mean()
	require.True(t, ok)
	assert.Equal(t, 100.0, mean)
}

func TestWindowSampleStdDev(t *testing.T) {
	w := NewWindow(10, 2)
	for _, p := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Push(p)
	}
	sd, ok := w.StdDev()
	require.True(t, ok)
	// population stddev of this series is 2; sample stddev divides by n-1.
	assert.InDelta(t, math.Sqrt(32.0/7.0), sd, 1e-12)
}

func TestWindowConstantPricesHaveZeroSpread(t *testing.T) {
	w := NewWindow(30, 10)
	for i := 0; i < 15; i++ {
		w.Push(42.5)
	}
	sd, ok := w.StdDev()
	require.True(t, ok)
	assert.Equal(t, 0.0, sd)

	for _, price := range []float64{0, 42.5, 1e9, -3} {
		v := Classify("BTC/USD", price, w.Stats(), 2.5, t0)
		require.NotNil(t, v.ZScore)
		assert.Equal(t, 0.0, *v.ZScore)
		assert.False(t, v.IsAnomalous)
		assert.Equal(t, SeverityNone, v.Severity)
	}
}

func TestClassifyInsufficientData(t *testing.T) {
	st := AssetStateForTest(t, 5, 10).Window().Stats()
	v := Classify("ETH/USD", 1e6, st, 2.5, t0)
	assert.Nil(t, v.ZScore)
	assert.False(t, v.IsAnomalous)
	assert.True(t, v.Insufficient())
	assert.Contains(t, v.Reason, "insufficient data")
}

func TestClassifySpikeScenario(t *testing.T) {
	w := NewWindow(30, 10)
	for i := 0; i < 10; i++ {
		w.Push(100)
	}
	w.Push(200)

	st := w.Stats()
	require.True(t, st.Ready)
	assert.Greater(t, st.Mean, 100.0)
	assert.Less(t, st.Mean, 110.0)
	assert.Greater(t, st.StdDev, 0.0)

	v := Classify("BTC/USD", 200, st, 2.5, t0)
	require.NotNil(t, v.ZScore)
	assert.Greater(t, *v.ZScore, 2.5)
	assert.True(t, v.IsAnomalous)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, DirectionSpike, v.Direction)
	assert.Contains(t, v.Reason, "spike")
	assert.Contains(t, v.Reason, "2.50")
}

func TestClassifySeverityBands(t *testing.T) {
	st := Stats{Mean: 100, StdDev: 10, Count: 20, MinSamples: 10, Ready: true}
	cases := []struct {
		price    float64
		severity Severity
		reason   string
	}{
		{price: 131, severity: SeverityCritical, reason: "spike"},
		{price: 72, severity: SeverityHigh, reason: "drop"},
		{price: 122, severity: SeverityModerate, reason: "spike"},
		{price: 110, severity: SeverityNone, reason: "normal"},
	}
	for _, tc := range cases {
		v := Classify("SOL/USD", tc.price, st, 2.0, t0)
		assert.Equal(t, tc.severity, v.Severity, "price %v", tc.price)
		assert.True(t, strings.HasPrefix(v.Reason, tc.reason), v.Reason)
	}
}

func TestObserveFlagsThenCommitCooldown(t *testing.T) {
	s := AssetStateForTest(t, 10, 10)

	out := s.Observe(200, t0)
	require.NotNil(t, out.Action)
	assert.Equal(t, ActionFlag, out.Action.Kind)
	assert.NotEmpty(t, out.Action.ID)
	assert.False(t, s.Flagged(), "phase only changes on commit")

	s.Commit(ActionFlag, t0)
	assert.True(t, s.Flagged())
	assert.Equal(t, t0, s.LastFlagTime())

	out = s.Observe(100, t0.Add(5*time.Second))
	require.NotNil(t, out.Action)
	assert.Equal(t, ActionClear, out.Action.Kind)
	s.Commit(ActionClear, t0.Add(5*time.Second))
	assert.False(t, s.Flagged())

	out = s.Observe(300, t0.Add(10*time.Second))
	require.True(t, out.Verdict.IsAnomalous)
	assert.Nil(t, out.Action)
	assert.True(t, out.Suppressed)

	out = s.Observe(400, t0.Add(31*time.Second))
	require.True(t, out.Verdict.IsAnomalous)
	require.NotNil(t, out.Action)
	assert.Equal(t, ActionFlag, out.Action.Kind)
}

func TestObserveUncommittedFlagIsRetried(t *testing.T) {
	s := AssetStateForTest(t, 10, 10)

	out := s.Observe(200, t0)
	require.NotNil(t, out.Action)

	out = s.Observe(300, t0.Add(time.Second))
	require.True(t, out.Verdict.IsAnomalous)
	require.NotNil(t, out.Action, "failed dispatch leaves no cooldown behind")
	assert.Equal(t, ActionFlag, out.Action.Kind)
}

func TestObserveFlaggedNeverRequestsSecondFlag(t *testing.T) {
	s := AssetStateForTest(t, 10, 10)
	s.Observe(200, t0)
	s.Commit(ActionFlag, t0)

	for i, p := range []float64{400, 800, 1600} {
		out := s.Observe(p, t0.Add(time.Duration(i+1)*time.Minute))
		if out.Action != nil {
			assert.NotEqual(t, ActionFlag, out.Action.Kind)
		}
	}
}

func TestObserveHysteresisGap(t *testing.T) {
	policy := DefaultPolicy()
	s := NewAssetState("AVAX/USD", policy)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			s.Observe(99, t0)
		} else {
			s.Observe(101, t0)
		}
	}
	s.Restore(true)

	out := s.Observe(102, t0.Add(time.Minute))
	require.NotNil(t, out.Verdict.ZScore)
	z := math.Abs(*out.Verdict.ZScore)
	require.Greater(t, z, policy.ClearThreshold)
	require.Less(t, z, policy.Threshold)
	assert.Nil(t, out.Action, "z between clear and flag thresholds keeps the flag")
	assert.True(t, s.Flagged())

	out = s.Observe(100, t0.Add(2*time.Minute))
	require.NotNil(t, out.Action)
	assert.Equal(t, ActionClear, out.Action.Kind)
}

func TestExplainIsPureFormatting(t *testing.T) {
	w := NewWindow(30, 10)
	for i := 0; i < 10; i++ {
		w.Push(100)
	}
	w.Push(200)
	v := Classify("BTC/USD", 200, w.Stats(), 2.5, t0)

	text := Explain(v)
	assert.Contains(t, text, "CRITICAL")
	assert.Contains(t, text, "IMMEDIATE_STOP_LOSS")
	assert.Contains(t, text, "$200.00")
	assert.Equal(t, text, Explain(v))

	insufficient := Classify("BTC/USD", 1, Stats{Count: 1, MinSamples: 10}, 2.5, t0)
	assert.Contains(t, Explain(insufficient), "insufficient data")
}

// AssetStateForTest returns a state whose window holds n prices of 100.
func AssetStateForTest(t *testing.T, n, minSamples int) *AssetState {
	t.Helper()
	policy := DefaultPolicy()
	policy.MinSamples = minSamples
	s := NewAssetState("BTC/USD", policy)
	for i := 0; i < n; i++ {
		s.Observe(100, t0.Add(-time.Hour))
	}
	return s
}
