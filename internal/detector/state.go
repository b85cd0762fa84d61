package detector

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies a ledger action requested by the state machine.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionFlag
	ActionClear
)

func (k ActionKind) String() string {
	switch k {
	case ActionFlag:
		return "flag"
	case ActionClear:
		return "clear"
	default:
		return "none"
	}
}

// ActionRequest is produced once by Observe and consumed once by the dispatcher.
type ActionRequest struct {
	ID      string
	Asset   string
	Kind    ActionKind
	Reason  string
	Verdict Verdict
}

// Policy holds the per-deployment detection parameters shared by every asset.
type Policy struct {
	Threshold      float64
	ClearThreshold float64
	Capacity       int
	MinSamples     int
	Cooldown       time.Duration
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:      2.5,
		ClearThreshold: 1.5,
		Capacity:       30,
		MinSamples:     10,
		Cooldown:       30 * time.Second,
	}
}

// Outcome is the result of one Observe call.
type Outcome struct {
	Verdict Verdict
	// Action is nil when no ledger action is due.
	Action *ActionRequest
	// Suppressed is set when a flag was statistically warranted but the cooldown held it back.
	Suppressed bool
}

// AssetState is the per-asset Normal/Flagged machine. It is not safe for
// concurrent use; the owner serialises Observe and Commit for one asset.
type AssetState struct {
	asset        string
	policy       Policy
	window       *Window
	flagged      bool
	lastFlagTime time.Time
	lastVerdict  *Verdict
	anomalies    int
}

// NewAssetState creates the state for asset in the Normal phase with an empty window.
func NewAssetState(asset string, policy Policy) *AssetState {
	return &AssetState{
		asset:  asset,
		policy: policy,
		window: NewWindow(policy.Capacity, policy.MinSamples),
	}
}

// Observe pushes price into the window, classifies it, and decides whether a
// ledger action is due. It never transitions the phase; only Commit does.
func (s *AssetState) Observe(price float64, now time.Time) Outcome {
	s.window.Push(price)
	v := Classify(s.asset, price, s.window.Stats(), s.policy.Threshold, now)
	s.lastVerdict = &v
	if v.IsAnomalous {
		s.anomalies++
	}

	out := Outcome{Verdict: v}
	if !s.flagged {
		if !v.IsAnomalous {
			return out
		}
		if s.inCooldown(now) {
			out.Suppressed = true
			return out
		}
		out.Action = s.request(ActionFlag, v.Reason, v)
		return out
	}

	if v.ZScore != nil && math.Abs(*v.ZScore) < s.policy.ClearThreshold {
		out.Action = s.request(ActionClear, v.Reason, v)
	}
	return out
}

// Commit applies a ledger-confirmed action. Flag starts the cooldown at the
// confirmation time.
func (s *AssetState) Commit(kind ActionKind, confirmedAt time.Time) {
	switch kind {
	case ActionFlag:
		s.flagged = true
		s.lastFlagTime = confirmedAt
	case ActionClear:
		s.flagged = false
	}
}

// Restore seeds the flagged phase from an authoritative source, e.g. the
// ledger's current view at startup. It does not start a cooldown.
func (s *AssetState) Restore(flagged bool) {
	s.flagged = flagged
}

func (s *AssetState) inCooldown(now time.Time) bool {
	if s.lastFlagTime.IsZero() || s.policy.Cooldown <= 0 {
		return false
	}
	return now.Sub(s.lastFlagTime) < s.policy.Cooldown
}

func (s *AssetState) request(kind ActionKind, reason string, v Verdict) *ActionRequest {
	return &ActionRequest{
		ID:      uuid.NewString(),
		Asset:   s.asset,
		Kind:    kind,
		Reason:  reason,
		Verdict: v,
	}
}

// Asset returns the asset identifier.
func (s *AssetState) Asset() string { return s.asset }

// Flagged reports the last known ledger flag status.
func (s *AssetState) Flagged() bool { return s.flagged }

// LastFlagTime returns the confirmation time of the last flag, zero if none.
func (s *AssetState) LastFlagTime() time.Time { return s.lastFlagTime }

// LastVerdict returns the most recent verdict, nil before the first observation.
func (s *AssetState) LastVerdict() *Verdict { return s.lastVerdict }

// AnomalyCount returns the number of anomalous observations since startup.
func (s *AssetState) AnomalyCount() int { return s.anomalies }

// Window exposes the sample window for read-only inspection.
func (s *AssetState) Window() *Window { return s.window }
