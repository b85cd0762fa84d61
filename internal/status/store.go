// Package status owns the queryable view of every monitored asset. The engine
// writes to it through Sink; the HTTP layer reads from it.
package status

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sentinel-oracle/internal/detector"
)

// ErrUnknownAsset is returned for assets the store was not created with.
var ErrUnknownAsset = errors.New("status: unknown asset")

// Sink receives every verdict the engine produces.
type Sink interface {
	Publish(ctx context.Context, v detector.Verdict) error
}

// FlagTracker is implemented by sinks that also track confirmed ledger flag state.
type FlagTracker interface {
	SetFlagged(asset string, flagged bool)
}

// PricePoint is one entry of an asset's price history.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// AssetStatus is a point-in-time copy of one asset's entry.
type AssetStatus struct {
	Asset        string            `json:"asset"`
	LastVerdict  *detector.Verdict `json:"last_verdict"`
	Flagged      bool              `json:"flagged"`
	AnomalyCount int               `json:"anomaly_count"`
	UpdatedAt    time.Time         `json:"updated_at"`
	History      []PricePoint      `json:"price_history"`
}

type entry struct {
	mu        sync.RWMutex
	last      *detector.Verdict
	flagged   bool
	anomalies int
	updated   time.Time
	history   []PricePoint
}

// Store is an in-memory status table with one lock per asset. The asset set
// is fixed at construction, so the map itself is never mutated.
type Store struct {
	entries      map[string]*entry
	assets       []string
	historyLimit int
	startedAt    time.Time
}

// NewStore creates entries for assets and bounds each history to historyLimit points.
func NewStore(assets []string, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	s := &Store{
		entries:      make(map[string]*entry, len(assets)),
		historyLimit: historyLimit,
		startedAt:    time.Now().UTC(),
	}
	for _, a := range assets {
		if _, dup := s.entries[a]; dup {
			continue
		}
		s.entries[a] = &entry{}
		s.assets = append(s.assets, a)
	}
	return s
}

// Publish records v as the asset's latest verdict and appends its price to the history.
func (s *Store) Publish(ctx context.Context, v detector.Verdict) error {
	e, ok := s.entries[v.Asset]
	if !ok {
		return ErrUnknownAsset
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	verdict := v
	e.last = &verdict
	e.updated = v.Timestamp
	if v.IsAnomalous {
		e.anomalies++
	}
	e.history = append(e.history, PricePoint{Price: v.Price, Timestamp: v.Timestamp})
	if over := len(e.history) - s.historyLimit; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	return nil
}

// SetFlagged records the confirmed ledger flag state for asset.
func (s *Store) SetFlagged(asset string, flagged bool) {
	e, ok := s.entries[asset]
	if !ok {
		return
	}
	e.mu.Lock()
	e.flagged = flagged
	e.mu.Unlock()
}

// Status returns the latest verdict, flag state and history of asset.
func (s *Store) Status(asset string) (AssetStatus, error) {
	e, ok := s.entries[asset]
	if !ok {
		return AssetStatus{}, ErrUnknownAsset
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	st := AssetStatus{
		Asset:        asset,
		Flagged:      e.flagged,
		AnomalyCount: e.anomalies,
		UpdatedAt:    e.updated,
		History:      append([]PricePoint(nil), e.history...),
	}
	if e.last != nil {
		v := *e.last
		st.LastVerdict = &v
	}
	return st, nil
}

// History returns the bounded price history of asset, oldest first.
func (s *Store) History(asset string) ([]PricePoint, error) {
	e, ok := s.entries[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]PricePoint(nil), e.history...), nil
}

// Snapshot returns the status of every asset sorted by identifier.
func (s *Store) Snapshot() []AssetStatus {
	out := make([]AssetStatus, 0, len(s.assets))
	for _, a := range s.Assets() {
		st, _ := s.Status(a)
		out = append(out, st)
	}
	return out
}

// Assets lists the monitored assets, sorted.
func (s *Store) Assets() []string {
	out := append([]string(nil), s.assets...)
	sort.Strings(out)
	return out
}

// StartedAt is the store creation time.
func (s *Store) StartedAt() time.Time { return s.startedAt }

var (
	_ Sink        = (*Store)(nil)
	_ FlagTracker = (*Store)(nil)
)
