package fetcher

import (
	"context"
	"fmt"
	"sync"
)

// Static replays scripted prices per asset. Once a script is exhausted the
// last price repeats. Used by the simulate and replay commands.
type Static struct {
	mu      sync.Mutex
	scripts map[string][]float64
	cursor  map[string]int
}

// NewStatic builds a source from per-asset price scripts.
func NewStatic(scripts map[string][]float64) *Static {
	copied := make(map[string][]float64, len(scripts))
	for asset, prices := range scripts {
		copied[asset] = append([]float64(nil), prices...)
	}
	return &Static{scripts: copied, cursor: make(map[string]int)}
}

// Fetch returns the next scripted price for asset.
func (s *Static) Fetch(ctx context.Context, asset string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := s.scripts[asset]
	if len(prices) == 0 {
		return 0, fmt.Errorf("no scripted prices for %s", asset)
	}
	idx := s.cursor[asset]
	if idx >= len(prices) {
		idx = len(prices) - 1
	} else {
		s.cursor[asset] = idx + 1
	}
	return prices[idx], nil
}

var _ PriceSource = (*Static)(nil)
