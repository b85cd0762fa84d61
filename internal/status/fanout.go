package status

import (
	"context"
	"errors"

	"sentinel-oracle/internal/detector"
)

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

// Publish forwards v to each sink; one failing sink does not stop the rest.
func (f Fanout) Publish(ctx context.Context, v detector.Verdict) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetFlagged forwards to every sink that tracks flags.
func (f Fanout) SetFlagged(asset string, flagged bool) {
	for _, s := range f {
		if t, ok := s.(FlagTracker); ok {
			t.SetFlagged(asset, flagged)
		}
	}
}

var (
	_ Sink        = Fanout(nil)
	_ FlagTracker = Fanout(nil)
)
