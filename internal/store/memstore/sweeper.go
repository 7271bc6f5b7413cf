package memstore

import (
	"context"
	"time"
)

// RunSweeper starts a background goroutine that calls Sweep on interval
// until ctx is canceled, the same cleanup-ticker shape used elsewhere
// for expiring rate-limit state.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Debug("memstore sweep removed expired items", "count", n)
				}
			}
		}
	}()
}
