package delivery

import (
	"context"
	"errors"
	"time"
)

// Run invokes tick once per interval until ctx is done.
func Run(ctx context.Context, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return errors.New("delivery interval must be greater than zero")
	}
	if tick == nil {
		return errors.New("tick is required")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}
