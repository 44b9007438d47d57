// Package poll implements the fixed-interval request/poll loop used for
// workflow runs and CSV ingestion jobs.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidInterval is returned when the interval is not positive.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// Until calls fetch immediately and then once per interval until done reports
// a terminal value, fetch fails, or ctx is cancelled. onUpdate, if non-nil,
// sees every fetched value. The ticker is stopped on every exit path.
//
// The last successfully fetched value is returned alongside any error.
func Until[T any](
	ctx context.Context,
	interval time.Duration,
	fetch func(context.Context) (T, error),
	done func(T) bool,
	onUpdate func(T),
) (T, error) {
	var last T
	if interval <= 0 {
		return last, ErrInvalidInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := fetch(ctx)
		if err != nil {
			return last, err
		}
		last = v
		if onUpdate != nil {
			onUpdate(v)
		}
		if done(v) {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
