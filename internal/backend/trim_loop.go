package backend

import (
	"context"
	"time"
)

// TrimLoop runs trim_all once straight away and then again interval after
// each pass ends, until ctx is cancelled, matching the timer/ctx.Done() shape
// the teacher's background collectors use. The in-flight TrimAll is handed
// ctx.Done(), so a cancellation can make its pending connection checkouts
// fail and end that pass early with an error; the loop then returns.
// onTrim, if non-nil, is called after every pass with its error (nil on
// success) and wall time, letting callers without a dependency on this
// package's internals (e.g. internal/obsmetrics) observe trim activity.
func (b *Backend) TrimLoop(ctx context.Context, interval time.Duration, onTrim func(error, time.Duration)) {
	for {
		start := time.Now()
		err := b.TrimAll(ctx.Done())
		if err != nil {
			b.logger.Error().Err(err).Msg("trim_all failed")
		}
		if onTrim != nil {
			onTrim(err, time.Since(start))
		}

		ticker := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			ticker.Stop()
			b.logger.Info().Msg("trim loop stopping")
			return
		case <-ticker.C:
		}
	}
}
