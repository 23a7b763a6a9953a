package app

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// countdown ticks from seconds down to zero, calling onTick with the time
// left after every interval. onTick(0) is the last call. The callback must
// re-validate the countdown generation under the session lock: stop() only
// prevents future ticks, it cannot recall one already in flight.
type countdown struct {
	cancel context.CancelFunc
}

func startCountdown(clock clockwork.Clock, interval time.Duration, seconds int, onTick func(left int)) *countdown {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	ticker := clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		left := seconds
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if ctx.Err() != nil {
					return
				}
				left--
				if left < 0 {
					left = 0
				}
				onTick(left)
				if left == 0 {
					return
				}
			}
		}
	}()

	return &countdown{cancel: cancel}
}

func (c *countdown) stop() {
	if c != nil {
		c.cancel()
	}
}
