package modem

import (
	"context"
	"time"
)

// Clock is the monotonic time source behind every poll interval, timeout
// and backoff of the modem.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// pause waits for d on the modem clock. Only ctx can cut it short.
func (m *Modem) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(d):
		return nil
	}
}
