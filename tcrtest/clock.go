package tcrtest

import (
	"context"
	"sync"
	"time"

	"github.com/peterbourgon/tcr"
)

// Clock is a static tcr.RemoteClock. RemoteNow returns the local time
// shifted by Offset, after an optional artificial Delay, or Err when set.
// Now is the local time source and defaults to time.Now; fix it to drive
// skew arithmetic without sleeping.
type Clock struct {
	Offset time.Duration
	Delay  time.Duration
	Err    error
	Now    func() time.Time

	mtx   sync.Mutex
	calls int
}

var _ tcr.RemoteClock = (*Clock)(nil)

// RemoteNow implements tcr.RemoteClock.
func (c *Clock) RemoteNow(ctx context.Context, target tcr.Target) (time.Time, error) {
	c.mtx.Lock()
	c.calls++
	now := c.Now
	c.mtx.Unlock()

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}

	if c.Err != nil {
		return time.Time{}, c.Err
	}

	if now == nil {
		now = time.Now
	}

	return now().Add(c.Offset), nil
}

// Calls returns how many times RemoteNow was invoked.
func (c *Clock) Calls() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.calls
}
