package caer

import (
	"context"
	"time"
)

// pollInterval bounds how long a blocked read waits between checks when a
// data notification is missed. Containers normally wake it through notify.
const pollInterval = 250 * time.Millisecond

// dataWaiter parks a blocking read until the driver signals new data, the
// fallback interval passes or the context ends. The timer is reused across
// waits.
type dataWaiter struct {
	notify   chan struct{}
	interval time.Duration
	timer    *time.Timer
}

func newDataWaiter(interval time.Duration) *dataWaiter {
	return &dataWaiter{notify: make(chan struct{}, 1), interval: interval}
}

// signal wakes one pending or future wait. It never blocks, so it is safe
// to call from the driver's delivery thread.
func (w *dataWaiter) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// wait returns nil when it is time to poll the driver again.
func (w *dataWaiter) wait(ctx context.Context) error {
	if w.timer == nil {
		w.timer = time.NewTimer(w.interval)
	} else {
		w.timer.Reset(w.interval)
	}
	defer w.timer.Stop()

	select {
	case <-w.notify:
		return nil
	case <-w.timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
