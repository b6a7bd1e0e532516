package scheduler

import (
	"errors"
	"time"
)

// ErrBusy means the draw gate is already held. It is not a job
// failure: on-demand callers surface it as a transient condition,
// scheduler ticks skip silently.
var ErrBusy = errors.New("a draw is already in progress")

// Gate is the single-permit mutual exclusion around the robot. At most
// one draw is active system-wide; everything that wants the serial
// link goes through here first.
type Gate struct {
	permit chan struct{}
}

func NewGate() *Gate {
	g := &Gate{permit: make(chan struct{}, 1)}
	g.permit <- struct{}{}
	return g
}

// TryAcquire takes the permit without blocking. Returns false while
// another holder is active.
func (g *Gate) TryAcquire() bool {
	select {
	case <-g.permit:
		return true
	default:
		return false
	}
}

// AcquireWithin waits up to the grace period for the permit. Used by
// once-mode prints, which would rather wait a moment than bounce off a
// draw that is just finishing.
func (g *Gate) AcquireWithin(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-g.permit:
		return true
	case <-timer.C:
		return false
	}
}

// Release returns the permit. Must be called exactly once per
// successful acquire, on every exit path. Releasing an unheld gate
// panics, mirroring sync.Mutex.
func (g *Gate) Release() {
	select {
	case g.permit <- struct{}{}:
	default:
		panic("scheduler: gate released without being held")
	}
}
