// Package globaltime is the process-wide clock. Production code reads it
// through Now/UTC; tests pin it with Freeze to make time-derived values
// (slug fallbacks, tick timestamps) deterministic.
package globaltime

import (
	"sync/atomic"
	"time"
)

// frozen holds a *time.Time while the clock is pinned, nil otherwise.
var frozen atomic.Pointer[time.Time]

// Now returns the current time, or the pinned instant while frozen.
func Now() time.Time {
	if at := frozen.Load(); at != nil {
		return *at
	}
	return time.Now()
}

// UTC is shorthand for Now().UTC().
func UTC() time.Time {
	return Now().UTC()
}

// Freeze pins the clock to at until Unfreeze is called.
func Freeze(at time.Time) {
	frozen.Store(&at)
}

// Unfreeze restores the real clock.
func Unfreeze() {
	frozen.Store(nil)
}
