package clock

import (
	"context"
	"sync"
	"time"
)

// The process-wide active provider is the one piece of cross-cutting state in
// the engine: code outside the core reads "now" through it, so swapping a
// simulation in and out requires no changes at those call sites. It is set at
// run setup and reset at cleanup.
var (
	activeMu sync.RWMutex
	active   Provider = RealClock{}
)

// Active returns the currently registered provider.
func Active() Provider {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// SetActive installs p as the process-wide provider.
func SetActive(p Provider) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = p
}

// ResetActive restores the real-time provider.
func ResetActive() {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = RealClock{}
}

// Now reads current time through the active provider.
func Now() time.Time {
	return Active().Now()
}

// SleepCtx sleeps through the active provider.
func SleepCtx(ctx context.Context, d time.Duration) error {
	return Active().Sleep(ctx, d)
}
