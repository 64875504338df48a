package daemon

import (
	"errors"
	"sync"
	"time"
)

// ErrWatchdogExpired is passed to the expiry handler when a cycle overran
// its deadline.
var ErrWatchdogExpired = errors.New("daemon: watchdog expired")

// ExitWatchdog is the process exit code after a watchdog expiry.
const ExitWatchdog = 2

// Watchdog fires its handler once if it is not disarmed within the armed
// timeout. It guards against a cycle that hangs somewhere no timeout
// reaches.
type Watchdog struct {
	onExpire func(error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatchdog creates a disarmed watchdog.
func NewWatchdog(onExpire func(error)) *Watchdog {
	return &Watchdog{onExpire: onExpire}
}

// Arm (re)starts the countdown.
func (w *Watchdog) Arm(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(timeout, func() {
		w.onExpire(ErrWatchdogExpired)
	})
}

// Disarm stops the countdown. Safe to call when not armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
