// Package watchdog implements the signal/cancellation bridge described in
// the capture core's spec: a single atomically-settable cancellation flag
// that the orchestrator polls, plus a pre-emptive emergency watchdog that
// fires if nobody ever flips the flag. It also owns OS suspend/resume
// awareness: a machine sleeping mid-recording must not cost the recording
// its emergency-timeout budget, so the bridge listens for power events
// itself and re-arms the timer across a resume.
package watchdog

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// powerEvent is a suspend/resume transition delivered by the platform's
// message loop (watchdog_power_windows.go / watchdog_power_other.go).
type powerEvent int

const (
	powerSuspend powerEvent = iota
	powerResume
)

// EmergencyTimeout is how long the watchdog waits after Start before it
// force-cancels an apparently-wedged recording.
const EmergencyTimeout = 5 * time.Minute

// EmergencyGrace is the extra time given to the orchestrator to react to
// the forced cancellation before the process is killed outright.
const EmergencyGrace = 2 * time.Second

// EmergencyExitCode is the distinct non-zero exit code used when the
// watchdog has to terminate the process itself.
const EmergencyExitCode = 2

// Bridge publishes a cancellation flag and runs the emergency watchdog
// concurrently. The zero value is not usable; construct with New.
type Bridge struct {
	cancel atomic.Bool

	mu        sync.Mutex
	timer     *time.Timer
	grace     *time.Timer
	started   bool
	stopped   bool
	suspended bool
	done      chan struct{}

	stopPower func()
}

// New creates a Bridge. The emergency watchdog does not start ticking
// until Start is called.
func New() *Bridge {
	return &Bridge{done: make(chan struct{})}
}

// Cancel requests cooperative cancellation. Safe to call from any
// goroutine, any number of times.
func (b *Bridge) Cancel() {
	b.cancel.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (b *Bridge) Cancelled() bool {
	return b.cancel.Load()
}

// Start arms the emergency watchdog and the power-event listener.
// Idempotent: calling it twice is a no-op the second time.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.timer = time.AfterFunc(EmergencyTimeout, b.fire)
	b.stopPower = watchPower(b.onPowerEvent)
}

// fire is invoked by the emergency timer. If the recording hasn't already
// been cancelled, it force-cancels it and arms a short grace timer that
// kills the process if the orchestrator still hasn't exited.
func (b *Bridge) fire() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if !b.cancel.CompareAndSwap(false, true) {
		return
	}
	log.Printf("watchdog: emergency timeout after %s, forcing cancellation", EmergencyTimeout)

	b.mu.Lock()
	if !b.stopped {
		b.grace = time.AfterFunc(EmergencyGrace, func() {
			log.Printf("watchdog: grace period expired, terminating process (exit %d)", EmergencyExitCode)
			os.Exit(EmergencyExitCode)
		})
	}
	b.mu.Unlock()
}

// Stop disarms the watchdog. Idempotent: calling it twice (or calling it
// before Start) is a no-op the second time.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	if b.grace != nil {
		b.grace.Stop()
	}
	if b.stopPower != nil {
		b.stopPower()
	}
}

// onPowerEvent reacts to a suspend/resume transition reported by the
// platform's message loop. A suspend freezes the whole process, including
// the emergency timer's goroutine; without intervention, a machine that
// sleeps for longer than EmergencyTimeout would come back to an emergency
// watchdog that fires (or has already fired) the instant it wakes, even
// though the orchestrator never actually wedged — it just didn't get to
// run. Re-arming a fresh EmergencyTimeout window on resume gives the
// recording the same wedge-detection budget it would have had if the
// machine had never slept.
func (b *Bridge) onPowerEvent(e powerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || !b.started {
		return
	}
	switch e {
	case powerSuspend:
		b.suspended = true
		log.Printf("watchdog: system suspending, emergency timer will re-arm on resume")
	case powerResume:
		if !b.suspended {
			return
		}
		b.suspended = false
		log.Printf("watchdog: system resumed, re-arming emergency timer")
		if b.timer != nil {
			b.timer.Stop()
		}
		if !b.cancel.Load() {
			b.timer = time.AfterFunc(EmergencyTimeout, b.fire)
		}
	}
}
