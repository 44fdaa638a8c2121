package watchdog

import "testing"

func TestCancelIdempotent(t *testing.T) {
	b := New()
	if b.Cancelled() {
		t.Fatal("new bridge should not be cancelled")
	}
	b.Cancel()
	b.Cancel()
	if !b.Cancelled() {
		t.Fatal("expected cancelled after Cancel()")
	}
}

func TestStopIdempotent(t *testing.T) {
	b := New()
	b.Start()
	b.Stop()
	b.Stop() // must be a no-op, not a panic or double-close
}

func TestStartIdempotent(t *testing.T) {
	b := New()
	b.Start()
	b.Start() // second Start must not re-arm a second timer
	b.Stop()
}

func TestPowerEventReArmsTimerAcrossSuspend(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	before := b.timer
	b.onPowerEvent(powerSuspend)
	if !b.suspended {
		t.Fatal("expected suspended=true after powerSuspend")
	}

	b.onPowerEvent(powerResume)
	if b.suspended {
		t.Fatal("expected suspended=false after powerResume")
	}
	if b.timer == before {
		t.Fatal("expected the emergency timer to be replaced on resume")
	}
	if b.Cancelled() {
		t.Fatal("a suspend/resume cycle must not itself cancel the recording")
	}
}

func TestPowerEventResumeWithoutPriorSuspendIsNoop(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()

	before := b.timer
	b.onPowerEvent(powerResume)
	if b.timer != before {
		t.Fatal("resume with no prior suspend must not touch the timer")
	}
}

func TestPowerEventIgnoredAfterStop(t *testing.T) {
	b := New()
	b.Start()
	b.Stop()

	b.onPowerEvent(powerSuspend)
	if b.suspended {
		t.Fatal("a stopped bridge must ignore power events")
	}
}
