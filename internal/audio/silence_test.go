package audio

import (
	"testing"
	"time"
)

func TestSilencePolicyGrowthBound(t *testing.T) {
	p := newSilencePolicy(48000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// The first call only records the start time; elapsed is measured from it.
	p.next(start)

	total := 0
	elapsed := 0 * time.Millisecond
	for i := 0; i < 40; i++ {
		elapsed += 10 * time.Millisecond
		n, ok := p.next(start.Add(elapsed))
		if ok {
			total += n
		}
	}

	expected := int(48000 * elapsed.Milliseconds() / 1000)
	if diff := total - expected; diff > 1 || diff < -1 {
		t.Fatalf("total generated samples %d not within 1 of expected %d", total, expected)
	}
}

func TestSilencePolicyNeverRunsAhead(t *testing.T) {
	p := newSilencePolicy(44100)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// First call at t=0: elapsed=0, expected=0, must report idle.
	if n, ok := p.next(start); ok || n != 0 {
		t.Fatalf("expected idle at t=0, got n=%d ok=%v", n, ok)
	}

	// Calling again at the same instant must stay idle — never emit more
	// than expected for elapsed wall time.
	if _, ok := p.next(start); ok {
		t.Fatal("expected idle when no time has elapsed")
	}
}

func TestSilencePolicyCapsPerCallAt50ms(t *testing.T) {
	p := newSilencePolicy(48000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// The first call only records the start time. Then jump forward 1 full
	// second in one call: must cap at 50ms worth of frames, not emit the
	// whole second at once.
	p.next(start)
	n, ok := p.next(start.Add(time.Second))
	if !ok {
		t.Fatal("expected a buffer")
	}
	if want := 48000 * 50 / 1000; n != want {
		t.Fatalf("expected capped frame count %d, got %d", want, n)
	}
}

func TestSilencePolicyBytesZeroFilled(t *testing.T) {
	p := newSilencePolicy(44100)
	b := p.bytes(100, 8)
	if len(b) != 800 {
		t.Fatalf("expected 800 bytes, got %d", len(b))
	}
	for _, v := range b {
		if v != 0 {
			t.Fatal("expected zero-filled buffer")
		}
	}
}

func TestSilencePolicyReset(t *testing.T) {
	p := newSilencePolicy(44100)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.next(start)
	p.next(start.Add(time.Second))
	if p.totalGeneratedSamples == 0 {
		t.Fatal("expected counter to have advanced")
	}
	p.reset()
	if p.started || p.totalGeneratedSamples != 0 {
		t.Fatal("expected reset to clear state")
	}
}
