package audio

import "time"

// silencePolicy implements the non-trivial part of spec §4.2: when the OS
// ring delivers nothing, synthesize exactly enough silence to keep the
// stream's wall-clock timeline continuous, without ever running ahead of
// real time. Deliberately pure and driven only by wall-clock reads handed
// in by the caller, so it is unit-testable without any OS audio client
// (spec §9 "Silence generation using wall time").
type silencePolicy struct {
	sampleRate int
	maxFrames  int // sampleRate * 50ms, the per-call cap

	started               bool
	startTime             time.Time
	totalGeneratedSamples int

	buf []byte // lazily grown, zero-filled, process-static from the source's point of view
}

func newSilencePolicy(sampleRate int) *silencePolicy {
	return &silencePolicy{
		sampleRate: sampleRate,
		maxFrames:  sampleRate * 50 / 1000,
	}
}

// next computes how many frames of silence to emit at wall-clock time now.
// Returns (0, false) when the caller should report Idle: no buffer, no
// advance. Returns (n, true) with n in (0, maxFrames] otherwise.
func (p *silencePolicy) next(now time.Time) (int, bool) {
	if !p.started {
		p.started = true
		p.startTime = now
		p.totalGeneratedSamples = 0
	}

	elapsedMS := now.Sub(p.startTime).Milliseconds()
	expected := int(int64(p.sampleRate) * elapsedMS / 1000)

	if p.totalGeneratedSamples >= expected {
		return 0, false
	}

	n := expected - p.totalGeneratedSamples
	if n > p.maxFrames {
		n = p.maxFrames
	}
	p.totalGeneratedSamples += n
	return n, true
}

// bytes returns a zero-filled slice of exactly frames*blockAlign bytes,
// growing the backing store on demand and never shrinking it (the source
// owns this storage for its whole lifetime; it is never released back to
// an audio client).
func (p *silencePolicy) bytes(frames, blockAlign int) []byte {
	n := frames * blockAlign
	if cap(p.buf) < n {
		p.buf = make([]byte, n)
	}
	b := p.buf[:n]
	for i := range b {
		b[i] = 0
	}
	return b
}

// reset returns the policy to its pre-first-call state, used by Cleanup
// so a subsequent recording in the same process starts clean.
func (p *silencePolicy) reset() {
	p.started = false
	p.totalGeneratedSamples = 0
}
