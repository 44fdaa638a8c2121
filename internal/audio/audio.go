// Package audio implements the two audio sources described in the capture
// core's spec: the loopback source (default render endpoint, WASAPI
// loopback flag) and the microphone source (default capture endpoint).
// They are structurally identical; only the endpoint selection and the
// stream-flag set passed to init differ, which is why both are backed by
// the same Source implementation parameterized by Kind.
package audio

import (
	"errors"
)

// Kind selects which endpoint a Source opens.
type Kind int

const (
	// Loopback records the default render endpoint with the WASAPI
	// loopback flag set — "what the OS is currently playing back".
	Loopback Kind = iota
	// Microphone records the default capture endpoint.
	Microphone
)

func (k Kind) String() string {
	if k == Loopback {
		return "system"
	}
	return "microphone"
}

// ErrUnsupportedPlatform is returned by Init on any OS without a concrete
// WASAPI backend.
var ErrUnsupportedPlatform = errors.New("audio: capture not implemented on this platform")

// ErrIdle is returned by GetBuffer when there is no real audio and the
// silence policy also declines to synthesize a buffer this call (the
// source is caught up with wall time).
var ErrIdle = errors.New("audio: idle")

// Format describes the PCM layout a Source was opened with. This is the
// capture-wide audio format adopted by the orchestrator (spec §4.4 step 2).
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	IsFloat       bool
}

// BlockAlign is channels * bits/8, the WAVEFORMATEX convention spec §4.3
// uses for the muxer's audio input type.
func (f Format) BlockAlign() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// ByteRate is BlockAlign * SampleRate.
func (f Format) ByteRate() int {
	return f.BlockAlign() * f.SampleRate
}

// Buffer is a frame of captured (or synthesized) audio. Frames is the
// sample-frame count (not byte count); Synthesized marks buffers produced
// by the silence policy rather than returned by the OS ring, so the
// source never tries to release process-static storage back to the audio
// client (spec §3 "Audio frame buffer").
type Buffer struct {
	Data        []byte
	Frames      int
	Synthesized bool
}

// Source is the contract both the loopback and microphone sources
// implement, backed by an OS-specific file under a build tag.
type Source interface {
	// Init opens the audio client on the chosen endpoint in shared mode
	// and queries the mix format. Fails with an error wrapping
	// ErrUnsupportedPlatform or an OS error.
	Init() (Format, error)
	// Start begins the underlying audio client.
	Start() error
	// Stop halts the underlying audio client. Idempotent.
	Stop() error
	// GetBuffer returns the next packet, synthesizing silence per the
	// policy in silence.go when the OS ring is empty. Returns ErrIdle when
	// there is nothing to emit (OS ring empty and the silence policy is
	// caught up with wall time).
	GetBuffer() (Buffer, error)
	// ReleaseBuffer returns an OS-owned buffer to the audio client. A
	// no-op for synthesized buffers — the caller must still call it (it
	// inspects Buffer.Synthesized itself) so cleanup bookkeeping stays in
	// one place.
	ReleaseBuffer(Buffer)
	// Cleanup releases all audio-client handles and mix-format storage.
	// Idempotent.
	Cleanup() error
}

// New constructs the concrete Source for kind. The concrete type is
// platform-specific (see audio_windows.go / audio_other.go).
func New(kind Kind) Source {
	return newPlatformSource(kind)
}
