// Package screen implements the desktop-duplication screen source
// described in the capture core's spec: non-blocking polling of the
// compositor's frame queue, a one-frame fallback cache to preserve the
// target frame rate, and row ordering that depends on whether the muxer
// is in single-track or dual-track mode.
package screen

import "errors"

// ErrUnsupportedPlatform is returned by Init on any OS without a concrete
// desktop-duplication backend.
var ErrUnsupportedPlatform = errors.New("screen: capture not implemented on this platform")

// maxCacheBytes is the ~32 MiB ceiling from spec §3: above this, caching
// the last frame is disabled for the remainder of the recording rather
// than risk unbounded memory growth on very large / multi-monitor
// surfaces.
const maxCacheBytes = 32 << 20

// Frame is a BGRA video frame buffer, width*height*4 bytes (spec §3
// "Video frame buffer"). Owned by the orchestrator for exactly one hop:
// the source allocates it, the orchestrator forwards it to the muxer and
// then releases it.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// Result is what GetFrame returns: either a fresh/cached Frame, or a
// signal that there is nothing new yet.
type Result int

const (
	// FrameReady means Frame holds a usable buffer (fresh or cached).
	FrameReady Result = iota
	// NoNewFrame means the compositor had nothing new and no cached
	// frame was available to fall back to.
	NoNewFrame
)

// Source is the desktop-duplication contract, backed by an OS-specific
// file under a build tag.
type Source interface {
	// Init enumerates the GPU adapter chain and opens a desktop
	// duplication stream on the chosen monitor/region, returning its
	// pixel dimensions.
	Init(monitor int, region *Region) (width, height int, err error)
	// Start marks the source capturing. Idempotent-on-failure: a no-op
	// if already capturing.
	Start() error
	// GetFrame is non-blocking. dualTrack selects the row order: in
	// single-track mode rows are flipped bottom-to-top to correct the
	// compositor's orientation for the encoder; in dual-track mode rows
	// are copied top-to-bottom, matching that encoder path's expected
	// input (spec §4.1 — a deliberate, preserved asymmetry).
	GetFrame(dualTrack bool) (Frame, Result, error)
	// Stop releases capturing state but not GPU handles. Idempotent.
	Stop() error
	// Cleanup releases all GPU handles and the cached frame. Idempotent.
	Cleanup() error
}

// Region is an optional capture rectangle within the chosen monitor.
type Region struct {
	X, Y, W, H int
}

// New constructs the concrete Source. The concrete type is
// platform-specific (see screen_windows.go / screen_other.go).
func New(cursorVisible bool) Source {
	return newPlatformSource(cursorVisible)
}

// frameCache holds the last emitted frame for FPS smoothing, honoring the
// maxCacheBytes ceiling. Shared by every platform backend so the caching
// policy (and its ~32MiB cutoff) lives in one tested place.
type frameCache struct {
	frame   Frame
	valid   bool
	refused bool // true once a too-large frame was seen; caching stays off for the rest of the recording
}

// get returns the cached frame, if any.
func (c *frameCache) get() (Frame, bool) {
	if !c.valid {
		return Frame{}, false
	}
	return c.frame, true
}

// put stores a copy of f as the new cached frame, unless its size exceeds
// maxCacheBytes or a previous frame already did (once refused, caching
// stays off for the remainder of the recording — spec §3).
func (c *frameCache) put(f Frame) {
	if c.refused {
		return
	}
	size := len(f.Data)
	if size > maxCacheBytes {
		c.refused = true
		c.valid = false
		c.frame = Frame{}
		return
	}
	buf := make([]byte, size)
	copy(buf, f.Data)
	c.frame = Frame{Width: f.Width, Height: f.Height, Data: buf}
	c.valid = true
}

// reset clears the cache, used by Cleanup so a subsequent recording in
// the same process starts clean.
func (c *frameCache) reset() {
	*c = frameCache{}
}

// copyRows copies an srcStride-by-height BGRA staging surface into a
// freshly sized width*height*4 destination buffer, honoring the
// dual-track row-order contract from spec §4.1: single-track mode writes
// rows bottom-to-top (vertical flip), dual-track mode writes rows
// top-to-bottom (unflipped). This is the one behavioral asymmetry the
// spec calls out explicitly as load-bearing, so it is isolated here and
// unit-tested directly rather than buried inside the Windows-only
// acquisition path.
func copyRows(dst []byte, src []byte, srcStride, width, height int, dualTrack bool) {
	rowBytes := width * 4
	for y := 0; y < height; y++ {
		srcOff := y * srcStride
		var dstOff int
		if dualTrack {
			dstOff = y * rowBytes
		} else {
			dstOff = (height - 1 - y) * rowBytes
		}
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
	}
}
