//go:build windows

package screen

import (
	"fmt"
	"runtime"

	"github.com/rmguney/muxsweeper/internal/winapi"
)

// windowsSource implements Source over DXGI desktop duplication, following
// the init → start → get_frame* → stop → cleanup lifecycle from spec
// §4.1. Grounded on the pack's LanternOps-breeze session_capture.go DXGI
// tight-loop pattern (non-blocking AcquireNextFrame, cached-frame
// fallback) and the teacher's windows.go syscall-DLL idiom.
type windowsSource struct {
	cursorVisible bool

	dup       *winapi.DuplicatedOutput
	capturing bool
	cache     frameCache
	comOwned  bool

	// regionActive crops every captured frame to (regionX, regionY,
	// outWidth, outHeight) within the monitor's full duplication surface;
	// outWidth/outHeight are the monitor's own dimensions when no region
	// was requested.
	regionActive        bool
	regionX, regionY    int
	outWidth, outHeight int
}

func newPlatformSource(cursorVisible bool) Source {
	return &windowsSource{cursorVisible: cursorVisible}
}

func (s *windowsSource) Init(monitor int, region *Region) (int, int, error) {
	runtime.LockOSThread()
	if err := winapi.CoInitialize(); err != nil {
		runtime.UnlockOSThread()
		return 0, 0, fmt.Errorf("screen: %w", err)
	}
	s.comOwned = true

	dup, err := winapi.CreateDuplicatedOutput(0, monitor)
	if err != nil {
		winapi.CoUninitialize()
		runtime.UnlockOSThread()
		s.comOwned = false
		return 0, 0, fmt.Errorf("screen: %w", err)
	}
	s.dup = dup

	w, h := dup.Width, dup.Height
	if region != nil && region.W > 0 && region.H > 0 {
		s.regionActive = true
		s.regionX, s.regionY = region.X, region.Y
		w, h = region.W, region.H
	}
	s.outWidth, s.outHeight = w, h
	return w, h, nil
}

func (s *windowsSource) Start() error {
	// Nothing to arm beyond the duplication handle already opened by
	// Init; capturing is idempotent-on-failure per spec §4.1.
	s.capturing = true
	return nil
}

func (s *windowsSource) Stop() error {
	s.capturing = false
	return nil
}

func (s *windowsSource) GetFrame(dualTrack bool) (Frame, Result, error) {
	if s.dup == nil || !s.capturing {
		return Frame{}, NoNewFrame, nil
	}

	resource, ok, err := s.dup.AcquireFrame()
	if err != nil {
		return Frame{}, NoNewFrame, fmt.Errorf("screen: %w", err)
	}
	if !ok {
		if cached, have := s.cache.get(); have {
			return cached, FrameReady, nil
		}
		return Frame{}, NoNewFrame, nil
	}
	defer s.dup.ReleaseFrame()

	stride, staged, unmap, err := s.dup.CopyToStaging(resource)
	if err != nil {
		return Frame{}, NoNewFrame, fmt.Errorf("screen: %w", err)
	}
	defer unmap()

	// staged always spans the full monitor surface; when a region is
	// active, slice the source down to its (x, y) origin before copyRows
	// ever reads from it — copyRows' own row/column bounds then describe
	// exactly the requested region, never the full monitor.
	src := staged
	if s.regionActive {
		src = staged[s.regionY*stride+s.regionX*4:]
	}

	out := Frame{Width: s.outWidth, Height: s.outHeight, Data: make([]byte, s.outWidth*s.outHeight*4)}
	copyRows(out.Data, src, stride, s.outWidth, s.outHeight, dualTrack)

	s.cache.put(out)
	return out, FrameReady, nil
}

func (s *windowsSource) Cleanup() error {
	if s.dup != nil {
		s.dup.Close()
		s.dup = nil
	}
	s.cache.reset()
	if s.comOwned {
		winapi.CoUninitialize()
		runtime.UnlockOSThread()
		s.comOwned = false
	}
	s.capturing = false
	return nil
}
