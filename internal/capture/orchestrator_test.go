package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/rmguney/muxsweeper/internal/audio"
	"github.com/rmguney/muxsweeper/internal/mux"
	"github.com/rmguney/muxsweeper/internal/screen"
)

type fakeScreen struct {
	width, height int
	frames        int
}

func (f *fakeScreen) Init(monitor int, region *screen.Region) (int, int, error) {
	return f.width, f.height, nil
}
func (f *fakeScreen) Start() error { return nil }
func (f *fakeScreen) Stop() error  { return nil }
func (f *fakeScreen) GetFrame(dualTrack bool) (screen.Frame, screen.Result, error) {
	f.frames++
	return screen.Frame{Width: f.width, Height: f.height, Data: make([]byte, f.width*f.height*4)}, screen.FrameReady, nil
}
func (f *fakeScreen) Cleanup() error { return nil }

type fakeAudio struct {
	kind         audio.Kind
	format       audio.Format
	framesPerGet int
	initErr      error
	alwaysIdle   bool
}

func (f *fakeAudio) Init() (audio.Format, error) { return f.format, f.initErr }
func (f *fakeAudio) Start() error                { return nil }
func (f *fakeAudio) Stop() error                 { return nil }
func (f *fakeAudio) GetBuffer() (audio.Buffer, error) {
	if f.alwaysIdle {
		return audio.Buffer{}, audio.ErrIdle
	}
	n := f.framesPerGet
	if n == 0 {
		n = 64
	}
	return audio.Buffer{Data: make([]byte, n*4), Frames: n}, nil
}
func (f *fakeAudio) ReleaseBuffer(b audio.Buffer) {}
func (f *fakeAudio) Cleanup() error               { return nil }

type fakeMuxer struct {
	videoAdds      int
	combinedFrames int64
	systemFrames   int64
	micFrames      int64
	finalizeCalled bool
	closeCalled    bool
	finalizeErr    error
}

func (m *fakeMuxer) AddVideo(data []byte, w, h, stride int) error { m.videoAdds++; return nil }
func (m *fakeMuxer) AddCombinedAudio(data []byte, frames int) error {
	m.combinedFrames += int64(frames)
	return nil
}
func (m *fakeMuxer) AddSystemAudio(data []byte, frames int) error {
	m.systemFrames += int64(frames)
	return nil
}
func (m *fakeMuxer) AddMicAudio(data []byte, frames int) error {
	m.micFrames += int64(frames)
	return nil
}
func (m *fakeMuxer) Finalize() error { m.finalizeCalled = true; return m.finalizeErr }
func (m *fakeMuxer) Close()          { m.closeCalled = true }

type fakeCancel struct {
	afterIterations int
	calls           int
}

func (c *fakeCancel) Cancelled() bool {
	c.calls++
	return c.calls > c.afterIterations
}

// withFakes installs the given fakes as the orchestrator's source/muxer
// seams for the duration of one test and restores the real ones after.
func withFakes(t *testing.T, scr screen.Source, audioFactory func(audio.Kind) audio.Source, m *fakeMuxer) {
	t.Helper()
	origScreen, origAudio, origMux := newScreenSource, newAudioSource, openMuxer
	newScreenSource = func(bool) screen.Source { return scr }
	newAudioSource = audioFactory
	openMuxer = func(cfg mux.Config) (muxerPort, error) { return m, nil }
	t.Cleanup(func() {
		newScreenSource, newAudioSource, openMuxer = origScreen, origAudio, origMux
	})
}

func TestScenarioVideoOnly(t *testing.T) {
	scr := &fakeScreen{width: 1280, height: 720}
	m := &fakeMuxer{}
	withFakes(t, scr, func(audio.Kind) audio.Source { return &fakeAudio{} }, m)

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 1, Video: true}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalFrames < 25 || stats.TotalFrames > 35 {
		t.Errorf("TotalFrames = %d, want ~30", stats.TotalFrames)
	}
	if stats.AudioEnabled {
		t.Error("AudioEnabled should be false for video-only")
	}
	if stats.Variant != mux.VariantVideoOnly.String() {
		t.Errorf("Variant = %q, want %q", stats.Variant, mux.VariantVideoOnly.String())
	}
	if m.combinedFrames != 0 || m.systemFrames != 0 || m.micFrames != 0 {
		t.Error("no audio frames should have been submitted")
	}
	if !m.finalizeCalled || !m.closeCalled {
		t.Error("Finalize/Close should always run")
	}
}

func TestScenarioVideoPlusDualAudio(t *testing.T) {
	scr := &fakeScreen{width: 1920, height: 1080}
	m := &fakeMuxer{}
	withFakes(t, scr, func(k audio.Kind) audio.Source {
		return &fakeAudio{kind: k, format: audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, IsFloat: true}, framesPerGet: 240}
	}, m)

	p := Params{OutputPath: "out.mp4", TargetFPS: 60, Duration: 1, Video: true, System: true, Microphone: true}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Variant != mux.VariantVideoPlusTwo.String() {
		t.Errorf("Variant = %q, want %q", stats.Variant, mux.VariantVideoPlusTwo.String())
	}
	if m.systemFrames == 0 || m.micFrames == 0 {
		t.Error("both dual-track streams should have received samples")
	}
	if m.combinedFrames != 0 {
		t.Error("dual-track recording should never use the combined track")
	}
}

func TestScenarioAudioOnlyMic(t *testing.T) {
	m := &fakeMuxer{}
	withFakes(t, &fakeScreen{}, func(k audio.Kind) audio.Source {
		return &fakeAudio{kind: k, format: audio.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 32, IsFloat: true}, framesPerGet: 441}
	}, m)

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 1, Microphone: true}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalFrames != 0 {
		t.Errorf("audio-only recording should submit no video, got %d", stats.TotalFrames)
	}
	if m.combinedFrames == 0 {
		t.Error("expected combined-track samples for single-track audio-only")
	}
	if stats.Variant != mux.VariantAudioOnlyOne.String() {
		t.Errorf("Variant = %q, want %q", stats.Variant, mux.VariantAudioOnlyOne.String())
	}
}

func TestScenarioMicAbsentDowngrades(t *testing.T) {
	m := &fakeMuxer{}
	withFakes(t, &fakeScreen{width: 640, height: 480}, func(k audio.Kind) audio.Source {
		return &fakeAudio{kind: k, initErr: errors.New("no microphone device")}
	}, m)

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 1, Video: true, Microphone: true}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("expected graceful downgrade, got error: %v", err)
	}
	if stats.AudioEnabled {
		t.Error("AudioEnabled should be false after microphone init failure")
	}
	if stats.Variant != mux.VariantVideoOnly.String() {
		t.Errorf("Variant = %q, want %q after downgrade", stats.Variant, mux.VariantVideoOnly.String())
	}
}

func TestScenarioCancellation(t *testing.T) {
	scr := &fakeScreen{width: 1280, height: 720}
	m := &fakeMuxer{}
	withFakes(t, scr, func(audio.Kind) audio.Source { return &fakeAudio{} }, m)

	cancel := &fakeCancel{afterIterations: 3}
	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 10, Video: true}
	stats, err := Run(p, nil, nil, cancel)
	if err != nil {
		t.Fatalf("cancellation should finalize as success, got: %v", err)
	}
	if stats.Note != "cancelled" {
		t.Errorf("Note = %q, want %q", stats.Note, "cancelled")
	}
	if !m.finalizeCalled {
		t.Error("cancellation must still finalize the muxer")
	}
}

func TestScenarioTightLoopWatchdog(t *testing.T) {
	scr := &fakeScreen{width: 1280, height: 720}
	m := &fakeMuxer{}
	withFakes(t, scr, func(audio.Kind) audio.Source {
		return &fakeAudio{format: audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, IsFloat: true}}
	}, m)

	// Simulate a clock stuck at the same millisecond for the first 2001
	// nowMS calls (the loop's start reading plus 2000 iterations), then
	// jumping 2s forward on the next call — this makes
	// loop_iterations exceed the 2000 ceiling before a full simulated
	// second has passed, tripping the tight-loop guard on the very call
	// that finally reports elapsed >= 1s.
	const start = int64(1_000_000)
	calls := 0
	origNow, origSleep := nowMS, sleepFn
	nowMS = func() int64 {
		calls++
		if calls > 2001 {
			return start + 2000
		}
		return start
	}
	sleepFn = func(time.Duration) {}
	t.Cleanup(func() { nowMS, sleepFn = origNow, origSleep })

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 9999, Video: true, System: true}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("tight-loop watchdog should finalize as success, got: %v", err)
	}
	if stats.Note != "watchdog: tight-loop iteration ceiling reached" {
		t.Errorf("Note = %q, want the tight-loop diagnostic", stats.Note)
	}
	if !m.finalizeCalled {
		t.Error("tight-loop watchdog must still finalize the muxer")
	}
}

func TestScenarioUnlimitedWatchdog(t *testing.T) {
	scr := &fakeScreen{width: 1280, height: 720}
	m := &fakeMuxer{}
	withFakes(t, scr, func(audio.Kind) audio.Source { return &fakeAudio{} }, m)

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 0, Video: true, MaxUnlimitedSeconds: 1}
	stats, err := Run(p, nil, nil, nil)
	if err != nil {
		t.Fatalf("watchdog ceiling should finalize as success, got: %v", err)
	}
	if stats.Note == "" {
		t.Error("expected a watchdog diagnostic note")
	}
}

func TestScenarioMuxerOpenFailureIsFatal(t *testing.T) {
	origScreen, origAudio, origMux := newScreenSource, newAudioSource, openMuxer
	defer func() { newScreenSource, newAudioSource, openMuxer = origScreen, origAudio, origMux }()
	newScreenSource = func(bool) screen.Source { return &fakeScreen{width: 640, height: 480} }
	newAudioSource = func(audio.Kind) audio.Source { return &fakeAudio{} }
	openMuxer = func(cfg mux.Config) (muxerPort, error) { return nil, errors.New("disk full") }

	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Duration: 1, Video: true}
	_, err := Run(p, nil, nil, nil)
	if err == nil {
		t.Fatal("expected a fatal error when the muxer fails to open")
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindInitFailed {
		t.Errorf("expected KindInitFailed, got %v", err)
	}
}
