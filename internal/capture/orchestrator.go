// Package capture owns the scheduling loop: paced video acquisition,
// continuously-polled audio, progress reporting, and the stop conditions
// (duration, cancellation, watchdog) that end a recording. It is the one
// place that knows how the screen source, the two audio sources, and the
// muxer fit together.
package capture

import (
	"errors"
	"time"

	"github.com/rmguney/muxsweeper/internal/audio"
	"github.com/rmguney/muxsweeper/internal/mux"
	"github.com/rmguney/muxsweeper/internal/screen"
)

// StatusFunc receives human-readable status lines. ProgressFunc receives
// the running frame count and elapsed milliseconds; it is called once
// per submitted video frame, so rate-limiting belongs to the callback.
type StatusFunc func(string)
type ProgressFunc func(frameCount int, elapsedMS int64)

// CancelFlag is the cooperative cancellation source the loop polls once
// per iteration. watchdog.Bridge satisfies this.
type CancelFlag interface {
	Cancelled() bool
}

// muxerPort is the subset of *mux.Muxer the orchestrator drives. Declared
// as an interface so tests can swap in a recording fake.
type muxerPort interface {
	AddVideo(data []byte, width, height, stride int) error
	AddCombinedAudio(data []byte, frames int) error
	AddSystemAudio(data []byte, frames int) error
	AddMicAudio(data []byte, frames int) error
	Finalize() error
	Close()
}

// Test/production seams — overridden by orchestrator_test.go.
var (
	newScreenSource = screen.New
	newAudioSource  = audio.New
	openMuxer       = func(cfg mux.Config) (muxerPort, error) {
		m, err := mux.Open(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	nowMS   = func() int64 { return time.Now().UnixMilli() }
	sleepFn = time.Sleep
)

const (
	loopIterationCeiling = 2000
	emergencyMicPolls    = 5
	emergencyMicPollWait = 100 * time.Millisecond
	audioOnlyFailureCap  = 1000
)

// Run executes one complete recording and always returns populated Stats,
// even on a non-nil error, per spec §7's "carries the CaptureStats the
// loop accumulated before the failure".
func Run(p Params, statusCb StatusFunc, progressCb ProgressFunc, cancel CancelFlag) (Stats, error) {
	if statusCb == nil {
		statusCb = func(string) {}
	}
	if progressCb == nil {
		progressCb = func(int, int64) {}
	}
	if err := p.Validate(); err != nil {
		return Stats{}, initFailed("params", err)
	}

	r := &run{params: p, status: statusCb, progress: progressCb, cancel: cancel}
	return r.execute()
}

type audioEndpoint struct {
	kind    audio.Kind
	source  audio.Source
	format  audio.Format
	active  bool
	started bool
}

type run struct {
	params   Params
	status   StatusFunc
	progress ProgressFunc
	cancel   CancelFlag

	screenSrc    screen.Source
	screenOK     bool
	screenWidth  int
	screenHeight int

	system audioEndpoint
	mic    audioEndpoint

	m       muxerPort
	variant mux.Variant
	stats   Stats
}

func (r *run) execute() (Stats, error) {
	if err := r.initPhase(); err != nil {
		r.teardown()
		return r.stats, err
	}

	loopErr := r.mainLoop()

	finalizeErr := r.teardown()
	if loopErr != nil {
		return r.stats, loopErr
	}
	if finalizeErr != nil {
		return r.stats, finalizeErr
	}
	return r.stats, nil
}

func (r *run) initPhase() error {
	p := r.params

	if !p.AudioOnly() {
		r.screenSrc = newScreenSource(p.CursorVisible)
		var region *screen.Region
		if p.RegionActive {
			region = p.Region
		}
		w, h, err := r.screenSrc.Init(p.Monitor, region)
		if err != nil {
			return initFailed("screen", err)
		}
		r.screenOK = true
		r.screenWidth, r.screenHeight = w, h
	}

	if p.System {
		r.system.kind = audio.Loopback
		r.system.source = newAudioSource(audio.Loopback)
		if fmt, err := r.system.source.Init(); err == nil {
			r.system.active = true
			r.system.format = fmt
		} else {
			r.status("system audio unavailable: " + err.Error())
		}
	}
	if p.Microphone {
		r.mic.kind = audio.Microphone
		r.mic.source = newAudioSource(audio.Microphone)
		if fmt, err := r.mic.source.Init(); err == nil {
			r.mic.active = true
			r.mic.format = fmt
		} else {
			r.status("microphone unavailable: " + err.Error())
		}
	}

	anyAudioRequested := p.System || p.Microphone
	anyAudioActive := r.system.active || r.mic.active
	if anyAudioRequested && !anyAudioActive {
		if p.AudioOnly() {
			return initFailed("audio", errors.New("no audio source could be initialized"))
		}
		r.status("no audio source available, continuing video-only")
	}

	if anyAudioActive && !p.AudioOnly() {
		r.probeAudio()
	}

	videoOK := r.screenOK
	systemOK := r.system.active
	micOK := r.mic.active
	r.variant = resolveVariant(videoOK, systemOK, micOK)

	cfg := mux.Config{
		Path:      r.params.OutputPath,
		Variant:   r.variant,
		TargetFPS: r.params.TargetFPS,
	}
	if videoOK {
		cfg.Width, cfg.Height = r.screenWidth, r.screenHeight
	}
	if r.variant.HasCombinedAudio() {
		cfg.CombinedAudio = r.combinedFormat()
	}
	if r.variant.DualTrack() {
		cfg.SystemAudio = toMuxFormat(r.system.format)
		cfg.MicAudio = toMuxFormat(r.mic.format)
	}

	m, err := openMuxer(cfg)
	if err != nil {
		return initFailed("mux", err)
	}
	r.m = m

	if r.screenOK {
		if err := r.screenSrc.Start(); err != nil {
			return initFailed("screen", err)
		}
	}
	if r.system.active {
		if err := r.system.source.Start(); err != nil {
			r.status("system audio failed to start, downgrading: " + err.Error())
			r.system.active = false
		} else {
			r.system.started = true
		}
	}
	if r.mic.active {
		if err := r.mic.source.Start(); err != nil {
			r.status("microphone failed to start, downgrading: " + err.Error())
			r.mic.active = false
		} else {
			r.mic.started = true
		}
	}

	r.stats.AudioEnabled = r.system.active || r.mic.active
	r.stats.AudioSources = audioSourcesTag(r.system.active, r.mic.active)
	r.stats.Variant = r.variant.String()

	// Adopt whichever surviving source's mix format as the recording's
	// audio format (microphone wins ties) — spec §4.4 init step 2, read
	// after probe/start downgrades so it reflects what actually recorded.
	switch {
	case r.mic.active:
		r.stats.AudioFormat = r.mic.format
	case r.system.active:
		r.stats.AudioFormat = r.system.format
	}
	return nil
}

// combinedFormat adopts whichever audio source is active for the single
// combined track — at most one of system/mic survives past probe when the
// variant isn't dual-track.
func (r *run) combinedFormat() mux.AudioFormat {
	if r.mic.active {
		return toMuxFormat(r.mic.format)
	}
	return toMuxFormat(r.system.format)
}

func toMuxFormat(f audio.Format) mux.AudioFormat {
	return mux.AudioFormat{SampleRate: f.SampleRate, Channels: f.Channels, BitsPerSample: f.BitsPerSample, IsFloat: f.IsFloat}
}

func audioSourcesTag(systemOK, micOK bool) AudioSources {
	switch {
	case systemOK && micOK:
		return AudioBoth
	case systemOK:
		return AudioSystem
	case micOK:
		return AudioMicrophone
	default:
		return AudioNone
	}
}

// probeAudio runs a short up-to-five-poll probe per spec §4.4 step 4: the
// microphone must prove it delivers at least one real (non-synthesized)
// frame, while a live system-audio endpoint is accepted even if it is
// silent the whole probe window.
func (r *run) probeAudio() {
	if r.system.active {
		_ = r.system.source.Start()
		for i := 0; i < emergencyMicPolls; i++ {
			buf, err := r.system.source.GetBuffer()
			if err != nil && !errors.Is(err, audio.ErrIdle) {
				break
			}
			if err == nil {
				r.system.source.ReleaseBuffer(buf)
			}
			time.Sleep(emergencyMicPollWait)
		}
		_ = r.system.source.Stop()
	}

	if r.mic.active {
		_ = r.mic.source.Start()
		sawReal := false
		for i := 0; i < emergencyMicPolls; i++ {
			buf, err := r.mic.source.GetBuffer()
			if err == nil && !buf.Synthesized {
				sawReal = true
				r.mic.source.ReleaseBuffer(buf)
				break
			}
			time.Sleep(emergencyMicPollWait)
		}
		_ = r.mic.source.Stop()
		if !sawReal {
			r.status("microphone produced no real audio during probe, downgrading")
			r.mic.active = false
		}
	}
}

func (r *run) mainLoop() error {
	startMS := nowMS()
	windowStart := startMS
	iterationsInWindow := 0

	fps := r.params.TargetFPS
	frameIntervalMS := int64(1000 / fps)
	nextFrameTime := startMS

	consecutiveAudioFailures := 0
	maxUnlimitedMS := int64(r.params.maxUnlimitedSeconds()) * 1000

	tightLoop := false
	for {
		now := nowMS()
		iterationsInWindow++
		if now-windowStart >= 1000 {
			if iterationsInWindow > loopIterationCeiling {
				tightLoop = true
				break
			}
			windowStart = now
			iterationsInWindow = 0
		}

		elapsed := now - startMS
		if r.params.Duration > 0 && elapsed >= int64(r.params.Duration)*1000 {
			break
		}
		if r.params.Duration == 0 && elapsed > maxUnlimitedMS {
			r.status("unlimited recording reached its watchdog ceiling")
			r.stats.Note = "watchdog: unlimited-duration ceiling reached"
			break
		}

		if !r.params.AudioOnly() && now >= nextFrameTime {
			if err := r.pullVideo(elapsed); err != nil {
				r.status("screen capture failed, stopping: " + err.Error())
				r.stats.Note = "aborted: screen capture error"
				break
			}
			nextFrameTime += frameIntervalMS
		}

		audioOK := r.pullAudio()
		if audioOK {
			consecutiveAudioFailures = 0
		} else if r.system.active || r.mic.active {
			consecutiveAudioFailures++
		}
		if r.params.AudioOnly() && consecutiveAudioFailures > audioOnlyFailureCap {
			r.stats.DurationMS = now - startMS
			return &Error{Kind: KindSubmitFailed, Component: "audio", Err: errors.New("too many consecutive audio failures")}
		}

		if r.cancel != nil && r.cancel.Cancelled() {
			r.stats.Note = "cancelled"
			break
		}

		sleep := 5 * time.Millisecond
		if !r.system.active && !r.mic.active {
			remain := nextFrameTime - nowMS()
			if remain < 1 {
				remain = 1
			}
			if remain > 5 {
				remain = 5
			}
			sleep = time.Duration(remain) * time.Millisecond
		}
		sleepFn(sleep)
	}

	r.stats.DurationMS = nowMS() - startMS
	if tightLoop {
		r.status("tight loop detected, aborting")
		r.stats.Note = "watchdog: tight-loop iteration ceiling reached"
	}
	return nil
}

// pullVideo requests one frame. A screen source error (such as a lost
// compositor) is returned so the loop ends the recording; NoNewFrame only
// counts as a failed frame.
func (r *run) pullVideo(elapsedMS int64) error {
	frame, result, err := r.screenSrc.GetFrame(r.variant.DualTrack())
	if err != nil {
		r.stats.FailedFrames++
		return err
	}
	if result != screen.FrameReady {
		r.stats.FailedFrames++
		return nil
	}
	if err := r.m.AddVideo(frame.Data, frame.Width, frame.Height, frame.Width*4); err != nil {
		r.status("video submission failed: " + err.Error())
	}
	r.stats.TotalFrames++
	r.progress(r.stats.TotalFrames, elapsedMS)
	return nil
}

// pullAudio polls every active audio endpoint once and returns whether at
// least one was polled without error (an idle endpoint counts as success).
func (r *run) pullAudio() bool {
	ok := false
	if r.system.active {
		if r.pullOne(&r.system, true) {
			ok = true
		}
	}
	if r.mic.active {
		if r.pullOne(&r.mic, false) {
			ok = true
		}
	}
	return ok
}

func (r *run) pullOne(ep *audioEndpoint, isSystem bool) bool {
	buf, err := ep.source.GetBuffer()
	if err != nil {
		if errors.Is(err, audio.ErrIdle) {
			return true // idle is not a failure; it simply produced nothing this tick
		}
		return false
	}

	var submitErr error
	switch {
	case r.variant.DualTrack() && isSystem:
		submitErr = r.m.AddSystemAudio(buf.Data, buf.Frames)
		r.stats.SystemSamples += int64(buf.Frames)
	case r.variant.DualTrack() && !isSystem:
		submitErr = r.m.AddMicAudio(buf.Data, buf.Frames)
		r.stats.MicSamples += int64(buf.Frames)
	default:
		submitErr = r.m.AddCombinedAudio(buf.Data, buf.Frames)
		r.stats.CombinedSamples += int64(buf.Frames)
	}
	ep.source.ReleaseBuffer(buf)
	if submitErr != nil {
		r.status("audio submission failed: " + submitErr.Error())
	}
	return true
}

func (r *run) teardown() error {
	if r.screenOK {
		_ = r.screenSrc.Stop()
	}
	if r.system.started {
		_ = r.system.source.Stop()
	}
	if r.mic.started {
		_ = r.mic.source.Stop()
	}

	var finalizeErr error
	if r.m != nil {
		if err := r.m.Finalize(); err != nil {
			finalizeErr = finalizeFailed(err)
		}
		r.m.Close()
	}

	if r.screenSrc != nil {
		_ = r.screenSrc.Cleanup()
	}
	if r.system.source != nil {
		_ = r.system.source.Cleanup()
	}
	if r.mic.source != nil {
		_ = r.mic.source.Cleanup()
	}

	return finalizeErr
}
