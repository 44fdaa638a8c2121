// Package mux drives an FFmpeg-backed MP4 writer in place of an
// OS-provided H.264/AAC sink writer. State lives entirely on the Muxer
// instance — there is no package-level mutable state — so that two
// recordings can run concurrently without interfering with each other.
//
// Grounded on the pack's obinnaokechukwu/ffgo Muxer/MuxerStream struct
// shape (mutex-guarded, headerWritten/closed flags, one streamEncoder per
// stream) and the teacher's video.go AAC re-encode block (fixed-size
// frames fed through a SoftwareResampleContext, RescaleTs before every
// WriteInterleavedFrame).
package mux

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
)

const tickRate = 10_000_000 // 100ns ticks per second, per the MF timestamp convention

// AudioFormat describes the PCM shape an audio source hands to the
// muxer — the source's native mix format, not the encoder's.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	IsFloat       bool
}

// Config describes one recording. Which fields are read depends on
// Variant: CombinedAudio is used by VariantVideoPlusOne/VariantAudioOnlyOne,
// SystemAudio/MicAudio by the dual-track variants.
type Config struct {
	Path      string
	Variant   Variant
	Width     int
	Height    int
	TargetFPS int

	CombinedAudio AudioFormat
	SystemAudio   AudioFormat
	MicAudio      AudioFormat
}

// audioTrack holds the encode pipeline and sample-count clock for one
// AAC output stream.
type audioTrack struct {
	ctx    *astiav.CodecContext
	stream *astiav.Stream
	swr    *astiav.SoftwareResampleContext
	dst    *astiav.Frame

	in             AudioFormat
	outSampleRate  int
	samplesEmitted int64
}

// videoTrack holds the encode pipeline and frame-count clock for the
// H.264 output stream.
type videoTrack struct {
	ctx    *astiav.CodecContext
	stream *astiav.Stream
	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame

	width, height int
	fps           int
	framesEmitted int64
}

// Muxer is an instance-owned MP4 writer. A single Muxer is built for
// exactly one recording and discarded at Close.
type Muxer struct {
	mu     sync.Mutex
	cfg    Config
	fc     *astiav.FormatContext
	io     *astiav.IOContext
	header bool
	closed bool

	video    *videoTrack
	combined *audioTrack
	system   *audioTrack
	mic      *audioTrack
}

// videoBitRate implements the spec's adaptive-bitrate-by-width table.
func videoBitRate(width int) int64 {
	switch {
	case width >= 1920:
		return 1_200_000
	case width >= 1280:
		return 800_000
	default:
		return 500_000
	}
}

// Open allocates the output format context, builds every stream the
// variant requires, and writes the MP4 header. Streams cannot be added
// after this call.
func Open(cfg Config) (*Muxer, error) {
	if cfg.Path == "" {
		return nil, errors.New("mux: output path is required")
	}

	fc, err := astiav.AllocOutputFormatContext(nil, "mp4", cfg.Path)
	if err != nil || fc == nil {
		return nil, fmt.Errorf("mux: AllocOutputFormatContext: %w", err)
	}

	m := &Muxer{cfg: cfg, fc: fc}

	if cfg.Variant.HasVideo() {
		if err := m.openVideo(); err != nil {
			m.fc.Free()
			return nil, err
		}
	}
	if cfg.Variant.HasCombinedAudio() {
		t, err := m.openAudio(cfg.CombinedAudio, 44100) // combined track is hardcoded to 44.1kHz regardless of source rate
		if err != nil {
			m.fc.Free()
			return nil, err
		}
		m.combined = t
	}
	if cfg.Variant.DualTrack() {
		sys, err := m.openAudio(cfg.SystemAudio, cfg.SystemAudio.SampleRate)
		if err != nil {
			m.fc.Free()
			return nil, err
		}
		m.system = sys
		mc, err := m.openAudio(cfg.MicAudio, cfg.MicAudio.SampleRate)
		if err != nil {
			m.fc.Free()
			return nil, err
		}
		m.mic = mc
	}

	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(cfg.Path, ioFlags, nil, nil)
	if err != nil {
		m.fc.Free()
		return nil, fmt.Errorf("mux: OpenIOContext: %w", err)
	}
	m.io = pb
	fc.SetPb(pb)

	if err := fc.WriteHeader(nil); err != nil {
		pb.Close()
		m.fc.Free()
		return nil, fmt.Errorf("mux: WriteHeader: %w", err)
	}
	m.header = true

	return m, nil
}

func (m *Muxer) openVideo() error {
	enc := astiav.FindEncoder(astiav.CodecIDH264)
	if enc == nil {
		return errors.New("mux: H.264 encoder not available")
	}

	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return errors.New("mux: AllocCodecContext(video) failed")
	}

	fps := m.cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}

	ctx.SetWidth(m.cfg.Width)
	ctx.SetHeight(m.cfg.Height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, fps))
	ctx.SetFramerate(astiav.NewRational(fps, 1))
	ctx.SetBitRate(videoBitRate(m.cfg.Width))
	ctx.SetGopSize(fps * 2)
	ctx.SetMaxBFrames(0) // keep decode order == presentation order for the sample-count clock below

	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("mux: open video encoder: %w", err)
	}

	stream := m.fc.NewStream(enc)
	if stream == nil {
		ctx.Free()
		return errors.New("mux: NewStream(video) failed")
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return fmt.Errorf("mux: ToCodecParameters(video): %w", err)
	}
	stream.SetTimeBase(ctx.TimeBase())

	ssc, err := astiav.CreateSoftwareScaleContext(
		m.cfg.Width, m.cfg.Height, astiav.PixelFormatBgra,
		m.cfg.Width, m.cfg.Height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		ctx.Free()
		return fmt.Errorf("mux: CreateSoftwareScaleContext: %w", err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(m.cfg.Width)
	dst.SetHeight(m.cfg.Height)
	dst.SetPixelFormat(astiav.PixelFormatYuv420P)

	m.video = &videoTrack{ctx: ctx, stream: stream, ssc: ssc, dst: dst, width: m.cfg.Width, height: m.cfg.Height, fps: fps}
	return nil
}

func (m *Muxer) openAudio(in AudioFormat, outSampleRate int) (*audioTrack, error) {
	if outSampleRate <= 0 {
		outSampleRate = 48000
	}

	enc := astiav.FindEncoder(astiav.CodecIDAac)
	if enc == nil {
		return nil, errors.New("mux: AAC encoder not available")
	}

	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return nil, errors.New("mux: AllocCodecContext(audio) failed")
	}

	channels := in.Channels
	if channels <= 0 {
		channels = 2
	}
	ctx.SetChannelLayout(astiav.ChannelLayoutForChannels(channels))
	ctx.SetSampleRate(outSampleRate)
	if sfs := enc.SampleFormats(); len(sfs) > 0 {
		ctx.SetSampleFormat(sfs[0])
	} else {
		ctx.SetSampleFormat(astiav.SampleFormatFltp)
	}
	ctx.SetBitRate(96000)
	ctx.SetTimeBase(astiav.NewRational(1, outSampleRate))
	ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)

	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("mux: open AAC encoder: %w", err)
	}

	stream := m.fc.NewStream(enc)
	if stream == nil {
		ctx.Free()
		return nil, errors.New("mux: NewStream(audio) failed")
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("mux: ToCodecParameters(audio): %w", err)
	}
	stream.SetTimeBase(ctx.TimeBase())

	srcFmt := astiav.SampleFormatS16
	if in.IsFloat {
		srcFmt = astiav.SampleFormatFlt
	}

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		ctx.Free()
		return nil, errors.New("mux: AllocSoftwareResampleContext failed")
	}
	if err := swr.SetOption("in_sample_fmt", srcFmt, 0); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("mux: swr in_sample_fmt: %w", err)
	}

	dst := astiav.AllocFrame()

	return &audioTrack{ctx: ctx, stream: stream, swr: swr, dst: dst, in: in, outSampleRate: outSampleRate}, nil
}

// AddVideo submits one raw BGRA frame, scales it to the encoder's pixel
// format, and drains any resulting packets. Presentation time advances
// strictly by frames_emitted × 10,000,000 / target_fps — wall clock
// plays no part.
func (m *Muxer) AddVideo(data []byte, width, height, stride int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.video == nil {
		return errors.New("mux: no video track")
	}
	v := m.video

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetWidth(width)
	src.SetHeight(height)
	src.SetPixelFormat(astiav.PixelFormatBgra)
	if err := src.AllocBuffer(0); err != nil {
		return fmt.Errorf("mux: video AllocBuffer: %w", err)
	}
	if err := src.Data().SetBytes(data, 0); err != nil {
		return fmt.Errorf("mux: video copy in: %w", err)
	}

	if err := v.ssc.ScaleFrame(src, v.dst); err != nil {
		return fmt.Errorf("mux: scale: %w", err)
	}

	v.dst.SetPts(v.framesEmitted)
	if err := v.ctx.SendFrame(v.dst); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("mux: video SendFrame: %w", err)
	}
	if err := m.drainVideo(); err != nil {
		return err
	}
	v.framesEmitted++
	return nil
}

func (m *Muxer) drainVideo() error {
	v := m.video
	for {
		pkt := astiav.AllocPacket()
		err := v.ctx.ReceivePacket(pkt)
		if err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("mux: video ReceivePacket: %w", err)
		}
		pkt.SetStreamIndex(v.stream.Index())
		pkt.RescaleTs(v.ctx.TimeBase(), v.stream.TimeBase())
		werr := m.fc.WriteInterleavedFrame(pkt)
		pkt.Unref()
		pkt.Free()
		if werr != nil && !errors.Is(werr, astiav.ErrEagain) {
			return fmt.Errorf("mux: WriteInterleavedFrame(video): %w", werr)
		}
	}
}

// addAudio feeds one buffer into the given track. frames is the caller's
// reported sample count for this buffer — the track's clock advances by
// exactly that value, independent of however many samples the resampler
// actually produces, matching the counter semantics used throughout the
// capture pipeline.
func (m *Muxer) addAudio(t *audioTrack, data []byte, frames int) error {
	if t == nil {
		return errors.New("mux: no such audio track")
	}

	srcFmt := astiav.SampleFormatS16
	if t.in.IsFloat {
		srcFmt = astiav.SampleFormatFlt
	}

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetSampleFormat(srcFmt)
	src.SetChannelLayout(astiav.ChannelLayoutForChannels(t.in.Channels))
	src.SetSampleRate(t.in.SampleRate)
	src.SetNbSamples(frames)
	if err := src.AllocBuffer(0); err != nil {
		return fmt.Errorf("mux: audio AllocBuffer: %w", err)
	}
	if err := src.Data().SetBytes(data, 0); err != nil {
		return fmt.Errorf("mux: audio copy in: %w", err)
	}

	t.dst.SetSampleFormat(t.ctx.SampleFormat())
	t.dst.SetChannelLayout(t.ctx.ChannelLayout())
	t.dst.SetSampleRate(t.ctx.SampleRate())
	t.dst.SetNbSamples(t.ctx.FrameSize())
	if err := t.dst.AllocBuffer(0); err != nil {
		return fmt.Errorf("mux: audio dst AllocBuffer: %w", err)
	}

	if err := t.swr.ConvertFrame(src, t.dst); err != nil {
		return fmt.Errorf("mux: resample: %w", err)
	}

	t.dst.SetPts(t.samplesEmitted)
	if err := t.ctx.SendFrame(t.dst); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("mux: audio SendFrame: %w", err)
	}
	if err := m.drainAudio(t); err != nil {
		return err
	}
	t.samplesEmitted += int64(frames)
	return nil
}

func (m *Muxer) drainAudio(t *audioTrack) error {
	for {
		pkt := astiav.AllocPacket()
		err := t.ctx.ReceivePacket(pkt)
		if err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("mux: audio ReceivePacket: %w", err)
		}
		pkt.SetStreamIndex(t.stream.Index())
		pkt.RescaleTs(t.ctx.TimeBase(), t.stream.TimeBase())
		werr := m.fc.WriteInterleavedFrame(pkt)
		pkt.Unref()
		pkt.Free()
		if werr != nil && !errors.Is(werr, astiav.ErrEagain) {
			return fmt.Errorf("mux: WriteInterleavedFrame(audio): %w", werr)
		}
	}
}

// AddCombinedAudio feeds the single-track (VariantVideoPlusOne /
// VariantAudioOnlyOne) audio track.
func (m *Muxer) AddCombinedAudio(data []byte, frames int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mux: closed")
	}
	return m.addAudio(m.combined, data, frames)
}

// AddSystemAudio feeds the dual-track system-audio stream.
func (m *Muxer) AddSystemAudio(data []byte, frames int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mux: closed")
	}
	return m.addAudio(m.system, data, frames)
}

// AddMicAudio feeds the dual-track microphone stream.
func (m *Muxer) AddMicAudio(data []byte, frames int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mux: closed")
	}
	return m.addAudio(m.mic, data, frames)
}

// VideoTimestamp returns the next video frame's presentation time in
// 100ns ticks, without consuming it. Exposed for tests and diagnostics.
func (m *Muxer) VideoTimestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video == nil {
		return 0
	}
	return m.video.framesEmitted * tickRate / int64(m.video.fps)
}

// AudioTimestamp returns the named track's next presentation time in
// 100ns ticks.
func (m *Muxer) AudioTimestamp(t *audioTrack) int64 {
	if t == nil {
		return 0
	}
	return t.samplesEmitted * tickRate / int64(t.outSampleRate)
}

// Finalize flushes every encoder, writes the trailer, and closes the I/O
// context. An error writing the trailer of a file that never received
// any samples is downgraded to success — spec §7's "empty media" case.
func (m *Muxer) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	wroteAny := false
	if m.video != nil {
		if err := m.flushVideo(); err != nil {
			return err
		}
		wroteAny = wroteAny || m.video.framesEmitted > 0
	}
	for _, t := range []*audioTrack{m.combined, m.system, m.mic} {
		if t == nil {
			continue
		}
		if err := m.flushAudio(t); err != nil {
			return err
		}
		wroteAny = wroteAny || t.samplesEmitted > 0
	}

	if m.header {
		if err := m.fc.WriteTrailer(); err != nil && wroteAny {
			return fmt.Errorf("mux: WriteTrailer: %w", err)
		}
	}

	if m.io != nil {
		m.io.Close()
	}
	m.closed = true
	return nil
}

func (m *Muxer) flushVideo() error {
	v := m.video
	if err := v.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("mux: flush video: %w", err)
	}
	return m.drainVideo()
}

func (m *Muxer) flushAudio(t *audioTrack) error {
	if err := t.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("mux: flush audio: %w", err)
	}
	return m.drainAudio(t)
}

// Close releases every FFmpeg resource this Muxer holds. Safe to call
// after Finalize, and idempotent.
func (m *Muxer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.video != nil {
		m.video.dst.Free()
		m.video.ssc.Free()
		m.video.ctx.Free()
		m.video = nil
	}
	for _, t := range []**audioTrack{&m.combined, &m.system, &m.mic} {
		if *t == nil {
			continue
		}
		(*t).dst.Free()
		(*t).swr.Free()
		(*t).ctx.Free()
		*t = nil
	}
	if m.fc != nil {
		m.fc.Free()
		m.fc = nil
	}
	m.closed = true
}
