//go:build windows

package audio

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rmguney/muxsweeper/internal/winapi"
)

// windowsSource implements Source over a WASAPI shared-mode audio client,
// following the init → start → {get-buffer}* → stop → cleanup lifecycle
// from spec §4.2. The loopback and microphone sources are structurally
// identical; only the endpoint differs.
type windowsSource struct {
	kind   Kind
	client *winapi.AudioClient
	format Format
	silent *silencePolicy

	comOwned bool
}

func newPlatformSource(kind Kind) Source {
	return &windowsSource{kind: kind}
}

func (s *windowsSource) Init() (Format, error) {
	runtime.LockOSThread()
	if err := winapi.CoInitialize(); err != nil {
		runtime.UnlockOSThread()
		return Format{}, fmt.Errorf("audio: %s: %w", s.kind, err)
	}
	s.comOwned = true

	endpoint := winapi.EndpointCapture
	if s.kind == Loopback {
		endpoint = winapi.EndpointRender
	}

	client, err := winapi.OpenAudioClient(endpoint)
	if err != nil {
		winapi.CoUninitialize()
		runtime.UnlockOSThread()
		s.comOwned = false
		return Format{}, fmt.Errorf("audio: %s: %w", s.kind, err)
	}

	s.client = client
	s.format = Format{
		SampleRate:    client.SampleRate,
		Channels:      client.Channels,
		BitsPerSample: client.BitsPerSample,
		IsFloat:       client.IsFloat,
	}
	s.silent = newSilencePolicy(s.format.SampleRate)
	return s.format, nil
}

func (s *windowsSource) Start() error {
	if s.client == nil {
		return nil
	}
	return s.client.Start()
}

func (s *windowsSource) Stop() error {
	if s.client == nil {
		return nil
	}
	return s.client.Stop()
}

func (s *windowsSource) GetBuffer() (Buffer, error) {
	n, err := s.client.NextPacketFrames()
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: %s: %w", s.kind, err)
	}

	if n == 0 {
		frames, ok := s.silent.next(time.Now())
		if !ok {
			return Buffer{}, ErrIdle
		}
		data := s.silent.bytes(frames, s.format.BlockAlign())
		return Buffer{Data: data, Frames: frames, Synthesized: true}, nil
	}

	data, frames, silent, err := s.client.GetBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: %s: %w", s.kind, err)
	}
	if silent {
		for i := range data {
			data[i] = 0
		}
	}
	return Buffer{Data: data, Frames: frames, Synthesized: false}, nil
}

func (s *windowsSource) ReleaseBuffer(b Buffer) {
	if b.Synthesized || s.client == nil {
		return
	}
	s.client.ReleaseBuffer(b.Frames)
}

func (s *windowsSource) Cleanup() error {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.silent != nil {
		s.silent.reset()
	}
	if s.comOwned {
		winapi.CoUninitialize()
		runtime.UnlockOSThread()
		s.comOwned = false
	}
	return nil
}
