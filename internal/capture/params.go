package capture

import (
	"errors"

	"github.com/rmguney/muxsweeper/internal/mux"
	"github.com/rmguney/muxsweeper/internal/screen"
)

// Region is an optional capture rectangle in desktop coordinates.
type Region = screen.Region

// Mode is the derived recording mode from spec §3 "Recording mode".
type Mode int

const (
	ModeVideoOnly Mode = iota
	ModeVideoPlusOne
	ModeVideoPlusTwo
	ModeAudioOnlyOne
	ModeAudioOnlyTwo
)

// Params are the immutable capture parameters for one recording. Nothing
// in Params may change once Run has started.
type Params struct {
	OutputPath string
	TargetFPS  int
	Duration   int // whole seconds; 0 = unlimited

	Video      bool
	System     bool
	Microphone bool

	Monitor       int
	Region        *Region
	RegionActive  bool
	CursorVisible bool

	// MaxUnlimitedSeconds bounds an unlimited-duration recording absent an
	// external watchdog override; spec §4.4 footnote: "An implementer may
	// expose this ceiling as a parameter". Zero means use the default (60).
	MaxUnlimitedSeconds int
}

// AudioOnly reports spec §3's derived audio_only_mode.
func (p Params) AudioOnly() bool {
	return !p.Video && (p.System || p.Microphone)
}

// AudioSourcesRequested reports which audio_sources tag applies before
// any init-time downgrade.
func (p Params) AudioSourcesRequested() AudioSources {
	switch {
	case p.System && p.Microphone:
		return AudioBoth
	case p.System:
		return AudioSystem
	case p.Microphone:
		return AudioMicrophone
	default:
		return AudioNone
	}
}

// Validate checks the structural requirements from spec §3/§6 before a
// recording starts.
func (p Params) Validate() error {
	if p.OutputPath == "" {
		return errors.New("capture: output path is required")
	}
	if p.TargetFPS < 1 || p.TargetFPS > 120 {
		return errors.New("capture: fps must be in 1..120")
	}
	if p.Duration < 0 {
		return errors.New("capture: duration must be >= 0")
	}
	if !p.Video && !p.System && !p.Microphone {
		return errors.New("capture: at least one source must be enabled")
	}
	if p.RegionActive && p.Region != nil && (p.Region.W <= 0 || p.Region.H <= 0) {
		return errors.New("capture: region width/height must be positive")
	}
	return nil
}

func (p Params) maxUnlimitedSeconds() int {
	if p.MaxUnlimitedSeconds > 0 {
		return p.MaxUnlimitedSeconds
	}
	return 60
}

// resolveMode picks the recording mode from the requested source mask —
// step 1 of spec §3's "Recording mode" derivation, before init-time
// downgrades are known.
func (p Params) resolveMode() Mode {
	dual := p.System && p.Microphone
	switch {
	case p.Video && !p.System && !p.Microphone:
		return ModeVideoOnly
	case p.Video && dual:
		return ModeVideoPlusTwo
	case p.Video:
		return ModeVideoPlusOne
	case dual:
		return ModeAudioOnlyTwo
	default:
		return ModeAudioOnlyOne
	}
}

// resolveVariant translates the final (video-ok, system-ok, mic-ok) tuple
// — known only after init and the audio probe — into a concrete muxer
// variant, per spec §4.4 step 5.
func resolveVariant(videoOK, systemOK, micOK bool) mux.Variant {
	dual := systemOK && micOK
	switch {
	case videoOK && !systemOK && !micOK:
		return mux.VariantVideoOnly
	case videoOK && dual:
		return mux.VariantVideoPlusTwo
	case videoOK:
		return mux.VariantVideoPlusOne
	case dual:
		return mux.VariantAudioOnlyTwo
	default:
		return mux.VariantAudioOnlyOne
	}
}
