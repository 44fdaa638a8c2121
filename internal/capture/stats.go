package capture

import "github.com/rmguney/muxsweeper/internal/audio"

// AudioSources tags which audio endpoints contributed to a recording.
type AudioSources int

const (
	AudioNone AudioSources = iota
	AudioSystem
	AudioMicrophone
	AudioBoth
)

func (a AudioSources) String() string {
	switch a {
	case AudioSystem:
		return "system"
	case AudioMicrophone:
		return "microphone"
	case AudioBoth:
		return "both"
	default:
		return "none"
	}
}

// Stats summarizes one completed run. It is filled in by the init phase and
// the main loop, and returned regardless of whether the run ended normally,
// was cancelled, or hit a watchdog ceiling.
type Stats struct {
	TotalFrames     int
	FailedFrames    int
	DurationMS      int64
	AudioEnabled    bool
	AudioSources    AudioSources
	AudioFormat     audio.Format
	CombinedSamples int64
	SystemSamples   int64
	MicSamples      int64
	Variant         string
	Note            string
}
