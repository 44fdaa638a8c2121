package mux

// Variant is one of the five muxer initialization variants from spec §4.3,
// selected by the orchestrator's parameter/mode resolver.
type Variant int

const (
	// VariantVideoOnly: video, no audio track.
	VariantVideoOnly Variant = iota
	// VariantVideoPlusOne: video plus one combined audio track.
	VariantVideoPlusOne
	// VariantVideoPlusTwo: video plus two independent audio tracks
	// (dual-track).
	VariantVideoPlusTwo
	// VariantAudioOnlyOne: audio-only, one track.
	VariantAudioOnlyOne
	// VariantAudioOnlyTwo: audio-only, two tracks (dual-track).
	VariantAudioOnlyTwo
)

// HasVideo reports whether this variant carries a video stream.
func (v Variant) HasVideo() bool {
	return v == VariantVideoOnly || v == VariantVideoPlusOne || v == VariantVideoPlusTwo
}

// HasCombinedAudio reports whether this variant carries a single audio
// track fed by add_combined_audio.
func (v Variant) HasCombinedAudio() bool {
	return v == VariantVideoPlusOne || v == VariantAudioOnlyOne
}

// DualTrack reports whether this variant carries two independent audio
// tracks (system + microphone).
func (v Variant) DualTrack() bool {
	return v == VariantVideoPlusTwo || v == VariantAudioOnlyTwo
}

func (v Variant) String() string {
	switch v {
	case VariantVideoOnly:
		return "video-only"
	case VariantVideoPlusOne:
		return "video+1-audio"
	case VariantVideoPlusTwo:
		return "video+2-audio"
	case VariantAudioOnlyOne:
		return "audio-only-1"
	case VariantAudioOnlyTwo:
		return "audio-only-2"
	default:
		return "unknown"
	}
}
