package capture

import (
	"testing"

	"github.com/rmguney/muxsweeper/internal/mux"
)

func TestResolveModeFromRequestedMask(t *testing.T) {
	cases := []struct {
		name            string
		video, sys, mic bool
		want            Mode
	}{
		{"video only", true, false, false, ModeVideoOnly},
		{"video + system", true, true, false, ModeVideoPlusOne},
		{"video + mic", true, false, true, ModeVideoPlusOne},
		{"video + both", true, true, true, ModeVideoPlusTwo},
		{"system only", false, true, false, ModeAudioOnlyOne},
		{"mic only", false, false, true, ModeAudioOnlyOne},
		{"both, no video", false, true, true, ModeAudioOnlyTwo},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := Params{Video: c.video, System: c.sys, Microphone: c.mic}
			if got := p.resolveMode(); got != c.want {
				t.Errorf("resolveMode() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestResolveVariantFromFinalTuple(t *testing.T) {
	cases := []struct {
		name                     string
		videoOK, systemOK, micOK bool
		want                     mux.Variant
	}{
		{"video only", true, false, false, mux.VariantVideoOnly},
		{"video + one", true, true, false, mux.VariantVideoPlusOne},
		{"video + dual", true, true, true, mux.VariantVideoPlusTwo},
		{"audio only one", false, true, false, mux.VariantAudioOnlyOne},
		{"audio only dual", false, true, true, mux.VariantAudioOnlyTwo},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := resolveVariant(c.videoOK, c.systemOK, c.micOK); got != c.want {
				t.Errorf("resolveVariant(%v,%v,%v) = %v, want %v", c.videoOK, c.systemOK, c.micOK, got, c.want)
			}
		})
	}
}

func TestAudioOnlyDerivation(t *testing.T) {
	if (Params{Video: true, System: true}).AudioOnly() {
		t.Fatal("video enabled should never be audio-only")
	}
	if !(Params{System: true}).AudioOnly() {
		t.Fatal("system-only with no video should be audio-only")
	}
	if (Params{}).AudioOnly() {
		t.Fatal("no sources enabled should not be audio-only")
	}
}

func TestValidateRejectsNoSources(t *testing.T) {
	p := Params{OutputPath: "out.mp4", TargetFPS: 30}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error when no source is enabled")
	}
}

func TestValidateRejectsBadFPS(t *testing.T) {
	p := Params{OutputPath: "out.mp4", TargetFPS: 0, Video: true}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for fps=0")
	}
	p.TargetFPS = 121
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for fps=121")
	}
}

func TestValidateAcceptsWellFormedParams(t *testing.T) {
	p := Params{OutputPath: "out.mp4", TargetFPS: 30, Video: true}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMaxUnlimitedSecondsDefault(t *testing.T) {
	if got := (Params{}).maxUnlimitedSeconds(); got != 60 {
		t.Fatalf("default maxUnlimitedSeconds = %d, want 60", got)
	}
	if got := (Params{MaxUnlimitedSeconds: 10}).maxUnlimitedSeconds(); got != 10 {
		t.Fatalf("override maxUnlimitedSeconds = %d, want 10", got)
	}
}
