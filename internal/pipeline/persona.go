package pipeline

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/playback"
)

// Profile is how one persona looks and sounds.
type Profile struct {
	Name   string
	Voice  string // OpenAI voice
	Avatar string // AvatarTalk avatar

	// ElevenLabsVoice replaces Voice when speech goes through ElevenLabs.
	ElevenLabsVoice string

	PortraitPath string
	Portrait     []byte
	PortraitType string

	// Pitch and Rate drive on-device speech when generation fails.
	Pitch float64
	Rate  float64
}

// DefaultProfiles are the consultant (primary) and partner (support) advisors.
func DefaultProfiles() [2]Profile {
	return [2]Profile{
		playback.Primary: {
			Name: "consultant", Voice: "nova", Avatar: "european_woman",
			ElevenLabsVoice: "21m00Tcm4TlvDq8ikWAM", Pitch: 1.5, Rate: 0.95,
		},
		playback.Support: {
			Name: "partner", Voice: "shimmer", Avatar: "old_european_woman",
			ElevenLabsVoice: "EXAVITQu4vr4xnSDxMaL", Pitch: 0.95, Rate: 1.0,
		},
	}
}

// ElevenLabsVoices maps each profile's OpenAI voice to its ElevenLabs voice.
func ElevenLabsVoices(profiles [2]Profile) map[string]string {
	voices := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if p.Voice != "" && p.ElevenLabsVoice != "" {
			voices[p.Voice] = p.ElevenLabsVoice
		}
	}
	return voices
}

// LoadPortrait reads the profile's portrait image from PortraitPath.
func (p *Profile) LoadPortrait() error {
	if p.PortraitPath == "" {
		return nil
	}
	data, err := os.ReadFile(p.PortraitPath)
	if err != nil {
		return fmt.Errorf("load portrait for %s: %w", p.Name, err)
	}
	p.Portrait = data
	p.PortraitType = http.DetectContentType(data)
	return nil
}
