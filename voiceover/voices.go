package voiceover

import "strings"

// DefaultVoiceID is a calm documentary narrator used for unknown preferences.
const DefaultVoiceID = "onwK4e9ZLuTAKqWW03F9"

type voiceKey struct {
	gender string
	accent string
}

var voices = map[voiceKey]string{
	{"female", "american"}:   "21m00Tcm4TlvDq8ikWAM",
	{"female", "british"}:    "ThT5KcBeYPX3keUQqHPh",
	{"female", "australian"}: "XB0fDUnXU5powFXDhCwa",
	{"female", "indian"}:     "pFZP5JQG7iQjIQuC4Bku",
	{"male", "american"}:     "pNInz6obpgDQGcFmaJgB",
	{"male", "british"}:      "JBFqnCBsd6RMkjVDRZzb",
	{"male", "australian"}:   "IKne3meq5aSn9XLyUdCD",
	{"male", "indian"}:       "zT03pEAEi0VHKciJODfn",
}

// VoiceFor resolves a (gender, accent) preference. A known gender without a
// known accent falls back to its american voice.
func VoiceFor(gender, accent string) string {
	g := strings.ToLower(strings.TrimSpace(gender))
	a := strings.ToLower(strings.TrimSpace(accent))
	if id, ok := voices[voiceKey{g, a}]; ok {
		return id
	}
	if a == "" {
		if id, ok := voices[voiceKey{g, "american"}]; ok {
			return id
		}
	}
	return DefaultVoiceID
}
