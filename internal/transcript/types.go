// Package transcript implements the diarization stage of the chartflow
// pipeline: turning pre-segmented audio chunks into an ordered sequence of
// speaker-labelled transcript lines.
//
// The [Diarizer] submits all chunks of an increment as one multimodal
// request with a two-part instruction — transcribe per distinct voice
// without assuming dialogue structure, then assign a clinical role to each
// voice. The response is expected to contain exactly two JSON blocks: the
// transcription lines and the voice-to-role mapping. When only one block
// arrives the stage reports a partial response while still surfacing the
// lines it could decode, so downstream callers may degrade gracefully.
package transcript

// Role labels a distinct voice in the encounter.
const (
	RolePatient   = "patient"
	RoleClinician = "clinician"
	RoleNurse     = "nurse"
	RoleOther     = "other"
)

// Line is one speaker-labelled utterance. Lines are immutable values,
// produced only by diarization, ordered, and append-only across a session.
type Line struct {
	// Speaker is the resolved role label, or the raw voice id when the role
	// mapping did not cover this voice.
	Speaker string `json:"speaker"`

	// Text is the utterance content.
	Text string `json:"text"`
}
