package transcript

import (
	"encoding/json"
	"fmt"
)

// PartialResponseError reports that the diarization response contained
// fewer JSON blocks than the two expected (transcription lines plus role
// mapping). It is distinct from an upstream backend failure: the content
// that did arrive is attached so callers can degrade gracefully or log it
// for diagnostics, but it must not be trusted as a complete result.
type PartialResponseError struct {
	// Blocks holds the JSON blocks that were present.
	Blocks []json.RawMessage
}

func (e *PartialResponseError) Error() string {
	return fmt.Sprintf("transcript: partial diarization response: got %d of 2 expected JSON blocks", len(e.Blocks))
}
