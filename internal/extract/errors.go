package extract

import (
	"encoding/json"
	"fmt"
)

// MalformedOutputError reports that the model produced output that did not
// conform to the instruction schema. The raw blocks are preserved for
// diagnostics but are never trusted for merging — the engine returns the
// prior instruction list unchanged alongside this error.
type MalformedOutputError struct {
	// Blocks holds the raw JSON blocks that failed to decode.
	Blocks []json.RawMessage
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("extract: model output did not conform to the instruction schema (%d blocks)", len(e.Blocks))
}
