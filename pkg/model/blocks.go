package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// StripFences removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// ParseBlocks extracts every top-level JSON value from text, in order.
// Fences are stripped first, then values are decoded sequentially, skipping
// prose between them. Returns nil when text contains no valid JSON —
// callers treat that as an empty model response.
func ParseBlocks(text string) []json.RawMessage {
	text = StripFences(text)

	var blocks []json.RawMessage
	rest := text
	for {
		start := strings.IndexAny(rest, "{[")
		if start < 0 {
			break
		}
		rest = rest[start:]

		dec := json.NewDecoder(bytes.NewReader([]byte(rest)))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Not a valid value at this brace; skip past it and keep looking.
			rest = rest[1:]
			continue
		}
		blocks = append(blocks, raw)
		rest = rest[dec.InputOffset():]
	}
	return blocks
}
