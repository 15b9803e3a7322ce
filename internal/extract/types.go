// Package extract implements incremental, schema-constrained instruction
// extraction with identity continuity.
//
// The [Engine] takes the newest transcript increment plus the list of
// previously known instructions and returns the updated list. The
// instruction-kind enum offered to the model is derived at call time from
// the currently available capabilities only, so an unavailable kind can
// never appear as an extraction target. A single bounded self-correction
// pass re-submits the first response together with capability constraints
// when any matched capability declares them; the second response is
// accepted unconditionally as final.
package extract

// Instruction is an identity-stable unit of clinically relevant
// information extracted from the transcript, destined to become a
// structured host command.
//
// The uuid is assigned once, at first detection, and preserved verbatim on
// every later re-extraction that still refers to the same real-world
// instruction. Exactly one instruction exists per uuid at any time; the
// latest revision wins and no history is retained at this layer.
type Instruction struct {
	// UUID is the stable identity of this instruction.
	UUID string `json:"uuid"`

	// Kind names the capability that handles this instruction. Always one
	// of the kinds that were available during the extracting pass.
	Kind string `json:"kind"`

	// Information is the free-text grounding extracted from the transcript,
	// without embellishment or omission.
	Information string `json:"information"`

	// IsNew is true only the first time this uuid appears in output.
	IsNew bool `json:"is_new"`

	// IsUpdated is true when a previously seen uuid's information changed
	// in this pass.
	IsUpdated bool `json:"is_updated"`
}
