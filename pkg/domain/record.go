package domain

import "time"

// Record is one committed command in the journal.
// Records are written once and never modified.
type Record struct {
	// Seq is the 1-based position in the journal. Strictly increasing and gap-free.
	Seq uint64 `json:"seq"`

	// Command is the registered transaction name.
	Command string `json:"command"`

	// Args is the argument bag the command was executed with.
	Args Args `json:"args,omitempty"`

	// IDs lists every id allocated while the handler ran, in allocation order.
	// Replay must allocate exactly the same ids.
	IDs []Allocation `json:"ids,omitempty"`

	// Timestamp is taken once when the command is executed and reused on replay.
	Timestamp time.Time `json:"ts"`
}
