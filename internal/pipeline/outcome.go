package pipeline

import (
	"fmt"

	"example.com/sigrx/internal/signal"
)

// Outcome is the terminal state a signal or group reached for one frame.
type Outcome uint8

const (
	Committed Outcome = iota
	DiscardedInvalid
	DiscardedFiltered
	SkippedNotUpdated
	// Faulted means a contract violation was reported and nothing was
	// committed.
	Faulted
)

var outcomeNames = [...]string{
	Committed:         "committed",
	DiscardedInvalid:  "discarded_invalid",
	DiscardedFiltered: "discarded_filtered",
	SkippedNotUpdated: "skipped_not_updated",
	Faulted:           "faulted",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Outcomes lists every outcome in order, for counters and reports.
func Outcomes() []Outcome {
	return []Outcome{Committed, DiscardedInvalid, DiscardedFiltered, SkippedNotUpdated, Faulted}
}

// Result is the outcome of one signal or group of a PDU.
type Result struct {
	Ref     signal.Ref
	Outcome Outcome
}
