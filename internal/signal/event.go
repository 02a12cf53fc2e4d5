package signal

import "fmt"

// Event is a notification raised for a signal or group.
type Event uint8

const (
	// EventAccepted follows a commit to long-term storage.
	EventAccepted Event = iota
	// EventInvalid follows a received invalid value whose action is notify.
	EventInvalid
	// EventReplaced follows an invalid value replaced by its substitute.
	EventReplaced
	// EventTimeout follows a timeout substitution.
	EventTimeout
)

var eventNames = [...]string{
	EventAccepted: "accepted",
	EventInvalid:  "invalid",
	EventReplaced: "replaced",
	EventTimeout:  "timeout",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// Notifier receives fire-and-forget notifications. Implementations must not
// block; they may batch.
type Notifier interface {
	Notify(ref Ref, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ref Ref, ev Event)

func (f NotifierFunc) Notify(ref Ref, ev Event) { f(ref, ev) }
