package models

// Outcome is the acknowledgement reported back to the transport for one
// inbound message. There is no permanent-failure outcome: anything that is
// not completed is redelivered.
type Outcome int

const (
	// Completed removes the message from the input.
	Completed Outcome = iota + 1
	// Abandoned asks the transport to deliver the message again.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
