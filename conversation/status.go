package conversation

// Status is the three-state presentation form of a message's delivery
// progress. Rendering consumes this enum, never the raw stored strings.
type Status int

const (
	// StatusPending covers freshly sent messages and any status value the
	// store returns that this client does not recognize. Status is cosmetic,
	// so unknown vocabulary degrades instead of failing.
	StatusPending Status = iota
	// StatusDelivered means the recipient's client has fetched the message.
	StatusDelivered
	// StatusRead means the recipient has opened the conversation.
	StatusRead
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "pending"
	}
}

// ClassifyStatus maps a raw per-message status string to its presentation
// state. An absent status and "sent" both classify as pending. This is the
// only place status vocabulary is interpreted.
func ClassifyStatus(raw string) Status {
	switch raw {
	case "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	default:
		return StatusPending
	}
}
