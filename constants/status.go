package constants

// TaskStatus is the canonical lifecycle status for a follow-up task.
type TaskStatus string

// Stable values (store these exact strings in DB).
const (
	StatusOpen         TaskStatus = "OPEN"
	StatusAcknowledged TaskStatus = "ACKNOWLEDGED"
	StatusClosed       TaskStatus = "CLOSED" // terminal; closing never deletes
)

// ValidTransition reports whether from -> to is allowed by the status
// state machine: Open -> Acknowledged -> Closed, or Open -> Closed.
func ValidTransition(from, to TaskStatus) bool {
	switch from {
	case StatusOpen:
		return to == StatusAcknowledged || to == StatusClosed
	case StatusAcknowledged:
		return to == StatusClosed
	default:
		return false
	}
}

// ParseStatus accepts the stable values plus common lowercase user input.
func ParseStatus(s string) (TaskStatus, bool) {
	switch normalizeToken(s) {
	case "open":
		return StatusOpen, true
	case "acknowledged", "ack", "acked":
		return StatusAcknowledged, true
	case "closed", "done", "resolved":
		return StatusClosed, true
	}
	return "", false
}
