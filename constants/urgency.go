package constants

// UrgencyClass is the coarse clinical priority bucket for a follow-up task.
type UrgencyClass string

// Stable values (store these exact strings in DB and exports).
const (
	UrgencyCritical      UrgencyClass = "CRITICAL"
	UrgencyHigh          UrgencyClass = "HIGH"
	UrgencyRoutine       UrgencyClass = "ROUTINE"
	UrgencyIncidentalLow UrgencyClass = "INCIDENTAL_LOW"
)

var urgencyRank = map[UrgencyClass]int{
	UrgencyIncidentalLow: 1,
	UrgencyRoutine:       2,
	UrgencyHigh:          3,
	UrgencyCritical:      4,
}

// UrgencyRank orders urgency classes; higher means more urgent. Unknown
// classes rank below IncidentalLow so they never win a merge.
func UrgencyRank(u UrgencyClass) int {
	return urgencyRank[u]
}

// UrgencyBaseScore is the base risk score per urgency class. The gaps are
// wider than the confidence adjustment span, so the final score stays
// strictly ordered by urgency at any fixed confidence.
func UrgencyBaseScore(u UrgencyClass) float64 {
	switch u {
	case UrgencyCritical:
		return 0.90
	case UrgencyHigh:
		return 0.70
	case UrgencyRoutine:
		return 0.45
	default:
		return 0.20
	}
}

// ParseUrgency maps free-text priority labels (including the model's
// high/medium/low vocabulary) onto an UrgencyClass.
func ParseUrgency(s string) (UrgencyClass, bool) {
	switch normalizeToken(s) {
	case "critical", "stat":
		return UrgencyCritical, true
	case "high", "urgent":
		return UrgencyHigh, true
	case "routine", "medium", "moderate":
		return UrgencyRoutine, true
	case "incidental_low", "incidental-low", "incidental", "low":
		return UrgencyIncidentalLow, true
	}
	return UrgencyRoutine, false
}
