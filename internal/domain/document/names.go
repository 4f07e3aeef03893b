package document

import (
	"strings"
)

// NormalizeName collapses internal whitespace and trims every dash-separated
// segment, so "Chest  X - ray " becomes "Chest X-ray". It is idempotent.
func NormalizeName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	if !strings.Contains(collapsed, "-") {
		return collapsed
	}

	segments := strings.Split(collapsed, "-")
	for i, segment := range segments {
		segments[i] = strings.TrimSpace(segment)
	}
	return strings.Join(segments, "-")
}

// WaitingPeriodKey builds the composite key a waiting period is merged under.
func WaitingPeriodKey(facility, procedureCode string) string {
	return facility + "|" + procedureCode
}
