package monitor

import (
	"strconv"
	"strings"
	"time"
)

// TrackedWindowSize is the number of months slot counts are tracked for.
// The window rolls forward with the current month and is identical across
// all targets within a run.
const TrackedWindowSize = 3

// TrackedMonths returns the month codes tracked for a run starting at now:
// the current month plus the following months, as 3-letter uppercase codes
// in chronological order ("MAY", "JUN", "JUL").
func TrackedMonths(now time.Time) []string {
	months := make([]string, 0, TrackedWindowSize)
	for i := 0; i < TrackedWindowSize; i++ {
		// Anchor on the first of the month so end-of-month dates don't skip.
		m := time.Date(now.Year(), now.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		months = append(months, strings.ToUpper(m.Format("Jan")))
	}
	return months
}

// ParseSlotCount converts a slot count string to a number for comparison.
// nil and "0" both mean zero; "<digits>" or "<digits>+" mean at least that
// many. Anything unparseable counts as zero.
func ParseSlotCount(v *string) int {
	if v == nil {
		return 0
	}
	s := strings.TrimSuffix(strings.TrimSpace(*v), "+")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HasAvailability reports whether any tracked slot value is present and
// non-zero.
func (c CountryAvailability) HasAvailability() bool {
	for _, v := range c.Slots {
		if ParseSlotCount(v) > 0 {
			return true
		}
	}
	return false
}

// AvailableSlots returns the subset of slots with a non-zero count, keyed
// by month code, for summarizing in notifications.
func (c CountryAvailability) AvailableSlots() map[string]string {
	out := make(map[string]string)
	for month, v := range c.Slots {
		if ParseSlotCount(v) > 0 {
			out[month] = *v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
