package notify

import (
	"fmt"
	"sort"
	"strings"

	"visaslot-notifier/pkg/monitor"
)

// maxSMSLength caps SMS bodies; longer messages are truncated with an
// ellipsis to stay within carrier segment limits.
const maxSMSLength = 1000

var monthOrder = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// Subject builds the email subject line for a change at a target.
func Subject(target monitor.Target, event monitor.ChangeEvent) string {
	return fmt.Sprintf("Visa Slot Update - %s (%s)", target.ID, event.Country)
}

// Compose builds the notification body for a change event. The same text is
// used for email and, truncated, for SMS.
func Compose(target monitor.Target, event monitor.ChangeEvent) string {
	countryDisplay := event.Country
	if event.Flag != "" {
		countryDisplay = event.Country + " " + event.Flag
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "🔔 New visa appointment availability in %s for %s!\n\n", target.ID, countryDisplay)

	switch event.Kind {
	case monitor.KindNewCountry:
		fmt.Fprintf(&msg, "New country added with available slots: %s", slotSummary(event.Slots))
	case monitor.KindNewAvailability:
		fmt.Fprintf(&msg, "Available slots found: %s", slotSummary(event.Slots))
	case monitor.KindIncreasedAvailability:
		fmt.Fprintf(&msg, "Increased availability in %s!\nPrevious: %s → New: %s",
			event.Month, event.PreviousValue, event.NewValue)
	case monitor.KindNewSlots:
		fmt.Fprintf(&msg, "New slots available in %s: %s", event.Month, event.NewValue)
	}

	if event.EarliestAvailable != "" {
		fmt.Fprintf(&msg, "\nEarliest available date: %s", event.EarliestAvailable)
	}
	if event.BookingURL != "" {
		fmt.Fprintf(&msg, "\n\nBook now: %s", event.BookingURL)
	}
	return msg.String()
}

// SMSBody shortens a notification body to fit in an SMS.
func SMSBody(body string) string {
	runes := []rune(body)
	if len(runes) <= maxSMSLength {
		return body
	}
	return string(runes[:maxSMSLength-3]) + "..."
}

// slotSummary renders a month→count map in calendar order.
func slotSummary(slots map[string]string) string {
	months := make([]string, 0, len(slots))
	for month := range slots {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool {
		return monthOrder[months[i]] < monthOrder[months[j]]
	})

	parts := make([]string, 0, len(months))
	for _, month := range months {
		parts = append(parts, fmt.Sprintf("%s: %s", month, slots[month]))
	}
	return strings.Join(parts, ", ")
}
