// Package detect compares availability snapshots and produces change
// events for the notification pipeline.
package detect

import (
	"visaslot-notifier/pkg/monitor"
)

// Detect diffs current against previous and returns the changes worth
// notifying about, in the order countries appear in the current snapshot.
//
// A nil previous (new target) and a country absent from previous are both
// reported as a single new_country event summarizing every available slot.
// Otherwise the tracked months are scanned in chronological order and the
// first month whose count grew yields exactly one increased_availability
// event for that country; the scan then stops, so a country produces at
// most one event per cycle. Countries dropping off the available list
// produce no events.
//
// months is the tracked window for the run, in canonical (chronological)
// order. Snapshots with Error set must not be passed here.
func Detect(target monitor.Target, current *monitor.Snapshot, previous *monitor.Snapshot, months []string) []monitor.ChangeEvent {
	if current == nil {
		return nil
	}

	var events []monitor.ChangeEvent
	for i := range current.Countries {
		country := &current.Countries[i]
		if country.Name == "" {
			continue
		}

		var prevCountry *monitor.CountryAvailability
		if previous != nil {
			prevCountry = previous.Country(country.Name)
		}

		if prevCountry == nil {
			if ev, ok := newCountryEvent(target, country); ok {
				events = append(events, ev)
			}
			continue
		}

		if ev, ok := increaseEvent(target, country, prevCountry, months); ok {
			events = append(events, ev)
		}
	}
	return events
}

// newCountryEvent summarizes all available slots for a country not seen
// before. No event when the country has nothing bookable.
func newCountryEvent(target monitor.Target, c *monitor.CountryAvailability) (monitor.ChangeEvent, bool) {
	slots := c.AvailableSlots()
	if len(slots) == 0 {
		return monitor.ChangeEvent{}, false
	}
	return monitor.ChangeEvent{
		TargetID:          target.ID,
		Country:           c.Name,
		Flag:              c.Flag,
		Kind:              monitor.KindNewCountry,
		Slots:             slots,
		EarliestAvailable: c.EarliestAvailable,
		BookingURL:        c.BookingURL,
	}, true
}

// increaseEvent scans the tracked months in order and reports the first
// month whose slot count grew since the previous snapshot.
func increaseEvent(target monitor.Target, cur, prev *monitor.CountryAvailability, months []string) (monitor.ChangeEvent, bool) {
	for _, month := range months {
		curVal := monitor.ParseSlotCount(cur.Slots[month])
		prevVal := monitor.ParseSlotCount(prev.Slots[month])
		if curVal <= prevVal {
			continue
		}
		return monitor.ChangeEvent{
			TargetID:          target.ID,
			Country:           cur.Name,
			Flag:              cur.Flag,
			Kind:              monitor.KindIncreasedAvailability,
			Month:             month,
			PreviousValue:     slotDisplay(prev.Slots[month]),
			NewValue:          slotDisplay(cur.Slots[month]),
			EarliestAvailable: cur.EarliestAvailable,
			BookingURL:        cur.BookingURL,
		}, true
	}
	return monitor.ChangeEvent{}, false
}

func slotDisplay(v *string) string {
	if v == nil {
		return "0"
	}
	return *v
}
