// Package monitor contains the core domain types for the visa slot
// notification service.
package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Target is one monitored city page. Targets are configured once at
// startup and never mutated at runtime.
type Target struct {
	ID      string `json:"id"`      // City name, e.g. "Toronto"
	Country string `json:"country"` // Parent grouping for reporting only
	URL     string `json:"url"`     // Canonical availability page URL
}

// TargetURL derives the canonical availability page URL for a city.
func TargetURL(baseURL, city string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(city), " ", "-"))
	return fmt.Sprintf("%s/in/%s/tourism", strings.TrimSuffix(baseURL, "/"), slug)
}

// CountryAvailability is one row of a snapshot: availability for a single
// destination country at the snapshot's city.
type CountryAvailability struct {
	Name              string             `json:"country"`
	Flag              string             `json:"flag"` // Display only, may be empty
	EarliestAvailable string             `json:"earliest_available,omitempty"`
	BookingURL        string             `json:"url"`
	// Slots maps a 3-letter uppercase month code to a slot count string.
	// A nil value means "no data", "0" means none available, and
	// "<digits>" or "<digits>+" means at least that many.
	Slots map[string]*string `json:"slots"`
}

// Snapshot is the normalized result of checking one target at one instant.
type Snapshot struct {
	TargetID    string                `json:"target_id"`
	Countries   []CountryAvailability `json:"countries"`
	Unavailable []string              `json:"temporarily_unavailable"`
	CapturedAt  time.Time             `json:"timestamp"`
	// Error marks a failed check. Error snapshots are persisted to keep
	// history contiguous but are never diffed against.
	Error string `json:"error,omitempty"`
}

// ErrorSnapshot builds the minimal snapshot recorded for a failed check.
func ErrorSnapshot(target Target, err error, at time.Time) *Snapshot {
	return &Snapshot{
		TargetID:   target.ID,
		CapturedAt: at,
		Error:      err.Error(),
	}
}

// Country returns the availability row for the named country, or nil.
func (s *Snapshot) Country(name string) *CountryAvailability {
	for i := range s.Countries {
		if s.Countries[i].Name == name {
			return &s.Countries[i]
		}
	}
	return nil
}

// ChangeKind classifies a detected availability change.
type ChangeKind string

const (
	// KindNewCountry is a country appearing with available slots, either
	// because the target is new or the country was absent last time.
	KindNewCountry ChangeKind = "new_country"
	// KindNewAvailability is retained for wire compatibility with older
	// stored notifications; the detector emits KindNewCountry instead.
	KindNewAvailability ChangeKind = "new_availability"
	// KindIncreasedAvailability is a month whose slot count grew.
	KindIncreasedAvailability ChangeKind = "increased_availability"
	// KindNewSlots is retained for wire compatibility; a transition from
	// zero is reported as KindIncreasedAvailability.
	KindNewSlots ChangeKind = "new_slots"
)

// ChangeEvent is a detected improvement in availability, the unit of
// notification. Events are transient: consumed by the dispatcher or
// discarded, never persisted on their own.
type ChangeEvent struct {
	TargetID          string            `json:"target_id"`
	Country           string            `json:"country"`
	Flag              string            `json:"flag,omitempty"`
	Kind              ChangeKind        `json:"kind"`
	Month             string            `json:"month,omitempty"`
	PreviousValue     string            `json:"previous_value,omitempty"`
	NewValue          string            `json:"new_value,omitempty"`
	// Slots summarizes all available slots for KindNewCountry events.
	Slots             map[string]string `json:"slots,omitempty"`
	EarliestAvailable string            `json:"earliest_available,omitempty"`
	BookingURL        string            `json:"booking_url"`
}

// Subscriber is a read-only record from the store's backing data.
type Subscriber struct {
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	TargetID  string    `json:"target_id"`
	Country   string    `json:"country,omitempty"` // Empty watches all countries
	Plan      string    `json:"plan"`
	StartedAt time.Time `json:"started_at"`
}

// PlanDuration maps a subscription plan code to its window length. The
// second return is false for unrecognized plan codes.
func PlanDuration(plan string) (time.Duration, bool) {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "weekly":
		return 7 * 24 * time.Hour, true
	case "monthly":
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ActiveAt reports whether the subscription window covers t. Unrecognized
// plan codes fail closed.
func (s Subscriber) ActiveAt(t time.Time) bool {
	d, ok := PlanDuration(s.Plan)
	if !ok {
		return false
	}
	if t.Before(s.StartedAt) {
		return false
	}
	return t.Before(s.StartedAt.Add(d))
}
