package clock

import (
	"errors"
	"time"
)

var (
	ErrSlotInPast  = errors.New("requested slot is in the past")
	ErrSlotTooSoon = errors.New("requested slot is below the minimum lead time")
)

// Clock supplies current time so services can be tested against a fixed one.
type Clock interface {
	Now() time.Time
}

type clinicClock struct {
	loc *time.Location
}

// NewClinicClock returns a Clock reporting wall time in the clinic's location.
func NewClinicClock(loc *time.Location) Clock {
	return &clinicClock{loc: loc}
}

func (c *clinicClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// NormalizeSlot pins a requested timestamp to the clinic's civil calendar at
// minute precision. Slot identity is the (doctor, civil minute) pair, so
// seconds and sub-seconds never participate in conflict checks.
func NormalizeSlot(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// ValidateLead rejects slots that are not strictly beyond now + minLead.
func ValidateLead(now, scheduledFor time.Time, minLead time.Duration) error {
	if !scheduledFor.After(now) {
		return ErrSlotInPast
	}
	if !scheduledFor.After(now.Add(minLead)) {
		return ErrSlotTooSoon
	}
	return nil
}
