// Package timezone converts between UTC and the single configured local zone.
package timezone

import (
	"fmt"
	"time"

	// Zone data is embedded so legacy names like US/Pacific resolve on
	// hosts without /usr/share/zoneinfo.
	_ "time/tzdata"
)

// DefaultZone is the local zone used when none is configured.
const DefaultZone = "US/Pacific"

// Converter maps instants between UTC and one local zone. It is safe for
// concurrent use.
type Converter struct {
	loc *time.Location
}

// New loads the named IANA zone.
func New(name string) (*Converter, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Converter{loc: loc}, nil
}

// FromLocation wraps an already loaded location.
func FromLocation(loc *time.Location) *Converter {
	if loc == nil {
		loc = time.UTC
	}
	return &Converter{loc: loc}
}

// Location returns the local zone.
func (c *Converter) Location() *time.Location {
	return c.loc
}

// ToLocal returns t expressed in the local zone.
func (c *Converter) ToLocal(t time.Time) time.Time {
	return t.In(c.loc)
}

// ToUTC returns t expressed in UTC.
func (c *Converter) ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Wall builds the instant for a local wall-clock reading. Readings that fall
// in a DST gap or overlap resolve as time.Date does.
func (c *Converter) Wall(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, c.loc)
}

// Clock reports the current time in UTC and in the local zone.
type Clock struct {
	conv *Converter
	now  func() time.Time
}

// NewClock returns a Clock reading now. A nil now uses time.Now.
func NewClock(conv *Converter, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{conv: conv, now: now}
}

// UTCNow returns the current instant in UTC.
func (c *Clock) UTCNow() time.Time {
	return c.now().UTC()
}

// LocalNow returns the current instant in the local zone.
func (c *Clock) LocalNow() time.Time {
	return c.conv.ToLocal(c.now())
}
