// Package sendtime turns a launch date plus per-user delays into the absolute
// instant a campaign is scheduled for.
package sendtime

import (
	"fmt"
	"math"
	"time"
	_ "time/tzdata" // reference zone must resolve on scratch images

	"launchsched/internal/domain"
)

// DefaultZone is the reference zone delay times are expressed in.
const DefaultZone = "America/Los_Angeles"

const defaultHour = 10

type Resolver struct {
	loc *time.Location
}

func NewResolver(zone string) (*Resolver, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load reference zone %q: %w", zone, err)
	}
	return &Resolver{loc: loc}, nil
}

// MustResolver is NewResolver for zones known at compile time.
func MustResolver(zone string) *Resolver {
	r, err := NewResolver(zone)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve returns the UTC instant for the launch date's calendar day, moved
// forward delayDays calendar days, at the delay time's wall clock in the
// reference zone (10:00 when absent).
//
// Days are added to the calendar date, so a delay that crosses a DST change
// keeps the same local wall-clock hour. A wall clock that falls inside a
// spring-forward gap is normalised by time.Date.
func (r *Resolver) Resolve(launchDate time.Time, delayDays int, delay DelayTime) (time.Time, error) {
	if delayDays < 0 {
		return time.Time{}, domain.ValidationError("delay days must be >= 0, got %d", delayDays)
	}
	y, m, d := launchDate.UTC().Date()

	hour, minute := defaultHour, 0
	if delay.Present() {
		hour, minute = delay.Clock()
	}
	local := time.Date(y, m, d+delayDays, hour, minute, 0, 0, r.loc)
	return local.UTC(), nil
}

// ResolveUser validates the raw store fields of u and resolves its send time.
func (r *Resolver) ResolveUser(launchDate time.Time, u domain.UserRecord) (time.Time, error) {
	days, err := ParseDelayDays(u.DelayDays)
	if err != nil {
		return time.Time{}, err
	}
	delay, err := ParseDelayTime(u.DelayTime)
	if err != nil {
		return time.Time{}, err
	}
	return r.Resolve(launchDate, days, delay)
}

// Offset is the whole-hour difference between UTC and the reference zone at t
// (7 during PDT, 8 during PST).
func (r *Resolver) Offset(t time.Time) int {
	_, secs := t.In(r.loc).Zone()
	return int(math.Round(float64(-secs) / 3600))
}

// Format renders t in the fixed-offset form the provider accepts.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
