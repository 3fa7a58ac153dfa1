// Package clock supplies the current instant and the local calendar day used
// for quota windows and subscription expiry. Services receive a Clock through
// their constructors so time-dependent behavior stays deterministic in tests.
package clock

import (
	"sync"
	"time"
)

// DayLayout is the stored form of a quota day.
const DayLayout = "2006-01-02"

// Clock is the time source consumed by the engine.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time
	// Today returns the local calendar date of Now in DayLayout form.
	Today() string
}

// System reads the wall clock. Loc defines where local midnight falls; nil
// means time.Local.
type System struct {
	Loc *time.Location
}

// NewSystem returns a wall clock bound to loc.
func NewSystem(loc *time.Location) System {
	return System{Loc: loc}
}

func (s System) Now() time.Time { return time.Now().UTC() }

func (s System) Today() string { return DayOf(s.Now(), s.Loc) }

// DayOf formats t as a calendar date in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}

// Fake is a manually driven Clock for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFake returns a Fake frozen at start. A nil loc means UTC.
func NewFake(start time.Time, loc *time.Location) *Fake {
	if loc == nil {
		loc = time.UTC
	}
	return &Fake{now: start.UTC(), loc: loc}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Today() string {
	return DayOf(f.Now(), f.loc)
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
