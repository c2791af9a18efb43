package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

// SendWindow limits sends to business hours in the contact's local time.
// The zero value places no limit.
type SendWindow struct {
	StartHour    int
	EndHour      int
	SkipWeekends bool
}

func (w SendWindow) Enabled() bool {
	return w.hasHours() || w.SkipWeekends
}

func (w SendWindow) hasHours() bool {
	return w.StartHour != 0 || w.EndHour != 0
}

func (w SendWindow) Validate() error {
	if !w.hasHours() {
		return nil
	}
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("%w: send window %02d-%02d needs 0 <= start < end <= 24", ErrValidation, w.StartHour, w.EndHour)
	}
	return nil
}

// Open reports whether at falls inside the window as seen from loc.
func (w SendWindow) Open(at time.Time, loc *time.Location) bool {
	local := at.In(loc)
	if w.SkipWeekends {
		if day := local.Weekday(); day == time.Saturday || day == time.Sunday {
			return false
		}
	}
	if !w.hasHours() {
		return true
	}
	return local.Hour() >= w.StartHour && local.Hour() < w.EndHour
}

// NextOpen returns at if the window is open then, otherwise the next
// opening in loc.
func (w SendWindow) NextOpen(at time.Time, loc *time.Location) time.Time {
	if w.Open(at, loc) {
		return at
	}

	local := at.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	for i := 0; i < 7 && !w.Open(next, loc); i++ {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, w.StartHour, 0, 0, 0, loc)
	}
	return next
}

var zones sync.Map

// LoadZone resolves an IANA zone name, falling back to UTC for empty or
// unknown names. Lookups are cached.
func LoadZone(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	zones.Store(name, loc)
	return loc
}
