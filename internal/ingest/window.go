package ingest

import (
	"time"
)

// civilZoneFallback is used when the host has no tzdata for the configured zone.
var civilZoneFallback = time.FixedZone("CST", 8*60*60)

// LoadZone resolves the civil zone "today" is anchored to. The host's local
// zone is never used, so day boundaries do not depend on where the job runs.
func LoadZone(name string) *time.Location {
	if name == "" {
		return civilZoneFallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return civilZoneFallback
	}
	return loc
}

// Today truncates now to midnight in zone.
func Today(now time.Time, zone *time.Location) time.Time {
	local := now.In(zone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
}

// Window is a range of civil days.
type Window struct {
	Start time.Time
	End   time.Time
	// EndInclusive is false for half-open windows.
	EndInclusive bool
}

// ForwardWindow is [today, today+days], inclusive on both ends. Used for upcoming bid openings.
func ForwardWindow(today time.Time, days int) Window {
	return Window{Start: today, End: today.AddDate(0, 0, days), EndInclusive: true}
}

// BackwardWindow is [today-days, today), excluding today. Used for recently published bulletins.
func BackwardWindow(today time.Time, days int) Window {
	return Window{Start: today.AddDate(0, 0, -days), End: today, EndInclusive: false}
}

// Contains compares civil dates; d is expected at midnight in the window's zone.
func (w Window) Contains(d time.Time) bool {
	if d.Before(w.Start) {
		return false
	}
	if w.EndInclusive {
		return !d.After(w.End)
	}
	return d.Before(w.End)
}

// ContainsDate checks a normalized YYYY-MM-DD value; nil or invalid dates are outside every window.
func (w Window) ContainsDate(date *string) bool {
	if date == nil {
		return false
	}
	d, ok := ParseDate(*date, w.Start.Location())
	if !ok {
		return false
	}
	return w.Contains(d)
}
