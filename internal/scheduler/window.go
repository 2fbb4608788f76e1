package scheduler

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrEmptyWindow is returned when a window's bounds are unset.
	ErrEmptyWindow = errors.New("scheduler: start and end are required")
	// ErrInvertedWindow is returned when a window does not end strictly after it starts.
	ErrInvertedWindow = errors.New("scheduler: end must be after start")
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow builds a validated window.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate reports whether the window has both bounds and a positive length.
func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return ErrEmptyWindow
	}
	if !w.End.After(w.Start) {
		return ErrInvertedWindow
	}
	return nil
}

// Overlaps reports whether two windows intersect. Windows that only touch
// (one ends exactly when the other starts) do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether other lies entirely within w.
func (w TimeWindow) Contains(other TimeWindow) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// UTC returns the window with both bounds converted to UTC.
func (w TimeWindow) UTC() TimeWindow {
	return TimeWindow{Start: w.Start.UTC(), End: w.End.UTC()}
}

// Booking is a window held by an identified reservation in a single room.
type Booking struct {
	ID     string
	Window TimeWindow
}

// Conflict details an existing booking that intersects a candidate window.
type Conflict struct {
	WithBookingID string
	Window        TimeWindow
}

// DetectConflicts returns every existing booking that overlaps candidate,
// ordered by start. A booking whose ID equals excludeID is ignored so that a
// reservation can be moved without colliding with itself.
func DetectConflicts(existing []Booking, candidate TimeWindow, excludeID string) []Conflict {
	var conflicts []Conflict
	for _, b := range existing {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if b.Window.Overlaps(candidate) {
			conflicts = append(conflicts, Conflict{WithBookingID: b.ID, Window: b.Window})
		}
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Window.Start.Before(conflicts[j].Window.Start)
	})
	return conflicts
}

// FirstConflict returns the earliest overlapping booking, if any.
func FirstConflict(existing []Booking, candidate TimeWindow, excludeID string) (Conflict, bool) {
	conflicts := DetectConflicts(existing, candidate, excludeID)
	if len(conflicts) == 0 {
		return Conflict{}, false
	}
	return conflicts[0], true
}

// FreeWindows returns the gaps inside within that no busy window covers.
// Busy windows may be unsorted and may overlap each other.
func FreeWindows(within TimeWindow, busy []TimeWindow) []TimeWindow {
	if within.Validate() != nil {
		return nil
	}

	sorted := make([]TimeWindow, 0, len(busy))
	for _, b := range busy {
		if b.Overlaps(within) {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var free []TimeWindow
	cursor := within.Start
	for _, b := range sorted {
		if b.Start.After(cursor) {
			free = append(free, TimeWindow{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(within.End) {
			return free
		}
	}
	if cursor.Before(within.End) {
		free = append(free, TimeWindow{Start: cursor, End: within.End})
	}
	return free
}
