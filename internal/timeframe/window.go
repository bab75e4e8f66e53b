package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDateFormat is returned when non-empty date text matches none of
// the accepted input formats.
var ErrInvalidDateFormat = errors.New("invalid date format")

// inputFormats are tried in order; the first match wins.
var inputFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006.01.02",
	"2006.01.02 15:04",
	"2006.01.02 15:04:05",
}

// Window is the inclusive [Start, End] interval bounding an extraction run.
// Both bounds are UTC and Start <= End always holds.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf(
		"%v - %v",
		w.Start.Format("2006-01-02 15:04:05"),
		w.End.Format("2006-01-02 15:04:05"),
	)
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func parseBound(raw string) (time.Time, error) {
	for _, format := range inputFormats {
		if t, err := time.ParseInLocation(format, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
}

// Resolve normalizes raw user-supplied bounds into a Window. An empty start
// defaults to today at 00:00 UTC, an empty end to now. Bounds given in the
// wrong order are swapped rather than rejected.
func Resolve(startRaw string, endRaw string, now time.Time) (Window, error) {
	now = now.UTC()
	start := now.Truncate(24 * time.Hour)
	end := now
	var err error
	if startRaw != "" {
		if start, err = parseBound(startRaw); err != nil {
			return Window{}, err
		}
	}
	if endRaw != "" {
		if end, err = parseBound(endRaw); err != nil {
			return Window{}, err
		}
	}
	if start.After(end) {
		start, end = end, start
	}
	return Window{Start: start, End: end}, nil
}
