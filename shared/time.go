package shared

import (
	"fmt"
	"time"
)

const (
	// NewYorkLocation is the location name of the exchange clock.
	NewYorkLocation = "America/New_York"
)

// NewYorkTime returns the current time in new york (EST/EDT adjusted automatically).
func NewYorkTime() (time.Time, *time.Location, error) {
	loc, err := time.LoadLocation(NewYorkLocation)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("loading new york timezone: %w", err)
	}

	now := time.Now().In(loc)
	return now, loc, nil
}

// HourStart returns the start of the UTC hour the provided time falls in.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
