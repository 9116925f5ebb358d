package shared

import "fmt"

// Direction represents the directional lean of price relative to a reference.
type Direction int

const (
	Neutral Direction = iota
	Up
	Down
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Neutral:
		return "NEUTRAL"
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "unknown"
	}
}

// Opposite returns the opposing direction. Neutral has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	default:
		return Neutral
	}
}

// Sign returns 1 for up, -1 for down and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Up:
		return 1
	case Down:
		return -1
	default:
		return 0
	}
}

// ParseDirection parses the provided stringified direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "NEUTRAL":
		return Neutral, nil
	case "UP":
		return Up, nil
	case "DOWN":
		return Down, nil
	default:
		return Neutral, fmt.Errorf("unknown direction '%s'", s)
	}
}

// ClassifyMove returns the direction of the move from reference to price. Moves within
// bandPercent percent of the reference are neutral.
func ClassifyMove(reference float64, price float64, bandPercent float64) Direction {
	if reference == 0 {
		return Neutral
	}

	change := ((price - reference) / reference) * 100
	switch {
	case change > bandPercent:
		return Up
	case change < -bandPercent:
		return Down
	default:
		return Neutral
	}
}
