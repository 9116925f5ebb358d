package shared

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestDirection(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		str       string
		opposite  Direction
		sign      float64
	}{
		{"up", Up, "UP", Down, 1},
		{"down", Down, "DOWN", Up, -1},
		{"neutral", Neutral, "NEUTRAL", Neutral, 0},
	}

	for _, test := range tests {
		assert.Equal(t, test.direction.String(), test.str)
		assert.Equal(t, test.direction.Opposite(), test.opposite)
		assert.Equal(t, test.direction.Sign(), test.sign)

		parsed, err := ParseDirection(test.str)
		assert.NoError(t, err)
		assert.Equal(t, parsed, test.direction)
	}

	// Ensure unknown directions cannot be parsed.
	_, err := ParseDirection("SIDEWAYS")
	assert.Error(t, err)
	assert.Equal(t, Direction(999).String(), "unknown")
}

func TestClassifyMove(t *testing.T) {
	tests := []struct {
		name      string
		reference float64
		price     float64
		band      float64
		want      Direction
	}{
		{"up beyond band", 100, 105, 0.1, Up},
		{"down beyond band", 100, 95, 0.1, Down},
		{"inside band above", 100, 100.05, 0.1, Neutral},
		{"inside band below", 100, 99.95, 0.1, Neutral},
		{"unchanged", 100, 100, 0.1, Neutral},
		{"zero reference", 0, 100, 0.1, Neutral},
	}

	for _, test := range tests {
		got := ClassifyMove(test.reference, test.price, test.band)
		if got != test.want {
			t.Errorf("%s: expected %s, got %s", test.name, test.want, got)
		}
	}
}
