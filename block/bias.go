package block

import (
	"fmt"
	"math"

	"github.com/dnldd/blockcast/shared"
)

// Flat is the direction of an early bias without a significant lean.
const Flat = shared.Neutral

// BiasSignal represents the directional lean derived from the first two blocks of the hour.
type BiasSignal struct {
	Direction shared.Direction
	// Displacement is the signed percent move from the reference open to the close of block 1.
	Displacement float64
	// Strength is the volatility adjusted magnitude of the displacement.
	Strength float64
}

// percentChange returns the signed percent change from reference to price.
func percentChange(reference float64, price float64) float64 {
	return ((price - reference) / reference) * 100
}

// AnalyzeBias derives the early bias of the provided window. The displacement is flat unless it
// exceeds the epsilon band scaled by the normalization factor.
func AnalyzeBias(window *HourWindow, vol *VolatilityProfile, epsilonPercent float64) (BiasSignal, error) {
	if window.ReferenceOpen <= 0 {
		return BiasSignal{}, fmt.Errorf("invalid reference open %f: %w", window.ReferenceOpen, shared.ErrInvalidInput)
	}

	close, ok := window.Blocks[1].Close()
	if !ok {
		return BiasSignal{}, fmt.Errorf("no block 1 close for %s: %w", window.Ticker, shared.ErrInsufficientData)
	}

	displacement := percentChange(window.ReferenceOpen, close)
	signal := BiasSignal{
		Displacement: displacement,
		Strength:     vol.Normalize(math.Abs(displacement)),
		Direction:    Flat,
	}

	band := epsilonPercent * vol.Factor
	switch {
	case displacement > band:
		signal.Direction = shared.Up
	case displacement < -band:
		signal.Direction = shared.Down
	}

	return signal, nil
}
