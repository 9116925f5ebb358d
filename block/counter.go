package block

import (
	"fmt"
	"time"

	"github.com/dnldd/blockcast/shared"
)

const (
	// counterStart is the first block analyzed for sustained counter movement.
	counterStart = 2
	// counterBlocks is the number of blocks analyzed for sustained counter movement.
	counterBlocks = 3
	// minPatternBlocks is the minimum number of consistent blocks required to classify a
	// directional pattern.
	minPatternBlocks = 2
)

// Pattern represents how the early bias evolves through the middle of the hour.
type Pattern int

const (
	Continuation Pattern = iota
	Reversal
	Choppy
)

// String stringifies the provided pattern.
func (p Pattern) String() string {
	switch p {
	case Continuation:
		return "CONTINUATION"
	case Reversal:
		return "REVERSAL"
	case Choppy:
		return "CHOPPY"
	default:
		return "unknown"
	}
}

// Alignment represents the position of a block close relative to the reference direction.
type Alignment int

const (
	Aligned Alignment = iota
	Opposed
	Unaligned
)

// String stringifies the provided alignment.
func (a Alignment) String() string {
	switch a {
	case Aligned:
		return "aligned"
	case Opposed:
		return "opposed"
	case Unaligned:
		return "unaligned"
	default:
		return "unknown"
	}
}

// CounterSignal represents the classification of blocks 2 through 4 relative to the early bias.
type CounterSignal struct {
	Pattern Pattern
	// Direction is the direction the mid hour movement sustains. It is flat for choppy hours.
	Direction shared.Direction
	// Strength is the fraction of the analyzed blocks consistent with the pattern.
	Strength   float64
	Consistent int
	Alignments [counterBlocks]Alignment
	// CrossedAt is when price last crossed through the reference open against the early bias.
	// It is zero if no such crossing happened.
	CrossedAt time.Time
}

// align returns the alignment of the provided normalized displacement.
func align(direction shared.Direction, normalized float64, band float64) Alignment {
	moved := direction.Sign() * normalized
	switch {
	case direction == Flat:
		return Unaligned
	case moved > band:
		return Aligned
	case moved < -band:
		return Opposed
	default:
		return Unaligned
	}
}

// lastCrossing returns when price last crossed from the bias side of the reference open to the
// opposing side in the analyzed blocks.
func lastCrossing(window *HourWindow, direction shared.Direction) time.Time {
	var crossedAt time.Time
	if direction == Flat {
		return crossedAt
	}

	prev, _ := window.Blocks[counterStart-1].Close()
	for idx := counterStart; idx < counterStart+counterBlocks; idx++ {
		candles := window.Blocks[idx].Candles
		for cdx := range candles {
			close := candles[cdx].Close
			wasOpposed := direction.Sign()*(prev-window.ReferenceOpen) < 0
			isOpposed := direction.Sign()*(close-window.ReferenceOpen) < 0
			if isOpposed && !wasOpposed {
				crossedAt = candles[cdx].Date
			}
			prev = close
		}
	}

	return crossedAt
}

// AnalyzeCounter classifies the sustained movement of blocks 2 through 4 relative to the early
// bias. A flat bias adopts the direction block 4 settled in, so a late move from a flat start is
// treated as continuation and can never be a reversal.
func AnalyzeCounter(window *HourWindow, bias *BiasSignal, vol *VolatilityProfile, bandPercent float64) (CounterSignal, error) {
	var normalized [counterBlocks]float64
	for idx := range counterBlocks {
		close, ok := window.Blocks[counterStart+idx].Close()
		if !ok {
			return CounterSignal{}, fmt.Errorf("no block %d close for %s: %w",
				counterStart+idx, window.Ticker, shared.ErrInsufficientData)
		}

		normalized[idx] = vol.Normalize(percentChange(window.ReferenceOpen, close))
	}

	reference := bias.Direction
	if reference == Flat {
		last := normalized[counterBlocks-1]
		switch {
		case last > bandPercent:
			reference = shared.Up
		case last < -bandPercent:
			reference = shared.Down
		}
	}

	var signal CounterSignal
	var aligned, opposed, unaligned int
	for idx := range counterBlocks {
		alignment := align(reference, normalized[idx], bandPercent)
		signal.Alignments[idx] = alignment
		switch alignment {
		case Aligned:
			aligned++
		case Opposed:
			opposed++
		default:
			unaligned++
		}
	}

	last := signal.Alignments[counterBlocks-1]
	switch {
	case aligned >= minPatternBlocks && last == Aligned:
		signal.Pattern = Continuation
		signal.Direction = reference
		signal.Consistent = aligned
	case bias.Direction != Flat && opposed >= minPatternBlocks && last == Opposed:
		signal.Pattern = Reversal
		signal.Direction = bias.Direction.Opposite()
		signal.Consistent = opposed
		signal.CrossedAt = lastCrossing(window, bias.Direction)
	default:
		signal.Pattern = Choppy
		signal.Direction = Flat
		signal.Consistent = unaligned
	}

	signal.Strength = float64(signal.Consistent) / counterBlocks

	return signal, nil
}
