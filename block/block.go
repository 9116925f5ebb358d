package block

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dnldd/blockcast/shared"
)

const (
	// BlockCount is the number of equal blocks a trading hour is segmented into.
	BlockCount = 7
	// DecisionBlocks is the number of blocks observed before the decision point.
	DecisionBlocks = 5
	// DecisionOffset is the offset of the decision point from the start of the hour, 5/7 of
	// the way through it.
	DecisionOffset = time.Minute*42 + time.Second*51
	// BlockDuration is the approximate duration of a single block.
	BlockDuration = time.Hour / BlockCount
	// defaultMinBarsPerBlock is the default minimum number of candles required in each
	// observed block.
	defaultMinBarsPerBlock = 3
)

// Block represents one of the seven equal time subdivisions of a trading hour.
type Block struct {
	Index   int
	Start   time.Time
	End     time.Time
	Candles []shared.Candlestick
}

// Close returns the close of the last candle in the block.
func (b *Block) Close() (float64, bool) {
	if len(b.Candles) == 0 {
		return 0, false
	}

	return b.Candles[len(b.Candles)-1].Close, true
}

// HourWindow represents a segmented trading hour of a ticker.
type HourWindow struct {
	Ticker        string
	HourStart     time.Time
	ReferenceOpen float64
	Blocks        [BlockCount]Block
	DecisionPoint time.Time
}

// ObservedCandles returns the candles of the blocks preceding the decision point.
func (w *HourWindow) ObservedCandles() []shared.Candlestick {
	var candles []shared.Candlestick
	for idx := range DecisionBlocks {
		candles = append(candles, w.Blocks[idx].Candles...)
	}

	return candles
}

// SegmenterConfig represents the block segmenter configuration.
type SegmenterConfig struct {
	// BarInterval is the span covered by each candle, used to exclude candles that have not
	// closed by the decision point.
	BarInterval time.Duration
	// MinBarsPerBlock is the minimum number of candles required in each observed block.
	MinBarsPerBlock int
}

// DefaultSegmenterConfig returns the segmenter configuration for one minute candles.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		BarInterval:     shared.OneMinute.Duration(),
		MinBarsPerBlock: defaultMinBarsPerBlock,
	}
}

// Validate asserts the config sane inputs.
func (cfg *SegmenterConfig) Validate() error {
	var errs error

	if cfg.BarInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("bar interval must be positive"))
	}
	if cfg.BarInterval > BlockDuration {
		errs = errors.Join(errs, fmt.Errorf("bar interval cannot exceed the block duration"))
	}
	if cfg.MinBarsPerBlock < 1 {
		errs = errors.Join(errs, fmt.Errorf("minimum bars per block must be at least 1"))
	}

	return errs
}

// DecisionPoint returns the instant the forecast for the provided hour is generated.
func DecisionPoint(hourStart time.Time) time.Time {
	return shared.HourStart(hourStart).Add(DecisionOffset)
}

// BlockStart returns the start of the provided block. Block starts are rounded up to the next
// nanosecond so an instant on a boundary belongs to the later block.
func BlockStart(hourStart time.Time, idx int) time.Time {
	offset := (int64(idx)*int64(time.Hour) + BlockCount - 1) / BlockCount
	return shared.HourStart(hourStart).Add(time.Duration(offset))
}

// BlockIndex returns the block the provided instant falls in, or -1 if it is outside the hour.
func BlockIndex(hourStart time.Time, at time.Time) int {
	elapsed := at.Sub(shared.HourStart(hourStart))
	if elapsed < 0 || elapsed >= time.Hour {
		return -1
	}

	return int(int64(elapsed) * BlockCount / int64(time.Hour))
}

// Segment splits the candles of the provided hour into blocks. Only candles that have closed by
// the decision point are segmented. The reference open is the open of the first candle of the
// hour. An error wrapping shared.ErrInsufficientData is returned if any observed block lacks the
// minimum number of candles.
func Segment(cfg *SegmenterConfig, ticker string, hourStart time.Time, candles []shared.Candlestick) (*HourWindow, error) {
	hourStart = shared.HourStart(hourStart)
	decisionPoint := DecisionPoint(hourStart)

	window := &HourWindow{
		Ticker:        ticker,
		HourStart:     hourStart,
		DecisionPoint: decisionPoint,
	}

	for idx := range BlockCount {
		window.Blocks[idx] = Block{
			Index: idx,
			Start: BlockStart(hourStart, idx),
			End:   BlockStart(hourStart, idx+1),
		}
	}

	sorted := slices.Clone(candles)
	slices.SortFunc(sorted, func(a, b shared.Candlestick) int {
		return a.Date.Compare(b.Date)
	})

	for idx := range sorted {
		candle := sorted[idx]
		if !candle.IsValid() {
			continue
		}

		if candle.Date.Add(cfg.BarInterval).After(decisionPoint) {
			// The candle has not closed by the decision point.
			continue
		}

		blockIdx := BlockIndex(hourStart, candle.Date)
		if blockIdx < 0 {
			continue
		}

		candle.Date = candle.Date.UTC()
		window.Blocks[blockIdx].Candles = append(window.Blocks[blockIdx].Candles, candle)
	}

	for idx := range DecisionBlocks {
		count := len(window.Blocks[idx].Candles)
		if count < cfg.MinBarsPerBlock {
			return nil, fmt.Errorf("block %d of %s at %s has %d/%d candles: %w", idx, ticker,
				hourStart.Format(time.RFC3339), count, cfg.MinBarsPerBlock, shared.ErrInsufficientData)
		}
	}

	window.ReferenceOpen = window.Blocks[0].Candles[0].Open

	return window, nil
}
