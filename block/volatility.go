package block

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dnldd/blockcast/shared"
)

const (
	// MinNormalizationFactor is the lower clamp of the volatility normalization factor.
	MinNormalizationFactor = 0.2
	// MaxNormalizationFactor is the upper clamp of the volatility normalization factor.
	MaxNormalizationFactor = 5.0
	// lowRegimeThreshold is the factor below which volatility is considered low.
	lowRegimeThreshold = 0.7
	// highRegimeThreshold is the factor above which volatility is considered high.
	highRegimeThreshold = 1.3
	// defaultBaselineSessions is the default number of prior sessions averaged for the baseline.
	defaultBaselineSessions = 5
	// defaultBaselineHours is the default number of trailing hours averaged for the baseline.
	defaultBaselineHours = 24
)

// Regime represents the volatility regime of the current hour.
type Regime int

const (
	NormalVolatility Regime = iota
	LowVolatility
	HighVolatility
)

// String stringifies the provided regime.
func (r Regime) String() string {
	switch r {
	case LowVolatility:
		return "LOW"
	case NormalVolatility:
		return "NORMAL"
	case HighVolatility:
		return "HIGH"
	default:
		return "unknown"
	}
}

// VolatilityProfile relates the movement of the current hour to its historical baseline.
type VolatilityProfile struct {
	CurrentRange    float64
	BaselineRange   float64
	BaselineSamples int
	Factor          float64
	Regime          Regime
}

// Normalize rescales the provided raw displacement by the normalization factor.
func (v *VolatilityProfile) Normalize(displacement float64) float64 {
	return displacement / v.Factor
}

// BaselineMode represents how the volatility baseline windows are selected.
type BaselineMode int

const (
	SameHour BaselineMode = iota
	TrailingHours
)

// String stringifies the provided baseline mode.
func (m BaselineMode) String() string {
	switch m {
	case SameHour:
		return "samehour"
	case TrailingHours:
		return "trailing"
	default:
		return "unknown"
	}
}

// ParseBaselineMode parses the provided stringified baseline mode.
func ParseBaselineMode(s string) (BaselineMode, error) {
	switch s {
	case "samehour", "":
		return SameHour, nil
	case "trailing":
		return TrailingHours, nil
	default:
		return SameHour, fmt.Errorf("unknown baseline mode '%s'", s)
	}
}

// BaselineConfig represents the volatility baseline configuration.
type BaselineConfig struct {
	// Mode selects the baseline windows.
	Mode BaselineMode
	// Sessions is the number of prior sessions averaged in same hour mode.
	Sessions int
	// Hours is the number of trailing hours averaged in trailing mode.
	Hours int
}

// DefaultBaselineConfig returns the default baseline configuration.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		Mode:     SameHour,
		Sessions: defaultBaselineSessions,
		Hours:    defaultBaselineHours,
	}
}

// Validate asserts the config sane inputs.
func (cfg *BaselineConfig) Validate() error {
	var errs error

	switch cfg.Mode {
	case SameHour:
		if cfg.Sessions < 1 {
			errs = errors.Join(errs, fmt.Errorf("baseline sessions must be at least 1"))
		}
	case TrailingHours:
		if cfg.Hours < 1 {
			errs = errors.Join(errs, fmt.Errorf("baseline hours must be at least 1"))
		}
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown baseline mode %d", cfg.Mode))
	}

	return errs
}

// Span returns the range of time covering every candidate baseline window of the provided hour.
func (cfg *BaselineConfig) Span(hourStart time.Time) (time.Time, time.Time) {
	windows := cfg.Windows(hourStart)
	if len(windows) == 0 {
		return hourStart, hourStart
	}

	return windows[len(windows)-1], windows[0].Add(DecisionOffset)
}

// Windows returns the hour starts of the candidate baseline windows of the provided hour, most
// recent first. Same hour mode looks back twice as many days as sessions required so closed
// days can be skipped.
func (cfg *BaselineConfig) Windows(hourStart time.Time) []time.Time {
	hourStart = shared.HourStart(hourStart)

	var windows []time.Time
	switch cfg.Mode {
	case SameHour:
		for day := 1; day <= cfg.Sessions*2; day++ {
			windows = append(windows, hourStart.AddDate(0, 0, -day))
		}
	case TrailingHours:
		for hour := 1; hour <= cfg.Hours; hour++ {
			windows = append(windows, hourStart.Add(-time.Duration(hour)*time.Hour))
		}
	}

	return windows
}

// limit returns the maximum number of baseline samples averaged.
func (cfg *BaselineConfig) limit() int {
	switch cfg.Mode {
	case TrailingHours:
		return cfg.Hours
	default:
		return cfg.Sessions
	}
}

// PartialRange returns the high to low range of the provided candles.
func PartialRange(candles []shared.Candlestick) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}

	high := candles[0].High
	low := candles[0].Low
	for idx := range candles {
		high = math.Max(high, candles[idx].High)
		low = math.Min(low, candles[idx].Low)
	}

	return high - low, true
}

// BaselineRanges returns the partial window ranges of the baseline windows of the provided hour
// that have sufficient candles.
func BaselineRanges(cfg *BaselineConfig, segCfg *SegmenterConfig, ticker string, hourStart time.Time, candles []shared.Candlestick) []float64 {
	limit := cfg.limit()
	ranges := make([]float64, 0, limit)

	for _, windowStart := range cfg.Windows(hourStart) {
		if len(ranges) == limit {
			break
		}

		window, err := Segment(segCfg, ticker, windowStart, candlesInRange(candles, windowStart, windowStart.Add(DecisionOffset)))
		if err != nil {
			// Skip windows without sufficient data, typically closed sessions.
			continue
		}

		r, ok := PartialRange(window.ObservedCandles())
		if ok {
			ranges = append(ranges, r)
		}
	}

	return ranges
}

// candlesInRange returns the candles with dates in [start, end).
func candlesInRange(candles []shared.Candlestick, start time.Time, end time.Time) []shared.Candlestick {
	var filtered []shared.Candlestick
	for idx := range candles {
		date := candles[idx].Date
		if !date.Before(start) && date.Before(end) {
			filtered = append(filtered, candles[idx])
		}
	}

	return filtered
}

// classifyRegime returns the regime of the provided normalization factor.
func classifyRegime(factor float64) Regime {
	switch {
	case factor < lowRegimeThreshold:
		return LowVolatility
	case factor > highRegimeThreshold:
		return HighVolatility
	default:
		return NormalVolatility
	}
}

// Normalize computes the volatility profile of the current partial range against the average
// of the provided baseline ranges. The factor is clamped to guard against degenerate baselines,
// and defaults to 1 when no baseline is available.
func Normalize(currentRange float64, baselineRanges []float64) VolatilityProfile {
	profile := VolatilityProfile{
		CurrentRange:    currentRange,
		BaselineSamples: len(baselineRanges),
		Factor:          1,
	}

	if len(baselineRanges) == 0 {
		profile.Regime = classifyRegime(profile.Factor)
		return profile
	}

	var sum float64
	for _, r := range baselineRanges {
		sum += r
	}
	profile.BaselineRange = sum / float64(len(baselineRanges))

	switch {
	case profile.BaselineRange > 0:
		profile.Factor = currentRange / profile.BaselineRange
	case currentRange > 0:
		profile.Factor = MaxNormalizationFactor
	}

	if math.IsNaN(profile.Factor) || math.IsInf(profile.Factor, 0) {
		profile.Factor = 1
	}

	profile.Factor = math.Min(math.Max(profile.Factor, MinNormalizationFactor), MaxNormalizationFactor)
	profile.Regime = classifyRegime(profile.Factor)

	return profile
}
