package block

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dnldd/blockcast/shared"
)

// Calibration adjustment names recorded in prediction signal snapshots.
const (
	HighVolatilityBonus   = "high_volatility_bonus"
	WeakBiasPenalty       = "weak_bias_penalty"
	LateReversalPenalty   = "late_reversal_penalty"
	ForcedFallbackPenalty = "forced_fallback_penalty"
)

// Calibration represents the confidence calibration constants of the decision trees.
type Calibration struct {
	// BiasEpsilonPercent is the normalized percent displacement an early bias must exceed to
	// be directional.
	BiasEpsilonPercent float64
	// CounterBandPercent is the normalized percent band around the reference open within
	// which a block close is neutral.
	CounterBandPercent float64

	// TreeABase is the base confidence of continuation predictions.
	TreeABase float64
	// TreeABiasWeight is the confidence contributed by a saturated early bias.
	TreeABiasWeight float64
	// TreeACounterWeight is the confidence contributed by a fully consistent continuation.
	TreeACounterWeight float64
	// BiasStrengthScale is the bias strength at which its contribution saturates.
	BiasStrengthScale float64
	// HighVolatilityBonus is added to continuations confirmed by high volatility.
	HighVolatilityBonus float64
	// WeakBiasStrength is the bias strength below which a continuation is suspicious.
	WeakBiasStrength float64
	// WeakBiasPenalty is subtracted from continuations of a weak early bias.
	WeakBiasPenalty float64

	// TreeBBase is the base confidence of reversal predictions.
	TreeBBase float64
	// TreeBCounterWeight is the confidence contributed by a fully consistent reversal.
	TreeBCounterWeight float64
	// LateReversalWindow is the span before the decision point within which a reversal
	// crossing is considered late.
	LateReversalWindow time.Duration
	// LateReversalPenalty is subtracted from late reversals.
	LateReversalPenalty float64

	// TreeCBase is the base confidence of choppy predictions.
	TreeCBase float64
	// TreeCCounterWeight is the confidence contributed by a fully neutral middle hour.
	TreeCCounterWeight float64
	// ForceDirectionalFallback makes choppy hours predict the early bias direction.
	ForceDirectionalFallback bool
	// ForcedFallbackPenalty is subtracted from forced directional fallbacks.
	ForcedFallbackPenalty float64

	// MinConfidence is the lowest confidence emitted.
	MinConfidence float64
	// MaxConfidence is the highest confidence emitted.
	MaxConfidence float64
}

// DefaultCalibration returns the default calibration.
func DefaultCalibration() Calibration {
	return Calibration{
		BiasEpsilonPercent: 0.05,
		CounterBandPercent: 0.05,

		TreeABase:           50,
		TreeABiasWeight:     15,
		TreeACounterWeight:  20,
		BiasStrengthScale:   0.5,
		HighVolatilityBonus: 5,
		WeakBiasStrength:    0.1,
		WeakBiasPenalty:     15,

		TreeBBase:           45,
		TreeBCounterWeight:  25,
		LateReversalWindow:  BlockDuration * 2,
		LateReversalPenalty: 10,

		TreeCBase:                30,
		TreeCCounterWeight:       10,
		ForceDirectionalFallback: false,
		ForcedFallbackPenalty:    20,

		MinConfidence: 5,
		MaxConfidence: 95,
	}
}

// Validate asserts the config sane inputs.
func (c *Calibration) Validate() error {
	var errs error

	values := map[string]float64{
		"bias epsilon percent":    c.BiasEpsilonPercent,
		"counter band percent":    c.CounterBandPercent,
		"tree a base":             c.TreeABase,
		"tree a bias weight":      c.TreeABiasWeight,
		"tree a counter weight":   c.TreeACounterWeight,
		"high volatility bonus":   c.HighVolatilityBonus,
		"weak bias strength":      c.WeakBiasStrength,
		"weak bias penalty":       c.WeakBiasPenalty,
		"tree b base":             c.TreeBBase,
		"tree b counter weight":   c.TreeBCounterWeight,
		"late reversal penalty":   c.LateReversalPenalty,
		"tree c base":             c.TreeCBase,
		"tree c counter weight":   c.TreeCCounterWeight,
		"forced fallback penalty": c.ForcedFallbackPenalty,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s must be a non-negative number", name))
		}
	}

	if !(c.BiasStrengthScale > 0) {
		errs = errors.Join(errs, fmt.Errorf("bias strength scale must be positive"))
	}
	if c.LateReversalWindow < 0 {
		errs = errors.Join(errs, fmt.Errorf("late reversal window cannot be negative"))
	}
	if c.MinConfidence <= 0 || c.MaxConfidence >= 100 || c.MinConfidence >= c.MaxConfidence {
		errs = errors.Join(errs, fmt.Errorf("confidence bounds must satisfy 0 < min < max < 100"))
	}

	return errs
}

// Calibrate applies the provided adjustments to the raw confidence and clamps the result to the
// inclusive confidence bounds. The default trees emit confidences strictly within the bounds, the
// clamp only binds for custom weights. Non finite values fail with shared.ErrInvalidConfidence.
func (c *Calibration) Calibrate(raw float64, adjustments []shared.Adjustment) (float64, error) {
	confidence := raw
	for _, adj := range adjustments {
		confidence += adj.Value
	}

	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return 0, fmt.Errorf("calibrating raw confidence %f: %w", raw, shared.ErrInvalidConfidence)
	}

	return math.Min(math.Max(confidence, c.MinConfidence), c.MaxConfidence), nil
}
