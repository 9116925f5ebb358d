package block

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/rs/zerolog"
)

const (
	// defaultMaxGenerationLag is the default delay after the decision point beyond which a
	// generation is stale. It ends at the hour close.
	defaultMaxGenerationLag = time.Hour - DecisionOffset
)

// GenerateOutcome represents the outcome of a prediction generation.
type GenerateOutcome int

const (
	Generated GenerateOutcome = iota
	Existing
	NoPrediction
	SkippedStale
)

// String stringifies the provided generate outcome.
func (o GenerateOutcome) String() string {
	switch o {
	case Generated:
		return "generated"
	case Existing:
		return "existing"
	case NoPrediction:
		return "no prediction"
	case SkippedStale:
		return "skipped stale"
	default:
		return "unknown"
	}
}

// GenerateResult represents the result of a prediction generation.
type GenerateResult struct {
	Outcome GenerateOutcome
	// Prediction is set for generated and existing outcomes.
	Prediction *shared.BlockPrediction
	// Reason describes why no prediction was made.
	Reason string
}

// EngineConfig represents the block prediction engine configuration.
type EngineConfig struct {
	// Source provides the candles of the predicted and baseline hours.
	Source shared.BarSource
	// Store persists predictions.
	Store shared.PredictionStore
	// Segmenter is the block segmenter configuration.
	Segmenter SegmenterConfig
	// Baseline is the volatility baseline configuration.
	Baseline BaselineConfig
	// Calibration is the confidence calibration.
	Calibration Calibration
	// MaxGenerationLag is the delay after the decision point beyond which a generation is stale.
	MaxGenerationLag time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if cfg.Source == nil {
		errs = errors.Join(errs, fmt.Errorf("bar source cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("prediction store cannot be nil"))
	}
	if err := cfg.Segmenter.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := cfg.Baseline.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := cfg.Calibration.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.MaxGenerationLag < 0 {
		errs = errors.Join(errs, fmt.Errorf("max generation lag cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// DefaultEngineConfig returns an engine configuration with default segmentation, baseline and
// calibration settings for the provided collaborators.
func DefaultEngineConfig(source shared.BarSource, store shared.PredictionStore, logger *zerolog.Logger) EngineConfig {
	return EngineConfig{
		Source:           source,
		Store:            store,
		Segmenter:        DefaultSegmenterConfig(),
		Baseline:         DefaultBaselineConfig(),
		Calibration:      DefaultCalibration(),
		MaxGenerationLag: defaultMaxGenerationLag,
		Logger:           logger,
	}
}

// Engine generates hourly block predictions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg *EngineConfig
}

// NewEngine initializes a new block prediction engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg}, nil
}

// Decision represents the output of a decision tree before calibration.
type Decision struct {
	Tree        shared.Tree
	Direction   shared.Direction
	Raw         float64
	Adjustments []shared.Adjustment
	Forced      bool
}

// Decide dispatches the decision tree keyed by the counter pattern.
func (c *Calibration) Decide(decisionPoint time.Time, vol *VolatilityProfile, bias *BiasSignal, counter *CounterSignal) Decision {
	var d Decision

	switch counter.Pattern {
	case Continuation:
		d.Tree = shared.TreeA
		d.Direction = counter.Direction
		d.Raw = c.TreeABase +
			c.TreeABiasWeight*math.Min(bias.Strength/c.BiasStrengthScale, 1) +
			c.TreeACounterWeight*counter.Strength
		if vol.Regime == HighVolatility {
			d.Adjustments = append(d.Adjustments, shared.Adjustment{Name: HighVolatilityBonus, Value: c.HighVolatilityBonus})
		}
		if bias.Strength < c.WeakBiasStrength {
			d.Adjustments = append(d.Adjustments, shared.Adjustment{Name: WeakBiasPenalty, Value: -c.WeakBiasPenalty})
		}

	case Reversal:
		d.Tree = shared.TreeB
		d.Direction = bias.Direction.Opposite()
		d.Raw = c.TreeBBase + c.TreeBCounterWeight*counter.Strength
		if !counter.CrossedAt.IsZero() && decisionPoint.Sub(counter.CrossedAt) < c.LateReversalWindow {
			d.Adjustments = append(d.Adjustments, shared.Adjustment{Name: LateReversalPenalty, Value: -c.LateReversalPenalty})
		}

	default:
		d.Tree = shared.TreeC
		d.Direction = shared.Neutral
		d.Raw = c.TreeCBase + c.TreeCCounterWeight*counter.Strength
		if c.ForceDirectionalFallback && bias.Direction != Flat {
			d.Direction = bias.Direction
			d.Forced = true
			d.Adjustments = append(d.Adjustments, shared.Adjustment{Name: ForcedFallbackPenalty, Value: -c.ForcedFallbackPenalty})
		}
	}

	return d
}

// snapshot captures the contributing signals of a decision.
func snapshot(vol *VolatilityProfile, bias *BiasSignal, counter *CounterSignal, d *Decision) shared.SignalSnapshot {
	s := shared.SignalSnapshot{
		BiasDirection:     bias.Direction.String(),
		BiasDisplacement:  bias.Displacement,
		BiasStrength:      bias.Strength,
		CounterPattern:    counter.Pattern.String(),
		CounterDirection:  counter.Direction.String(),
		CounterStrength:   counter.Strength,
		CurrentRange:      vol.CurrentRange,
		BaselineRange:     vol.BaselineRange,
		BaselineSamples:   vol.BaselineSamples,
		VolatilityFactor:  vol.Factor,
		VolatilityRegime:  vol.Regime.String(),
		RawConfidence:     d.Raw,
		Adjustments:       d.Adjustments,
		ForcedDirectional: d.Forced,
	}

	if !counter.CrossedAt.IsZero() {
		crossedAt := counter.CrossedAt.UTC()
		s.CrossedAt = &crossedAt
	}

	return s
}

// noPrediction logs and returns a no prediction result.
func (e *Engine) noPrediction(ticker string, hourStart time.Time, reason string) GenerateResult {
	e.cfg.Logger.Info().Msgf("no prediction for %s at %s: %s", ticker, hourStart.Format(time.RFC3339), reason)
	return GenerateResult{Outcome: NoPrediction, Reason: reason}
}

// fetchBaseline returns the volatility baseline ranges of the provided hour. Failures to fetch
// baseline data degrade to an empty baseline.
func (e *Engine) fetchBaseline(ctx context.Context, ticker string, hourStart time.Time) []float64 {
	start, end := e.cfg.Baseline.Span(hourStart)
	candles, err := e.cfg.Source.FetchBars(ctx, ticker, start, end)
	if err != nil {
		e.cfg.Logger.Error().Msgf("fetching baseline candles for %s: %v", ticker, err)
		return nil
	}

	return BaselineRanges(&e.cfg.Baseline, &e.cfg.Segmenter, ticker, hourStart, candles)
}

// Generate produces the block prediction of the provided ticker hour as evaluated at the provided
// instant. An existing prediction is returned unmodified. Generations evaluated too long after
// the decision point are skipped as stale, and hours without sufficient data yield no prediction.
// Errors are only returned for persistence failures.
func (e *Engine) Generate(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (GenerateResult, error) {
	hourStart = shared.HourStart(hourStart)
	decisionPoint := DecisionPoint(hourStart)

	existing, err := e.cfg.Store.FetchPrediction(ctx, ticker, hourStart)
	switch {
	case err == nil:
		return GenerateResult{Outcome: Existing, Prediction: existing}, nil
	case !errors.Is(err, shared.ErrPredictionNotFound):
		return GenerateResult{}, fmt.Errorf("fetching existing prediction for %s: %w", ticker, err)
	}

	if at.After(decisionPoint.Add(e.cfg.MaxGenerationLag)) {
		reason := fmt.Sprintf("evaluated at %s, %s after the decision point", at.UTC().Format(time.RFC3339),
			at.Sub(decisionPoint).Round(time.Second))
		e.cfg.Logger.Info().Msgf("skipping stale prediction for %s at %s: %s", ticker, hourStart.Format(time.RFC3339), reason)
		return GenerateResult{Outcome: SkippedStale, Reason: reason}, nil
	}

	if at.Before(decisionPoint) {
		return e.noPrediction(ticker, hourStart, "decision point not reached"), nil
	}

	candles, err := e.cfg.Source.FetchBars(ctx, ticker, hourStart, decisionPoint)
	if err != nil {
		return e.noPrediction(ticker, hourStart, fmt.Sprintf("fetching candles: %v", err)), nil
	}

	window, err := Segment(&e.cfg.Segmenter, ticker, hourStart, candles)
	if err != nil {
		return e.noPrediction(ticker, hourStart, err.Error()), nil
	}

	currentRange, _ := PartialRange(window.ObservedCandles())
	vol := Normalize(currentRange, e.fetchBaseline(ctx, ticker, hourStart))

	bias, err := AnalyzeBias(window, &vol, e.cfg.Calibration.BiasEpsilonPercent)
	if err != nil {
		return e.noPrediction(ticker, hourStart, err.Error()), nil
	}

	counter, err := AnalyzeCounter(window, &bias, &vol, e.cfg.Calibration.CounterBandPercent)
	if err != nil {
		return e.noPrediction(ticker, hourStart, err.Error()), nil
	}

	decision := e.cfg.Calibration.Decide(decisionPoint, &vol, &bias, &counter)
	confidence, err := e.cfg.Calibration.Calibrate(decision.Raw, decision.Adjustments)
	if err != nil {
		return e.noPrediction(ticker, hourStart, err.Error()), nil
	}

	signals := snapshot(&vol, &bias, &counter, &decision)
	prediction := shared.NewBlockPrediction(ticker, hourStart, window.ReferenceOpen, decision.Direction,
		confidence, decision.Tree, signals, at)

	stored, created, err := e.cfg.Store.InsertPrediction(ctx, prediction)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("persisting prediction for %s: %w", ticker, err)
	}

	if !created {
		return GenerateResult{Outcome: Existing, Prediction: stored}, nil
	}

	e.cfg.Logger.Info().Msgf("predicted %s for %s at %s with %.2f%% confidence (tree %s, %s)",
		stored.PredictedDirection, ticker, hourStart.Format(time.RFC3339), stored.Confidence,
		stored.Tree, counter.Pattern)

	return GenerateResult{Outcome: Generated, Prediction: stored}, nil
}
