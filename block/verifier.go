package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/blockcast/shared"
	"github.com/rs/zerolog"
)

const (
	// NeutralThresholdPercent is the percent move from the reference open within which an hour
	// is considered to have made no significant move.
	NeutralThresholdPercent = 0.1
	// defaultGraceBuffer is the default delay after the hour close allowed for late candles.
	defaultGraceBuffer = time.Second * 30
	// defaultCloseTolerance is the default span before the hour close within which the last
	// candle must start for it to represent the realized close.
	defaultCloseTolerance = time.Minute * 5
)

// VerifyOutcome represents the outcome of a prediction verification.
type VerifyOutcome int

const (
	Verified VerifyOutcome = iota
	AlreadyVerified
	Pending
	NoRecord
)

// String stringifies the provided verify outcome.
func (o VerifyOutcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case AlreadyVerified:
		return "already verified"
	case Pending:
		return "pending"
	case NoRecord:
		return "no record"
	default:
		return "unknown"
	}
}

// VerifyResult represents the result of a prediction verification.
type VerifyResult struct {
	Outcome    VerifyOutcome
	Prediction *shared.BlockPrediction
	// Reason describes why a verification is pending.
	Reason string
}

// VerifierConfig represents the block verifier configuration.
type VerifierConfig struct {
	// Source provides the candles of the verified hours.
	Source shared.BarSource
	// Store persists prediction verifications.
	Store shared.PredictionStore
	// GraceBuffer is the delay after the hour close allowed for late candles.
	GraceBuffer time.Duration
	// CloseTolerance is the span before the hour close within which the last candle must start.
	CloseTolerance time.Duration
	// NeutralThresholdPercent is the percent band around the reference open of a neutral hour.
	NeutralThresholdPercent float64
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// DefaultVerifierConfig returns a verifier configuration with default settings for the provided
// collaborators.
func DefaultVerifierConfig(source shared.BarSource, store shared.PredictionStore, logger *zerolog.Logger) VerifierConfig {
	return VerifierConfig{
		Source:                  source,
		Store:                   store,
		GraceBuffer:             defaultGraceBuffer,
		CloseTolerance:          defaultCloseTolerance,
		NeutralThresholdPercent: NeutralThresholdPercent,
		Logger:                  logger,
	}
}

// Validate asserts the config sane inputs.
func (cfg *VerifierConfig) Validate() error {
	var errs error

	if cfg.Source == nil {
		errs = errors.Join(errs, fmt.Errorf("bar source cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("prediction store cannot be nil"))
	}
	if cfg.GraceBuffer < 0 {
		errs = errors.Join(errs, fmt.Errorf("grace buffer cannot be negative"))
	}
	if cfg.CloseTolerance <= 0 || cfg.CloseTolerance > time.Hour {
		errs = errors.Join(errs, fmt.Errorf("close tolerance must be within (0, 1h]"))
	}
	if cfg.NeutralThresholdPercent < 0 {
		errs = errors.Join(errs, fmt.Errorf("neutral threshold percent cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Verifier checks stored predictions against realized hour closes. It holds no mutable state and
// is safe for concurrent use.
type Verifier struct {
	cfg *VerifierConfig
}

// NewVerifier initializes a new block verifier.
func NewVerifier(cfg *VerifierConfig) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Verifier{cfg: cfg}, nil
}

// RealizedClose returns the close of the provided hour. The last candle of the hour must start
// within the close tolerance of the hour close.
func RealizedClose(candles []shared.Candlestick, hourStart time.Time, tolerance time.Duration) (float64, bool) {
	hourStart = shared.HourStart(hourStart)
	hourEnd := hourStart.Add(time.Hour)

	var last *shared.Candlestick
	for idx := range candles {
		candle := &candles[idx]
		if !candle.IsValid() || candle.Date.Before(hourStart) || !candle.Date.Before(hourEnd) {
			continue
		}
		if last == nil || candle.Date.After(last.Date) {
			last = candle
		}
	}

	if last == nil || last.Date.Before(hourEnd.Add(-tolerance)) {
		return 0, false
	}

	return last.Close, true
}

// Evaluate compares the realized close of the hour to the provided prediction.
func Evaluate(prediction *shared.BlockPrediction, close float64, neutralThresholdPercent float64, at time.Time) shared.Verification {
	actual := shared.ClassifyMove(prediction.ReferenceOpen, close, neutralThresholdPercent)

	result := shared.Wrong
	if actual == prediction.PredictedDirection {
		result = shared.Correct
	}

	return shared.Verification{
		ActualClose:     close,
		ActualDirection: actual,
		Result:          result,
		VerifiedAt:      at.UTC(),
	}
}

// pending logs and returns a pending result.
func (v *Verifier) pending(prediction *shared.BlockPrediction, reason string) VerifyResult {
	v.cfg.Logger.Info().Msgf("verification of %s at %s pending: %s", prediction.Ticker,
		prediction.HourStart.Format(time.RFC3339), reason)
	return VerifyResult{Outcome: Pending, Prediction: prediction, Reason: reason}
}

// Verify checks the stored prediction of the provided ticker hour against its realized close as
// evaluated at the provided instant. Verified predictions are never modified again. The
// prediction stays pending if the realized close is not yet available. Errors are only returned
// for persistence failures.
func (v *Verifier) Verify(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (VerifyResult, error) {
	hourStart = shared.HourStart(hourStart)
	hourEnd := hourStart.Add(time.Hour)

	prediction, err := v.cfg.Store.FetchPrediction(ctx, ticker, hourStart)
	if err != nil {
		if errors.Is(err, shared.ErrPredictionNotFound) {
			return VerifyResult{Outcome: NoRecord, Reason: "no prediction for hour"}, nil
		}

		return VerifyResult{}, fmt.Errorf("fetching prediction for %s: %w", ticker, err)
	}

	if prediction.Status() == shared.Verified {
		return VerifyResult{Outcome: AlreadyVerified, Prediction: prediction}, nil
	}

	if at.Before(hourEnd.Add(v.cfg.GraceBuffer)) {
		return v.pending(prediction, "hour not closed"), nil
	}

	candles, err := v.cfg.Source.FetchBars(ctx, ticker, hourStart, hourEnd)
	if err != nil {
		return v.pending(prediction, fmt.Sprintf("fetching candles: %v", err)), nil
	}

	close, ok := RealizedClose(candles, hourStart, v.cfg.CloseTolerance)
	if !ok {
		return v.pending(prediction, "realized close unavailable"), nil
	}

	verification := Evaluate(prediction, close, v.cfg.NeutralThresholdPercent, at)
	stored, applied, err := v.cfg.Store.RecordVerification(ctx, ticker, hourStart, verification)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("recording verification for %s: %w", ticker, err)
	}

	if !applied {
		return VerifyResult{Outcome: AlreadyVerified, Prediction: stored}, nil
	}

	if stored.Result == nil {
		v.cfg.Logger.Error().Msgf("verified prediction without result: %s", spew.Sdump(stored))
		return VerifyResult{}, fmt.Errorf("verified prediction %s has no result", stored.ID)
	}

	v.cfg.Logger.Info().Msgf("verified %s prediction for %s at %s as %s (close %f, actual %s)",
		stored.PredictedDirection, ticker, hourStart.Format(time.RFC3339), *stored.Result, close,
		verification.ActualDirection)

	return VerifyResult{Outcome: Verified, Prediction: stored}, nil
}
