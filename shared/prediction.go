package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tree represents the decision procedure used to produce a prediction.
type Tree int

const (
	TreeA Tree = iota
	TreeB
	TreeC
)

// String stringifies the provided tree.
func (t Tree) String() string {
	switch t {
	case TreeA:
		return "A"
	case TreeB:
		return "B"
	case TreeC:
		return "C"
	default:
		return "unknown"
	}
}

// ParseTree parses the provided stringified tree.
func ParseTree(s string) (Tree, error) {
	switch s {
	case "A":
		return TreeA, nil
	case "B":
		return TreeB, nil
	case "C":
		return TreeC, nil
	default:
		return TreeA, fmt.Errorf("unknown decision tree '%s'", s)
	}
}

// VerificationResult represents the outcome of checking a prediction against the realized close.
type VerificationResult int

const (
	Correct VerificationResult = iota
	Wrong
)

// String stringifies the provided verification result.
func (r VerificationResult) String() string {
	switch r {
	case Correct:
		return "CORRECT"
	case Wrong:
		return "WRONG"
	default:
		return "unknown"
	}
}

// ParseVerificationResult parses the provided stringified verification result.
func ParseVerificationResult(s string) (VerificationResult, error) {
	switch s {
	case "CORRECT":
		return Correct, nil
	case "WRONG":
		return Wrong, nil
	default:
		return Wrong, fmt.Errorf("unknown verification result '%s'", s)
	}
}

// PredictionStatus represents the verification state of a prediction.
type PredictionStatus int

const (
	Pending PredictionStatus = iota
	Verified
)

// String stringifies the provided prediction status.
func (s PredictionStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Verified:
		return "VERIFIED"
	default:
		return "unknown"
	}
}

// Adjustment is a named additive confidence adjustment.
type Adjustment struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SignalSnapshot captures the signals that contributed to a prediction.
type SignalSnapshot struct {
	BiasDirection     string       `json:"bias_direction"`
	BiasDisplacement  float64      `json:"bias_displacement"`
	BiasStrength      float64      `json:"bias_strength"`
	CounterPattern    string       `json:"counter_pattern"`
	CounterDirection  string       `json:"counter_direction"`
	CounterStrength   float64      `json:"counter_strength"`
	CrossedAt         *time.Time   `json:"crossed_at,omitempty"`
	CurrentRange      float64      `json:"current_range"`
	BaselineRange     float64      `json:"baseline_range"`
	BaselineSamples   int          `json:"baseline_samples"`
	VolatilityFactor  float64      `json:"volatility_factor"`
	VolatilityRegime  string       `json:"volatility_regime"`
	RawConfidence     float64      `json:"raw_confidence"`
	Adjustments       []Adjustment `json:"adjustments"`
	ForcedDirectional bool         `json:"forced_directional,omitempty"`
}

// Verification represents the realized outcome of a predicted hour.
type Verification struct {
	ActualClose     float64
	ActualDirection Direction
	Result          VerificationResult
	VerifiedAt      time.Time
}

// BlockPrediction represents the hourly forecast produced at the decision point of a ticker hour.
type BlockPrediction struct {
	ID                 string
	Ticker             string
	HourStart          time.Time
	ReferenceOpen      float64
	PredictedDirection Direction
	Confidence         float64
	Tree               Tree
	Signals            SignalSnapshot
	CreatedAt          time.Time

	// Verification fields, set once after the hour closes.
	ActualClose *float64
	Result      *VerificationResult
	VerifiedAt  *time.Time
}

// NewBlockPrediction initializes a new unverified block prediction. The creation time is kept to
// the second, the precision every store persists.
func NewBlockPrediction(ticker string, hourStart time.Time, referenceOpen float64, direction Direction,
	confidence float64, tree Tree, signals SignalSnapshot, createdAt time.Time) *BlockPrediction {
	return &BlockPrediction{
		ID:                 uuid.New().String(),
		Ticker:             ticker,
		HourStart:          HourStart(hourStart),
		ReferenceOpen:      referenceOpen,
		PredictedDirection: direction,
		Confidence:         confidence,
		Tree:               tree,
		Signals:            signals,
		CreatedAt:          createdAt.UTC().Truncate(time.Second),
	}
}

// Status returns the verification status of the prediction.
func (p *BlockPrediction) Status() PredictionStatus {
	if p.VerifiedAt != nil {
		return Verified
	}

	return Pending
}

// ApplyVerification sets the verification fields of the prediction, keeping the verification
// time to the second. It errors if the prediction has already been verified.
func (p *BlockPrediction) ApplyVerification(v Verification) error {
	if p.VerifiedAt != nil {
		return fmt.Errorf("prediction %s already verified at %s", p.ID, p.VerifiedAt.Format(time.RFC3339))
	}

	actualClose := v.ActualClose
	result := v.Result
	verifiedAt := v.VerifiedAt.UTC().Truncate(time.Second)

	p.ActualClose = &actualClose
	p.Result = &result
	p.VerifiedAt = &verifiedAt

	return nil
}

// Clone returns a deep copy of the prediction.
func (p *BlockPrediction) Clone() *BlockPrediction {
	c := *p
	c.Signals.Adjustments = append([]Adjustment(nil), p.Signals.Adjustments...)
	if p.Signals.CrossedAt != nil {
		crossedAt := *p.Signals.CrossedAt
		c.Signals.CrossedAt = &crossedAt
	}
	if p.ActualClose != nil {
		actualClose := *p.ActualClose
		c.ActualClose = &actualClose
	}
	if p.Result != nil {
		result := *p.Result
		c.Result = &result
	}
	if p.VerifiedAt != nil {
		verifiedAt := *p.VerifiedAt
		c.VerifiedAt = &verifiedAt
	}

	return &c
}
