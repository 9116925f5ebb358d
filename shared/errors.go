package shared

import "errors"

var (
	// ErrInsufficientData is returned when there is not enough market data to
	// derive a signal.
	ErrInsufficientData = errors.New("insufficient market data")

	// ErrPredictionNotFound is returned when no prediction exists for a ticker hour.
	ErrPredictionNotFound = errors.New("prediction not found")

	// ErrInvalidConfidence is returned when a computed confidence is not a finite number.
	ErrInvalidConfidence = errors.New("invalid confidence")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
