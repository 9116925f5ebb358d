package database

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dnldd/blockcast/shared"
)

// predictionKey uniquely identifies a prediction by ticker and hour.
type predictionKey struct {
	ticker    string
	hourStart int64
}

// newPredictionKey creates the key of the provided ticker hour.
func newPredictionKey(ticker string, hourStart time.Time) predictionKey {
	return predictionKey{ticker: ticker, hourStart: shared.HourStart(hourStart).Unix()}
}

// MemoryStore is an in-memory prediction store, used for backtests and tests.
type MemoryStore struct {
	mtx  sync.RWMutex
	data map[predictionKey]*shared.BlockPrediction
}

// Ensure the memory store implements the PredictionStore interface.
var _ shared.PredictionStore = (*MemoryStore)(nil)

// NewMemoryStore initializes a new in-memory prediction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[predictionKey]*shared.BlockPrediction),
	}
}

// InsertPrediction atomically stores the provided prediction unless one already exists for its
// ticker and hour.
func (s *MemoryStore) InsertPrediction(_ context.Context, prediction *shared.BlockPrediction) (*shared.BlockPrediction, bool, error) {
	if prediction == nil || prediction.Ticker == "" {
		return nil, false, shared.ErrInvalidInput
	}

	key := newPredictionKey(prediction.Ticker, prediction.HourStart)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if existing, ok := s.data[key]; ok {
		return existing.Clone(), false, nil
	}

	s.data[key] = prediction.Clone()

	return prediction.Clone(), true, nil
}

// FetchPrediction returns the prediction for the provided ticker and hour.
func (s *MemoryStore) FetchPrediction(_ context.Context, ticker string, hourStart time.Time) (*shared.BlockPrediction, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	prediction, ok := s.data[newPredictionKey(ticker, hourStart)]
	if !ok {
		return nil, shared.ErrPredictionNotFound
	}

	return prediction.Clone(), nil
}

// RecordVerification sets the verification fields of the prediction for the provided ticker and
// hour if they are not already set.
func (s *MemoryStore) RecordVerification(_ context.Context, ticker string, hourStart time.Time, verification shared.Verification) (*shared.BlockPrediction, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	prediction, ok := s.data[newPredictionKey(ticker, hourStart)]
	if !ok {
		return nil, false, shared.ErrPredictionNotFound
	}

	if prediction.Status() == shared.Verified {
		return prediction.Clone(), false, nil
	}

	err := prediction.ApplyVerification(verification)
	if err != nil {
		return nil, false, fmt.Errorf("applying verification: %w", err)
	}

	return prediction.Clone(), true, nil
}

// FetchPredictions returns the predictions of the provided ticker with hour starts in
// [start, end), ordered by hour start.
func (s *MemoryStore) FetchPredictions(_ context.Context, ticker string, start time.Time, end time.Time) ([]*shared.BlockPrediction, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var predictions []*shared.BlockPrediction
	for key, prediction := range s.data {
		if key.ticker != ticker {
			continue
		}
		if prediction.HourStart.Before(start) || !prediction.HourStart.Before(end) {
			continue
		}
		predictions = append(predictions, prediction.Clone())
	}

	slices.SortFunc(predictions, func(a, b *shared.BlockPrediction) int {
		return a.HourStart.Compare(b.HourStart)
	})

	return predictions, nil
}
