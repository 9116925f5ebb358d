package shared

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
)

// MarketFetcher defines the requirements for fetching index market data.
type MarketFetcher interface {
	// FetchIndexIntradayHistorical fetches intraday historical market data.
	FetchIndexIntradayHistorical(ctx context.Context, market string, timeframe Timeframe, start time.Time, end time.Time) ([]gjson.Result, error)
}

// BarSource defines the requirements for sourcing ordered candlesticks of a ticker.
type BarSource interface {
	// FetchBars returns the candlesticks of the provided ticker with dates in [start, end),
	// ordered by date.
	FetchBars(ctx context.Context, ticker string, start time.Time, end time.Time) ([]Candlestick, error)
}

// PredictionStore defines the requirements for persisting block predictions.
type PredictionStore interface {
	// InsertPrediction atomically stores the provided prediction unless one already exists for
	// its ticker and hour. The stored record is returned along with whether it was created by
	// this call.
	InsertPrediction(ctx context.Context, prediction *BlockPrediction) (*BlockPrediction, bool, error)
	// FetchPrediction returns the prediction for the provided ticker and hour.
	FetchPrediction(ctx context.Context, ticker string, hourStart time.Time) (*BlockPrediction, error)
	// RecordVerification sets the verification fields of the prediction for the provided ticker
	// and hour if they are not already set. The stored record is returned along with whether
	// this call applied the verification.
	RecordVerification(ctx context.Context, ticker string, hourStart time.Time, verification Verification) (*BlockPrediction, bool, error)
	// FetchPredictions returns the predictions of the provided ticker with hour starts in
	// [start, end), ordered by hour start.
	FetchPredictions(ctx context.Context, ticker string, start time.Time, end time.Time) ([]*BlockPrediction, error)
}
