package block

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/dnldd/blockcast/shared"
)

const testTicker = "^GSPC"

// waypoint pins the close of the candle starting at the provided minute of the hour.
type waypoint struct {
	minute int
	price  float64
}

// Candle paths through the observed blocks of an hour. Block closes land on minutes 17, 25, 34
// and 41 for one minute candles.
var (
	continuationPath = []waypoint{{0, 100}, {17, 100.3}, {25, 100.4}, {34, 100.5}, {41, 100.6}, {59, 100.9}}
	reversalPath     = []waypoint{{0, 100}, {17, 100.3}, {25, 99.8}, {34, 99.6}, {41, 99.5}, {59, 99.2}}
	lateReversalPath = []waypoint{{0, 100}, {17, 100.3}, {25, 100.2}, {30, 100.05}, {31, 99.9}, {34, 99.7}, {41, 99.6}, {59, 99.4}}
	choppyPath       = []waypoint{{0, 100}, {17, 100.3}, {25, 100.02}, {34, 99.98}, {41, 100.01}, {59, 100.05}}
	flatBiasPath     = []waypoint{{0, 100}, {17, 100.02}, {25, 100.1}, {34, 100.2}, {41, 100.3}, {59, 100.4}}
)

// interpolate returns the price of the path at the provided minute.
func interpolate(path []waypoint, minute int) float64 {
	for idx := 1; idx < len(path); idx++ {
		from, to := path[idx-1], path[idx]
		if minute >= from.minute && minute <= to.minute {
			frac := float64(minute-from.minute) / float64(to.minute-from.minute)
			return from.price + (to.price-from.price)*frac
		}
	}

	return path[len(path)-1].price
}

// hourCandles creates the one minute candles of an hour following the provided path. Each candle
// opens at the previous close.
func hourCandles(hourStart time.Time, path []waypoint) []shared.Candlestick {
	candles := make([]shared.Candlestick, 0, 60)
	prev := path[0].price
	for minute := range 60 {
		close := interpolate(path, minute)
		candles = append(candles, shared.Candlestick{
			Open:      prev,
			High:      math.Max(prev, close) + 0.01,
			Low:       math.Min(prev, close) - 0.01,
			Close:     close,
			Volume:    1000,
			Date:      hourStart.Add(time.Minute * time.Duration(minute)),
			Market:    testTicker,
			Timeframe: shared.OneMinute,
		})
		prev = close
	}

	return candles
}

// dropMinutes removes the candles starting at the provided minutes of the hour.
func dropMinutes(candles []shared.Candlestick, hourStart time.Time, minutes ...int) []shared.Candlestick {
	drop := make(map[time.Time]struct{}, len(minutes))
	for _, m := range minutes {
		drop[hourStart.Add(time.Minute*time.Duration(m))] = struct{}{}
	}

	var kept []shared.Candlestick
	for _, c := range candles {
		if _, ok := drop[c.Date]; !ok {
			kept = append(kept, c)
		}
	}

	return kept
}

// approxEqual checks whether the provided values are within a small tolerance of each other.
func approxEqual(a float64, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// unitProfile is a volatility profile without a baseline.
func unitProfile() *VolatilityProfile {
	vol := Normalize(0, nil)
	return &vol
}

// BarSourceMock serves candles from memory.
type BarSourceMock struct {
	mtx     sync.Mutex
	candles []shared.Candlestick
	err     error
	calls   int
}

func (m *BarSourceMock) FetchBars(ctx context.Context, ticker string, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	var candles []shared.Candlestick
	for _, c := range m.candles {
		if c.Market == ticker && !c.Date.Before(start) && c.Date.Before(end) {
			candles = append(candles, c)
		}
	}

	return candles, nil
}

// StoreMock is a prediction store whose every operation fails.
type StoreMock struct {
	fetchErr error
	err      error
}

func (m *StoreMock) InsertPrediction(ctx context.Context, prediction *shared.BlockPrediction) (*shared.BlockPrediction, bool, error) {
	return nil, false, m.err
}

func (m *StoreMock) FetchPrediction(ctx context.Context, ticker string, hourStart time.Time) (*shared.BlockPrediction, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return nil, shared.ErrPredictionNotFound
}

func (m *StoreMock) RecordVerification(ctx context.Context, ticker string, hourStart time.Time, verification shared.Verification) (*shared.BlockPrediction, bool, error) {
	return nil, false, m.err
}

func (m *StoreMock) FetchPredictions(ctx context.Context, ticker string, start time.Time, end time.Time) ([]*shared.BlockPrediction, error) {
	return nil, m.err
}

var errStoreUnreachable = errors.New("store unreachable")
