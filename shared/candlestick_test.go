package shared

import (
	"math"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/tidwall/gjson"
)

func TestParseCandlesticks(t *testing.T) {
	market := "^GSPC"
	timeframe := OneMinute
	data := `[{"open":10,"close":12,"high":15,"low":8, "volume":5,"date":"2025-02-04 15:05:00"}]`
	gjd := gjson.Parse(data).Array()

	// Ensure candlesticks data can be parsed.
	loc, err := time.LoadLocation(NewYorkLocation)
	assert.NoError(t, err)
	candles, err := ParseCandlesticks(gjd, market, timeframe, loc)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 1)
	assert.Equal(t, candles[0].Open, float64(10))
	assert.Equal(t, candles[0].Close, float64(12))
	assert.Equal(t, candles[0].High, float64(15))
	assert.Equal(t, candles[0].Low, float64(8))
	assert.Equal(t, candles[0].Volume, float64(5))
	assert.Equal(t, candles[0].Market, market)
	assert.Equal(t, candles[0].Timeframe, OneMinute)

	// Ensure parsed dates are normalized to utc.
	assert.True(t, candles[0].Date.Location() == time.UTC)
	assert.Equal(t, candles[0].Date, time.Date(2025, 2, 4, 20, 5, 0, 0, time.UTC))

	// Ensure a nil location defaults to utc.
	candles, err = ParseCandlesticks(gjd, market, timeframe, nil)
	assert.NoError(t, err)
	assert.Equal(t, candles[0].Date, time.Date(2025, 2, 4, 15, 5, 0, 0, time.UTC))

	// Ensure malformed dates error.
	bad := gjson.Parse(`[{"open":10,"close":12,"high":15,"low":8,"date":"04/02/2025"}]`).Array()
	_, err = ParseCandlesticks(bad, market, timeframe, loc)
	assert.Error(t, err)
}

func TestCandlestickIsValid(t *testing.T) {
	date := time.Date(2025, 2, 4, 15, 5, 0, 0, time.UTC)
	tests := []struct {
		name   string
		candle Candlestick
		want   bool
	}{
		{
			name:   "valid candle",
			candle: Candlestick{Open: 10, High: 12, Low: 9, Close: 11, Date: date},
			want:   true,
		},
		{
			name:   "zero price",
			candle: Candlestick{Open: 0, High: 12, Low: 9, Close: 11, Date: date},
			want:   false,
		},
		{
			name:   "nan close",
			candle: Candlestick{Open: 10, High: 12, Low: 9, Close: math.NaN(), Date: date},
			want:   false,
		},
		{
			name:   "inverted range",
			candle: Candlestick{Open: 10, High: 9, Low: 12, Close: 11, Date: date},
			want:   false,
		},
		{
			name:   "missing date",
			candle: Candlestick{Open: 10, High: 12, Low: 9, Close: 11},
			want:   false,
		},
	}

	for _, test := range tests {
		valid := test.candle.IsValid()
		if valid != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, valid)
		}
	}

	candle := Candlestick{Open: 10, High: 12, Low: 9, Close: 11, Date: date}
	assert.Equal(t, candle.Range(), float64(3))
}
