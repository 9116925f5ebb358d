package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

func TestHistoricDataConfigValidate(t *testing.T) {
	cfg := &HistoricDataConfig{}
	assert.Error(t, cfg.Validate())

	_, err := NewHistoricData(cfg)
	assert.Error(t, err)

	// Ensure a missing file errors.
	_, err = NewHistoricData(&HistoricDataConfig{
		Market:    "^GSPC",
		Timeframe: shared.OneMinute,
		FilePath:  "../testdata/missing.json",
		Logger:    &log.Logger,
	})
	assert.Error(t, err)
}

func TestHistoricalData(t *testing.T) {
	loc, err := time.LoadLocation(shared.NewYorkLocation)
	assert.NoError(t, err)

	market := "^GSPC"
	cfg := &HistoricDataConfig{
		Market:    market,
		Timeframe: shared.OneMinute,
		FilePath:  "../testdata/historicdata.json",
		Location:  loc,
		Logger:    &log.Logger,
	}

	// Ensure historic data can be initialized.
	historicData, err := NewHistoricData(cfg)
	assert.NoError(t, err)
	assert.Equal(t, historicData.Market(), market)

	// Ensure the span is ordered and expressed in UTC.
	first, last := historicData.Span()
	assert.Equal(t, first, time.Date(2025, 2, 4, 14, 0, 0, 0, time.UTC))
	assert.Equal(t, last, time.Date(2025, 2, 4, 17, 59, 0, 0, time.UTC))

	// Ensure every covered hour is listed.
	hours := historicData.Hours()
	assert.Equal(t, len(hours), 4)
	for idx := range hours {
		assert.Equal(t, hours[idx], first.Add(time.Hour*time.Duration(idx)))
	}

	ctx := context.Background()

	// Ensure bars can be fetched for a range.
	candles, err := historicData.FetchBars(ctx, market, first, first.Add(time.Minute*42))
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 42)
	assert.Equal(t, candles[0].Date, first)
	assert.Equal(t, candles[0].Open, float64(100))
	for idx := 1; idx < len(candles); idx++ {
		assert.True(t, candles[idx].Date.After(candles[idx-1].Date))
	}

	// Ensure returned bars do not alias the loaded data.
	candles[0].Close = 0
	again, err := historicData.FetchBars(ctx, market, first, first.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, again[0].Close, float64(100))

	// Ensure ranges outside the data are empty.
	candles, err = historicData.FetchBars(ctx, market, last.Add(time.Hour), last.Add(time.Hour*2))
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 0)

	// Ensure fetching bars of an unknown market errors.
	_, err = historicData.FetchBars(ctx, "^IXIC", first, last)
	assert.Error(t, err)
}
