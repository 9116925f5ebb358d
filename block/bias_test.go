package block

import (
	"errors"
	"testing"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/peterldowns/testy/assert"
)

func TestAnalyzeBias(t *testing.T) {
	hourStart := time.Date(2025, 2, 4, 14, 0, 0, 0, time.UTC)
	segCfg := DefaultSegmenterConfig()
	epsilon := DefaultCalibration().BiasEpsilonPercent

	tests := []struct {
		name         string
		path         []waypoint
		vol          VolatilityProfile
		direction    shared.Direction
		displacement float64
		strength     float64
	}{
		{
			name:         "upward bias",
			path:         continuationPath,
			vol:          *unitProfile(),
			direction:    shared.Up,
			displacement: 0.3,
			strength:     0.3,
		},
		{
			name:         "downward bias",
			path:         []waypoint{{0, 100}, {17, 99.7}, {25, 99.6}, {34, 99.5}, {41, 99.4}, {59, 99.3}},
			vol:          *unitProfile(),
			direction:    shared.Down,
			displacement: -0.3,
			strength:     0.3,
		},
		{
			name:         "flat bias",
			path:         flatBiasPath,
			vol:          *unitProfile(),
			direction:    Flat,
			displacement: 0.02,
			strength:     0.02,
		},
		{
			name:         "high volatility weakens the bias",
			path:         continuationPath,
			vol:          VolatilityProfile{Factor: MaxNormalizationFactor, Regime: HighVolatility},
			direction:    shared.Up,
			displacement: 0.3,
			strength:     0.06,
		},
		{
			name:         "low volatility strengthens the bias",
			path:         continuationPath,
			vol:          VolatilityProfile{Factor: MinNormalizationFactor, Regime: LowVolatility},
			direction:    shared.Up,
			displacement: 0.3,
			strength:     1.5,
		},
		{
			name:         "high volatility widens the flat band",
			path:         []waypoint{{0, 100}, {17, 100.2}, {25, 100.3}, {34, 100.4}, {41, 100.5}, {59, 100.6}},
			vol:          VolatilityProfile{Factor: MaxNormalizationFactor, Regime: HighVolatility},
			direction:    Flat,
			displacement: 0.2,
			strength:     0.04,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := Segment(&segCfg, testTicker, hourStart, hourCandles(hourStart, tt.path))
			assert.NoError(t, err)

			bias, err := AnalyzeBias(window, &tt.vol, epsilon)
			assert.NoError(t, err)
			assert.Equal(t, bias.Direction, tt.direction)
			assert.True(t, approxEqual(bias.Displacement, tt.displacement))
			assert.True(t, approxEqual(bias.Strength, tt.strength))
		})
	}
}

func TestAnalyzeBiasInvalidWindow(t *testing.T) {
	// Ensure a window without a reference open errors.
	window := &HourWindow{Ticker: testTicker}
	_, err := AnalyzeBias(window, unitProfile(), 0.05)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	// Ensure a window without a block 1 close errors.
	window.ReferenceOpen = 100
	_, err = AnalyzeBias(window, unitProfile(), 0.05)
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))
}
