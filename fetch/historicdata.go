package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HistoricDataConfig represents the historic data source configuration.
type HistoricDataConfig struct {
	// Market represents the historic data market.
	Market string
	// Timeframe represents the timeframe for the historic data.
	Timeframe shared.Timeframe
	// FilePath is the filepath to the historic market data.
	FilePath string
	// Location is the location the historic data dates are expressed in.
	Location *time.Location
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricDataConfig) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("historic data market cannot be an empty string"))
	}
	if cfg.Timeframe.Duration() == 0 {
		errs = errors.Join(errs, fmt.Errorf("unknown timeframe provided: %s", cfg.Timeframe.String()))
	}
	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("historic data filepath cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// HistoricData represents historic market data. It serves as the bar source of backtests.
type HistoricData struct {
	cfg     *HistoricDataConfig
	candles []shared.Candlestick
}

// Ensure historic data implements the BarSource interface.
var _ shared.BarSource = (*HistoricData)(nil)

// loadHistoricData loads the historic data bytes from the provided file path.
func loadHistoricData(filepath string) ([]gjson.Result, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading historic data from file with path '%s': %v", filepath, err)
	}

	parsed := gjson.ParseBytes(readb)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("historic data in '%s' is not a json array", filepath)
	}

	return parsed.Array(), nil
}

// NewHistoricData initializes a new historic data source.
func NewHistoricData(cfg *HistoricDataConfig) (*HistoricData, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b, err := loadHistoricData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %v", err)
	}

	candles, err := shared.ParseCandlesticks(b, cfg.Market, cfg.Timeframe, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("parsing candlesticks: %v", err)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles found in historic data: %w", shared.ErrInsufficientData)
	}

	slices.SortStableFunc(candles, func(a, b shared.Candlestick) int {
		return a.Date.Compare(b.Date)
	})

	historicData := &HistoricData{
		cfg:     cfg,
		candles: candles,
	}

	first, last := historicData.Span()
	cfg.Logger.Info().Msgf("loaded %d %s candles for %s covering %.2f hours, from %s, to %s",
		len(candles), cfg.Timeframe.String(), cfg.Market, last.Sub(first).Hours(),
		first.Format(time.RFC1123), last.Format(time.RFC1123))

	return historicData, nil
}

// Market returns the market of the historic data.
func (h *HistoricData) Market() string {
	return h.cfg.Market
}

// Span returns the dates of the first and last candles of the historic data.
func (h *HistoricData) Span() (time.Time, time.Time) {
	return h.candles[0].Date, h.candles[len(h.candles)-1].Date
}

// Hours returns the start of every hour covered by the historic data, in order.
func (h *HistoricData) Hours() []time.Time {
	var hours []time.Time
	for idx := range h.candles {
		hourStart := shared.HourStart(h.candles[idx].Date)
		if len(hours) == 0 || !hours[len(hours)-1].Equal(hourStart) {
			hours = append(hours, hourStart)
		}
	}

	return hours
}

// FetchBars returns the candlesticks of the provided ticker with dates in [start, end), ordered
// by date.
func (h *HistoricData) FetchBars(_ context.Context, ticker string, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	if ticker != h.cfg.Market {
		return nil, fmt.Errorf("no historic data for %s, only %s is available", ticker, h.cfg.Market)
	}

	byDate := func(c shared.Candlestick, t time.Time) int {
		return c.Date.Compare(t)
	}
	lo, _ := slices.BinarySearchFunc(h.candles, start, byDate)
	hi, _ := slices.BinarySearchFunc(h.candles, end, byDate)
	if lo >= hi {
		return nil, nil
	}

	candles := make([]shared.Candlestick, hi-lo)
	copy(candles, h.candles[lo:hi])

	return candles, nil
}
