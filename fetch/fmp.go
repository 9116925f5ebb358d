package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/tidwall/gjson"
)

const (
	// BaseURL is the FMP stable api base url.
	BaseURL = "https://financialmodelingprep.com/stable"

	// FMP intraday historical chart paths.
	oneMinuteHistoricalPath  = "/historical-chart/1min"
	fiveMinuteHistoricalPath = "/historical-chart/5min"
	oneHourHistoricalPath    = "/historical-chart/1hour"

	// fmpDateLayout is the date only layout of the FMP range parameters.
	fmpDateLayout = "2006-01-02"
)

// FMPConfig represents the configuration for the FMP client.
type FMPConfig struct {
	// APIkey is the FMP API Key.
	APIKey string
	// BaseURL is the base URL for the FMP API.
	BaseURL string
}

// Validate asserts the config sane inputs.
func (cfg *FMPConfig) Validate() error {
	var errs error

	if cfg.APIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("fmp api key cannot be an empty string"))
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("fmp base url cannot be an empty string"))
	}

	return errs
}

// FMPClient represents the Financial Modeling Preparation (FMP) API client.
type FMPClient struct {
	cfg    *FMPConfig
	httpc  http.Client
	bufMtx sync.Mutex
	buf    *bytes.Buffer
}

// Ensure the FMPClient implements the MarketFetcher interface.
var _ shared.MarketFetcher = (*FMPClient)(nil)

// NewFMPClient instantiates a new FMP client.
func NewFMPClient(cfg *FMPConfig) (*FMPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &FMPClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 5},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}, nil
}

// formURL creates full urls including paramters for the api.
func (c *FMPClient) formURL(path string, params string) string {
	c.bufMtx.Lock()
	defer c.bufMtx.Unlock()

	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// FetchIndexIntradayHistorical fetches intraday historical market data.
func (c *FMPClient) FetchIndexIntradayHistorical(ctx context.Context, market string, timeframe shared.Timeframe, start time.Time, end time.Time) ([]gjson.Result, error) {
	params := url.Values{}
	params.Add("symbol", market)
	params.Add("apikey", c.cfg.APIKey)
	params.Add("from", start.Format(fmpDateLayout))
	if !end.IsZero() {
		params.Add("to", end.Format(fmpDateLayout))
	}

	var formedURL string

	switch timeframe {
	case shared.OneMinute:
		formedURL = c.formURL(oneMinuteHistoricalPath, params.Encode())
	case shared.FiveMinute:
		formedURL = c.formURL(fiveMinuteHistoricalPath, params.Encode())
	case shared.OneHour:
		formedURL = c.formURL(oneHourHistoricalPath, params.Encode())
	default:
		return nil, fmt.Errorf("unknown timeframe provided: %s", timeframe.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching intraday historical data (%s) for %s: %w", timeframe.String(), market, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching intraday historical data for %s: %d (%s)",
			market, resp.StatusCode, gjson.GetBytes(body, "Error Message").String())
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("unexpected intraday historical data payload for %s", market)
	}

	return parsed.Array(), nil
}

// FMPSourceConfig represents the configuration of the FMP bar source.
type FMPSourceConfig struct {
	// Fetcher fetches raw intraday market data.
	Fetcher shared.MarketFetcher
	// Timeframe is the timeframe of the fetched candles.
	Timeframe shared.Timeframe
	// Location is the exchange location the FMP dates are expressed in.
	Location *time.Location
}

// Validate asserts the config sane inputs.
func (cfg *FMPSourceConfig) Validate() error {
	var errs error

	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("market fetcher cannot be nil"))
	}
	if cfg.Timeframe.Duration() == 0 {
		errs = errors.Join(errs, fmt.Errorf("unknown timeframe provided: %s", cfg.Timeframe.String()))
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}

	return errs
}

// FMPSource adapts the FMP client to a bar source.
type FMPSource struct {
	cfg *FMPSourceConfig
}

// Ensure the FMPSource implements the BarSource interface.
var _ shared.BarSource = (*FMPSource)(nil)

// NewFMPSource initializes a new FMP bar source.
func NewFMPSource(cfg *FMPSourceConfig) (*FMPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &FMPSource{cfg: cfg}, nil
}

// FetchBars returns the candlesticks of the provided ticker with dates in [start, end), ordered
// by date.
func (s *FMPSource) FetchBars(ctx context.Context, ticker string, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	// FMP ranges are expressed as exchange dates, inclusive on both ends.
	from := start.In(s.cfg.Location)
	to := end.Add(-time.Nanosecond).In(s.cfg.Location)

	data, err := s.cfg.Fetcher.FetchIndexIntradayHistorical(ctx, ticker, s.cfg.Timeframe, from, to)
	if err != nil {
		return nil, err
	}

	candles, err := shared.ParseCandlesticks(data, ticker, s.cfg.Timeframe, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("parsing candlesticks for %s: %w", ticker, err)
	}

	return filterCandles(candles, start, end), nil
}

// filterCandles returns the candles with dates in [start, end), ordered by date.
func filterCandles(candles []shared.Candlestick, start time.Time, end time.Time) []shared.Candlestick {
	filtered := make([]shared.Candlestick, 0, len(candles))
	for idx := range candles {
		if candles[idx].Date.Before(start) || !candles[idx].Date.Before(end) {
			continue
		}
		filtered = append(filtered, candles[idx])
	}

	slices.SortStableFunc(filtered, func(a, b shared.Candlestick) int {
		return a.Date.Compare(b.Date)
	})

	return filtered
}
