package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/tidwall/gjson"
)

type FMPMock struct {
	fetchIndexIntradayHistoricalData []gjson.Result
	fetchIndexIntradayHistoricalErr  error

	lastStart time.Time
	lastEnd   time.Time
}

func (m *FMPMock) FetchIndexIntradayHistorical(ctx context.Context, market string,
	timeframe shared.Timeframe, start time.Time, end time.Time) ([]gjson.Result, error) {
	m.lastStart = start
	m.lastEnd = end
	return m.fetchIndexIntradayHistoricalData, m.fetchIndexIntradayHistoricalErr
}

func TestFMPConfigValidate(t *testing.T) {
	cfg := &FMPConfig{}
	err := cfg.Validate()
	assert.Error(t, err)

	_, err = NewFMPClient(cfg)
	assert.Error(t, err)

	cfg = &FMPConfig{APIKey: "key", BaseURL: BaseURL}
	assert.NoError(t, cfg.Validate())
}

func TestFMPClient(t *testing.T) {
	data := `[{"open":10,"close":12,"high":15,"low":8, "volume":5,"date":"2025-02-04 09:05:00"}]`

	var requested *url.URL
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL
		if r.URL.Query().Get("symbol") == "^FAIL" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"Error Message":"invalid api key"}`))
			return
		}
		_, _ = w.Write([]byte(data))
	}))
	defer server.Close()

	// Ensure the fmp client can be created.
	cfg := &FMPConfig{
		APIKey:  "key",
		BaseURL: server.URL,
	}

	fc, err := NewFMPClient(cfg)
	assert.NoError(t, err)

	// Ensure urls can be formed accurately.
	params := url.Values{}
	params.Add("a", "bbb")
	params.Add("b", "ccc")

	formedUrl := fc.formURL("/path", params.Encode())
	assert.Equal(t, formedUrl, server.URL+"/path?a=bbb&b=ccc")

	ctx := context.Background()
	start := time.Date(2025, 2, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	// Ensure one minute candles can be fetched.
	res, err := fc.FetchIndexIntradayHistorical(ctx, "^GSPC", shared.OneMinute, start, end)
	assert.NoError(t, err)
	assert.Equal(t, len(res), 1)
	assert.Equal(t, requested.Path, "/historical-chart/1min")
	assert.Equal(t, requested.Query().Get("from"), "2025-02-04")
	assert.Equal(t, requested.Query().Get("to"), "2025-02-04")
	assert.Equal(t, requested.Query().Get("apikey"), "key")

	// Ensure other supported timeframes use their paths.
	_, err = fc.FetchIndexIntradayHistorical(ctx, "^GSPC", shared.FiveMinute, start, time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, requested.Path, "/historical-chart/5min")
	assert.Equal(t, requested.Query().Get("to"), "")

	_, err = fc.FetchIndexIntradayHistorical(ctx, "^GSPC", shared.OneHour, start, end)
	assert.NoError(t, err)
	assert.Equal(t, requested.Path, "/historical-chart/1hour")

	// Ensure unknown timeframes error.
	_, err = fc.FetchIndexIntradayHistorical(ctx, "^GSPC", shared.Timeframe(99), start, end)
	assert.Error(t, err)

	// Ensure non ok responses error.
	_, err = fc.FetchIndexIntradayHistorical(ctx, "^FAIL", shared.OneMinute, start, end)
	assert.Error(t, err)

	// Ensure cancelled requests error.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fc.FetchIndexIntradayHistorical(cctx, "^GSPC", shared.OneMinute, start, end)
	assert.Error(t, err)
}

func TestFMPSource(t *testing.T) {
	loc, err := time.LoadLocation(shared.NewYorkLocation)
	assert.NoError(t, err)

	data := `[
		{"open":12,"close":13,"high":14,"low":11,"volume":5,"date":"2025-02-04 10:00:00"},
		{"open":11,"close":12,"high":13,"low":10,"volume":5,"date":"2025-02-04 09:01:00"},
		{"open":10,"close":11,"high":12,"low":9,"volume":5,"date":"2025-02-04 09:00:00"},
		{"open":9,"close":10,"high":11,"low":8,"volume":5,"date":"2025-02-04 08:59:00"}
	]`

	fmpMock := &FMPMock{fetchIndexIntradayHistoricalData: gjson.Parse(data).Array()}

	// Ensure the source config is validated.
	_, err = NewFMPSource(&FMPSourceConfig{})
	assert.Error(t, err)

	source, err := NewFMPSource(&FMPSourceConfig{
		Fetcher:   fmpMock,
		Timeframe: shared.OneMinute,
		Location:  loc,
	})
	assert.NoError(t, err)

	// Ensure candles are parsed in exchange time, filtered to the range and ordered by date.
	start := time.Date(2025, 2, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	candles, err := source.FetchBars(context.Background(), "^GSPC", start, end)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[0].Date, start)
	assert.Equal(t, candles[1].Date, start.Add(time.Minute))
	assert.Equal(t, candles[0].Market, "^GSPC")
	assert.Equal(t, candles[0].Timeframe, shared.OneMinute)
	assert.Equal(t, fmpMock.lastStart.Location().String(), shared.NewYorkLocation)

	// Ensure fetch errors are returned.
	fmpMock.fetchIndexIntradayHistoricalErr = errors.New("unexpected error")
	_, err = source.FetchBars(context.Background(), "^GSPC", start, end)
	assert.Error(t, err)

	// Ensure malformed dates error.
	fmpMock.fetchIndexIntradayHistoricalErr = nil
	fmpMock.fetchIndexIntradayHistoricalData = gjson.Parse(`[{"open":1,"close":1,"high":1,"low":1,"date":"04/02/2025"}]`).Array()
	_, err = source.FetchBars(context.Background(), "^GSPC", start, end)
	assert.Error(t, err)
}
