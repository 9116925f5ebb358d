package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dnldd/blockcast/block"
	"github.com/dnldd/blockcast/database"
	"github.com/dnldd/blockcast/fetch"
	"github.com/dnldd/blockcast/metrics"
	"github.com/dnldd/blockcast/shared"
	"github.com/dnldd/blockcast/trigger"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// Supported prediction stores.
	RqliteStore   = "rqlite"
	PostgresStore = "postgres"
	MemoryStore   = "memory"

	// accuracyWindow is the span of recent predictions summarized after each verification.
	accuracyWindow = time.Hour * 24
	// shutdownTimeout is the deadline for gracefully shutting down the metrics server.
	shutdownTimeout = time.Second * 5
)

// BlockcastConfig represents the configuration struct for the blockcast service.
type BlockcastConfig struct {
	// Tickers represents the tracked tickers.
	Tickers []string
	// FMPAPIkey is the FMP service API Key.
	FMPAPIKey string
	// Backtest is the backtesting flag.
	Backtest bool
	// BacktestDataFilepath is the filepath to the backtest data of the first ticker.
	BacktestDataFilepath string
	// Store is the prediction store kind, one of rqlite, postgres or memory.
	Store string
	// DBEndpoint is the rqlite database endpoint.
	DBEndpoint string
	// DBUser is the rqlite database user.
	DBUser string
	// DBPass is the rqlite database user pass.
	DBPass string
	// PostgresDSN is the postgres connection string.
	PostgresDSN string
	// MetricsAddr is the listen address of the metrics endpoint. Metrics are not served if empty.
	MetricsAddr string
	// BaselineMode is the volatility baseline mode, one of samehour or trailing.
	BaselineMode string
	// BaselineSessions is the number of prior sessions averaged in same hour mode.
	BaselineSessions int
	// BaselineHours is the number of trailing hours averaged in trailing mode.
	BaselineHours int
	// ForceDirectional makes choppy hours predict the early bias direction.
	ForceDirectional bool
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *BlockcastConfig) Validate() error {
	var errs error

	if len(cfg.Tickers) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no tickers provided for blockcast service"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	switch cfg.Backtest {
	case true:
		if cfg.BacktestDataFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("backtest data filepath cannot be an empty string"))
		}
	case false:
		if cfg.FMPAPIKey == "" {
			errs = errors.Join(errs, fmt.Errorf("fmp api key cannot be an empty string"))
		}
	}

	switch cfg.Store {
	case RqliteStore:
		if cfg.DBEndpoint == "" {
			errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
		}
	case PostgresStore:
		if cfg.PostgresDSN == "" {
			errs = errors.Join(errs, fmt.Errorf("postgres dsn cannot be an empty string"))
		}
	case MemoryStore, "":
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown store provided: %s", cfg.Store))
	}

	if _, err := block.ParseBaselineMode(cfg.BaselineMode); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.BaselineSessions < 0 {
		errs = errors.Join(errs, fmt.Errorf("baseline sessions cannot be negative"))
	}
	if cfg.BaselineHours < 0 {
		errs = errors.Join(errs, fmt.Errorf("baseline hours cannot be negative"))
	}

	return errs
}

// Blockcast represents the hourly block prediction service.
type Blockcast struct {
	cfg            *BlockcastConfig
	store          shared.PredictionStore
	closeStore     func()
	engine         *block.Engine
	verifier       *block.Verifier
	verifyGrace    time.Duration
	triggerManager *trigger.Manager
	historicData   *fetch.HistoricData
	recorder       *metrics.Recorder
	logger         *zerolog.Logger
	wg             sync.WaitGroup
}

// newStore creates the configured prediction store along with its release function.
func newStore(ctx context.Context, cfg *BlockcastConfig, logger *zerolog.Logger) (shared.PredictionStore, func(), error) {
	switch cfg.Store {
	case RqliteStore:
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err := database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DBEndpoint,
			User:     cfg.DBUser,
			Pass:     cfg.DBPass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating database: %w", err)
		}

		return db, func() {}, nil

	case PostgresStore:
		pool, err := database.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("creating postgres pool: %w", err)
		}

		err = database.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("running postgres migrations: %w", err)
		}

		return database.NewPostgresStore(pool), pool.Close, nil

	default:
		return database.NewMemoryStore(), func() {}, nil
	}
}

// NewBlockcast initializes a new blockcast service.
func NewBlockcast(ctx context.Context, cfg *BlockcastConfig) (*Blockcast, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "blockcast").Logger()

	_, loc, err := shared.NewYorkTime()
	if err != nil {
		return nil, fmt.Errorf("fetching new york time: %v", err)
	}

	var source shared.BarSource
	var historicData *fetch.HistoricData

	if cfg.Backtest {
		historicDataLogger := logger.With().Str("component", "historicdata").Logger()
		historicData, err = fetch.NewHistoricData(&fetch.HistoricDataConfig{
			Market:    cfg.Tickers[0],
			Timeframe: shared.OneMinute,
			FilePath:  cfg.BacktestDataFilepath,
			Location:  loc,
			Logger:    &historicDataLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating historic data: %v", err)
		}

		source = historicData
	} else {
		fmp, err := fetch.NewFMPClient(&fetch.FMPConfig{APIKey: cfg.FMPAPIKey, BaseURL: fetch.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("creating fmp client: %v", err)
		}

		source, err = fetch.NewFMPSource(&fetch.FMPSourceConfig{
			Fetcher:   fmp,
			Timeframe: shared.OneMinute,
			Location:  loc,
		})
		if err != nil {
			return nil, fmt.Errorf("creating fmp source: %v", err)
		}
	}

	store, closeStore, err := newStore(ctx, cfg, &logger)
	if err != nil {
		return nil, err
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	engineCfg := block.DefaultEngineConfig(source, store, &engineLogger)
	engineCfg.Baseline.Mode, _ = block.ParseBaselineMode(cfg.BaselineMode)
	if cfg.BaselineSessions > 0 {
		engineCfg.Baseline.Sessions = cfg.BaselineSessions
	}
	if cfg.BaselineHours > 0 {
		engineCfg.Baseline.Hours = cfg.BaselineHours
	}
	engineCfg.Calibration.ForceDirectionalFallback = cfg.ForceDirectional

	engine, err := block.NewEngine(&engineCfg)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("creating engine: %v", err)
	}

	verifierLogger := logger.With().Str("component", "verifier").Logger()
	verifierCfg := block.DefaultVerifierConfig(source, store, &verifierLogger)
	verifier, err := block.NewVerifier(&verifierCfg)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("creating verifier: %v", err)
	}

	service := &Blockcast{
		cfg:          cfg,
		store:        store,
		closeStore:   closeStore,
		engine:       engine,
		verifier:     verifier,
		verifyGrace:  verifierCfg.GraceBuffer,
		historicData: historicData,
		recorder:     metrics.New(),
		logger:       &logger,
	}

	if !cfg.Backtest {
		triggerLogger := logger.With().Str("component", "triggermanager").Logger()
		service.triggerManager, err = trigger.NewManager(&trigger.ManagerConfig{
			Tickers:         cfg.Tickers,
			Generate:        engine.Generate,
			Verify:          verifier.Verify,
			NotifyGenerated: service.notifyGenerated,
			NotifyVerified:  service.notifyVerified,
			JobScheduler:    gocron.NewScheduler(loc),
			Logger:          &triggerLogger,
		})
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("creating trigger manager: %v", err)
		}
	}

	return service, nil
}

// notifyGenerated records the provided generation result.
func (b *Blockcast) notifyGenerated(ticker string, result block.GenerateResult, elapsed time.Duration) {
	var tree string
	if result.Prediction != nil {
		tree = result.Prediction.Tree.String()
	}

	b.recorder.RecordGeneration(ticker, result.Outcome.String(), tree)
	b.recorder.RecordJobDuration(trigger.GenerateJob.String(), elapsed.Seconds())
	if result.Outcome == block.Generated {
		b.recorder.RecordConfidence(ticker, tree, result.Prediction.Confidence)
	}
}

// notifyVerified records the provided verification result and logs the recent accuracy of the
// ticker.
func (b *Blockcast) notifyVerified(ticker string, result block.VerifyResult, elapsed time.Duration) {
	b.recorder.RecordVerification(ticker, result.Outcome.String())
	b.recorder.RecordJobDuration(trigger.VerifyJob.String(), elapsed.Seconds())

	if result.Outcome != block.Verified || result.Prediction == nil || result.Prediction.Result == nil {
		return
	}

	pred := result.Prediction
	b.recorder.RecordResult(ticker, pred.Tree.String(), pred.Result.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	end := pred.HourStart.Add(time.Hour)
	preds, err := b.store.FetchPredictions(ctx, ticker, end.Add(-accuracyWindow), end)
	if err != nil {
		b.logger.Error().Msgf("fetching recent predictions for %s: %v", ticker, err)
		return
	}

	b.logAccuracy(ticker, block.SummarizeAccuracy(preds))
}

// logAccuracy logs the provided accuracy summary.
func (b *Blockcast) logAccuracy(ticker string, summary block.AccuracySummary) {
	overall := summary.Overall
	b.logger.Info().Msgf("%s accuracy: %.2f%% (%d/%d correct, %d pending)", ticker, overall.Percent,
		overall.Correct, overall.Verified, overall.Pending)

	for _, tree := range []shared.Tree{shared.TreeA, shared.TreeB, shared.TreeC} {
		acc := summary.ByTree[tree]
		if acc == nil || acc.Total == 0 {
			continue
		}
		b.logger.Info().Msgf("%s tree %s accuracy: %.2f%% (%d/%d correct, %d pending)", ticker, tree,
			acc.Percent, acc.Correct, acc.Verified, acc.Pending)
	}
}

// runBacktest replays the historic data, generating each hour's prediction at its decision point
// and verifying it after the hour closes.
func (b *Blockcast) runBacktest(ctx context.Context) (block.AccuracySummary, error) {
	ticker := b.historicData.Market()
	hours := b.historicData.Hours()

	for _, hourStart := range hours {
		if ctx.Err() != nil {
			return block.AccuracySummary{}, ctx.Err()
		}

		start := time.Now()
		genResult, err := b.engine.Generate(ctx, ticker, hourStart, block.DecisionPoint(hourStart))
		if err != nil {
			return block.AccuracySummary{}, fmt.Errorf("generating prediction: %w", err)
		}
		b.notifyGenerated(ticker, genResult, time.Since(start))

		if genResult.Prediction == nil {
			continue
		}

		start = time.Now()
		verifyResult, err := b.verifier.Verify(ctx, ticker, hourStart, hourStart.Add(time.Hour+b.verifyGrace))
		if err != nil {
			return block.AccuracySummary{}, fmt.Errorf("verifying prediction: %w", err)
		}
		b.recorder.RecordVerification(ticker, verifyResult.Outcome.String())
		b.recorder.RecordJobDuration(trigger.VerifyJob.String(), time.Since(start).Seconds())
		if verifyResult.Outcome == block.Verified && verifyResult.Prediction.Result != nil {
			b.recorder.RecordResult(ticker, verifyResult.Prediction.Tree.String(),
				verifyResult.Prediction.Result.String())
		}
	}

	first, last := b.historicData.Span()
	preds, err := b.store.FetchPredictions(ctx, ticker, shared.HourStart(first), last.Add(time.Hour))
	if err != nil {
		return block.AccuracySummary{}, fmt.Errorf("fetching backtest predictions: %w", err)
	}

	summary := block.SummarizeAccuracy(preds)
	b.logAccuracy(ticker, summary)

	return summary, nil
}

// serveMetrics serves the metrics endpoint until the provided context is cancelled.
func (b *Blockcast) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.recorder.Handler())

	server := &http.Server{
		Addr:              b.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			b.logger.Error().Msgf("shutting down metrics server: %v", err)
		}
	}()

	b.logger.Info().Msgf("serving metrics on %s", b.cfg.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		b.logger.Error().Msgf("serving metrics: %v", err)
	}
}

// Run handles the lifecycle processes of the blockcast service.
func (b *Blockcast) Run(ctx context.Context) {
	defer b.closeStore()

	if b.cfg.MetricsAddr != "" {
		b.wg.Add(1)
		go func() {
			b.serveMetrics(ctx)
			b.wg.Done()
		}()
	}

	if b.cfg.Backtest {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()

			summary, err := b.runBacktest(ctx)
			if err != nil {
				b.logger.Error().Msgf("running backtest: %v", err)
			} else {
				b.logger.Info().Msgf("backtest for %s done, %d predictions at %.2f%% accuracy",
					b.historicData.Market(), summary.Overall.Total, summary.Overall.Percent)
			}

			b.cfg.Cancel()
		}()
	} else {
		b.wg.Add(1)
		go func() {
			b.triggerManager.Run(ctx)
			b.wg.Done()
		}()
	}

	b.wg.Wait()
}
