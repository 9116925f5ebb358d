package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/blockcast/block"
	"github.com/dnldd/blockcast/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent workers.
	maxWorkers = 8
	// generateCron fires at the decision point of every hour, 42m51s past the hour.
	generateCron = "51 42 * * * *"
	// verifyCron fires 30 seconds after every hour closes.
	verifyCron = "30 0 * * * *"
	// defaultVerifyLookback is the default number of closed hours re-checked by each
	// verification pass.
	defaultVerifyLookback = 3
	// defaultJobTimeout is the default deadline of a single job.
	defaultJobTimeout = time.Second * 30
)

// JobKind represents the kind of a scheduled job.
type JobKind int

const (
	GenerateJob JobKind = iota
	VerifyJob
)

// String stringifies the provided job kind.
func (k JobKind) String() string {
	switch k {
	case GenerateJob:
		return "generate"
	case VerifyJob:
		return "verify"
	default:
		return "unknown"
	}
}

// JobSignal represents a signal to run a job for a ticker hour.
type JobSignal struct {
	Kind      JobKind
	Ticker    string
	HourStart time.Time
	At        time.Time
}

// GenerateFunc generates the prediction of a ticker hour as evaluated at the provided instant.
type GenerateFunc func(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (block.GenerateResult, error)

// VerifyFunc verifies the prediction of a ticker hour as evaluated at the provided instant.
type VerifyFunc func(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (block.VerifyResult, error)

// ManagerConfig represents the configuration for the trigger manager.
type ManagerConfig struct {
	// Tickers represents the tracked tickers.
	Tickers []string
	// Generate generates hourly predictions.
	Generate GenerateFunc
	// Verify verifies hourly predictions.
	Verify VerifyFunc
	// NotifyGenerated relays the result of a generation. Optional.
	NotifyGenerated func(ticker string, result block.GenerateResult, elapsed time.Duration)
	// NotifyVerified relays the result of a verification. Optional.
	NotifyVerified func(ticker string, result block.VerifyResult, elapsed time.Duration)
	// JobScheduler represents the job scheduler.
	JobScheduler *gocron.Scheduler
	// VerifyLookback is the number of closed hours re-checked by each verification pass.
	VerifyLookback int
	// JobTimeout is the deadline of a single job.
	JobTimeout time.Duration
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if len(cfg.Tickers) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no tickers provided"))
	}
	if cfg.Generate == nil {
		errs = errors.Join(errs, fmt.Errorf("generate function cannot be nil"))
	}
	if cfg.Verify == nil {
		errs = errors.Join(errs, fmt.Errorf("verify function cannot be nil"))
	}
	if cfg.JobScheduler == nil {
		errs = errors.Join(errs, fmt.Errorf("job scheduler cannot be nil"))
	}
	if cfg.VerifyLookback < 0 {
		errs = errors.Join(errs, fmt.Errorf("verify lookback cannot be negative"))
	}
	if cfg.JobTimeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("job timeout cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Stats represents the job counters of the trigger manager.
type Stats struct {
	Generated     uint64
	Skipped       uint64
	Verified      uint64
	Failed        uint64
	DroppedSignal uint64
}

// Manager schedules and runs the hourly generation and verification jobs of all tracked tickers.
type Manager struct {
	cfg        *ManagerConfig
	jobSignals chan JobSignal
	workers    chan struct{}
	wg         sync.WaitGroup

	generated     atomic.Uint64
	skipped       atomic.Uint64
	verified      atomic.Uint64
	failed        atomic.Uint64
	droppedSignal atomic.Uint64
}

// NewManager initializes a new trigger manager and schedules its jobs.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.VerifyLookback == 0 {
		cfg.VerifyLookback = defaultVerifyLookback
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	mgr := &Manager{
		cfg:        cfg,
		jobSignals: make(chan JobSignal, bufferSize),
		workers:    make(chan struct{}, maxWorkers),
	}

	_, err := cfg.JobScheduler.CronWithSeconds(generateCron).Do(mgr.generateJob)
	if err != nil {
		return nil, fmt.Errorf("scheduling generate job: %w", err)
	}

	_, err = cfg.JobScheduler.CronWithSeconds(verifyCron).Do(mgr.verifyJob)
	if err != nil {
		return nil, fmt.Errorf("scheduling verify job: %w", err)
	}

	return mgr, nil
}

// Stats returns the current job counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Generated:     m.generated.Load(),
		Skipped:       m.skipped.Load(),
		Verified:      m.verified.Load(),
		Failed:        m.failed.Load(),
		DroppedSignal: m.droppedSignal.Load(),
	}
}

// SendJobSignal relays the provided job signal for processing.
func (m *Manager) SendJobSignal(signal JobSignal) {
	select {
	case m.jobSignals <- signal:
		// do nothing.
	default:
		m.droppedSignal.Inc()
		m.cfg.Logger.Error().Msgf("job signal channel at capacity: %d/%d",
			len(m.jobSignals), bufferSize)
	}
}

// generateJob signals a prediction generation for the current hour of all tracked tickers.
func (m *Manager) generateJob() {
	now := m.cfg.Now()
	hourStart := shared.HourStart(now)

	for _, ticker := range m.cfg.Tickers {
		m.SendJobSignal(JobSignal{
			Kind:      GenerateJob,
			Ticker:    ticker,
			HourStart: hourStart,
			At:        now,
		})
	}
}

// verifyJob signals a verification of the recently closed hours of all tracked tickers.
// Previously pending hours are retried until they fall out of the lookback.
func (m *Manager) verifyJob() {
	now := m.cfg.Now()
	current := shared.HourStart(now)

	for _, ticker := range m.cfg.Tickers {
		for hour := m.cfg.VerifyLookback; hour >= 1; hour-- {
			m.SendJobSignal(JobSignal{
				Kind:      VerifyJob,
				Ticker:    ticker,
				HourStart: current.Add(-time.Duration(hour) * time.Hour),
				At:        now,
			})
		}
	}
}

// handleJobSignal processes the provided job signal.
func (m *Manager) handleJobSignal(ctx context.Context, signal JobSignal) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	start := time.Now()

	switch signal.Kind {
	case GenerateJob:
		result, err := m.cfg.Generate(ctx, signal.Ticker, signal.HourStart, signal.At)
		if err != nil {
			m.failed.Inc()
			m.cfg.Logger.Error().Msgf("generating prediction for %s at %s: %v", signal.Ticker,
				signal.HourStart.Format(time.RFC3339), err)
			return
		}

		switch result.Outcome {
		case block.Generated:
			m.generated.Inc()
		default:
			m.skipped.Inc()
		}

		if m.cfg.NotifyGenerated != nil {
			m.cfg.NotifyGenerated(signal.Ticker, result, time.Since(start))
		}

	case VerifyJob:
		result, err := m.cfg.Verify(ctx, signal.Ticker, signal.HourStart, signal.At)
		if err != nil {
			m.failed.Inc()
			m.cfg.Logger.Error().Msgf("verifying prediction for %s at %s: %v", signal.Ticker,
				signal.HourStart.Format(time.RFC3339), err)
			return
		}

		if result.Outcome == block.Verified {
			m.verified.Inc()
		}

		if m.cfg.NotifyVerified != nil {
			m.cfg.NotifyVerified(signal.Ticker, result, time.Since(start))
		}

	default:
		m.cfg.Logger.Error().Msgf("unknown job kind provided: %s", signal.Kind)
	}
}

// Run manages the lifecycle processes of the trigger manager.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.JobScheduler.IsRunning() {
		m.cfg.JobScheduler.StartAsync()
	}

	for {
		select {
		case <-ctx.Done():
			m.cfg.JobScheduler.Stop()
			m.wg.Wait()
			return

		case signal := <-m.jobSignals:
			// Wait for a free worker, giving up on shutdown.
			select {
			case m.workers <- struct{}{}:
			case <-ctx.Done():
				m.cfg.JobScheduler.Stop()
				m.wg.Wait()
				return
			}

			m.wg.Add(1)
			go func(signal JobSignal) {
				defer func() {
					<-m.workers
					m.wg.Done()
				}()
				m.handleJobSignal(ctx, signal)
			}(signal)
		}
	}
}
