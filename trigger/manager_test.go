package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/blockcast/block"
	"github.com/go-co-op/gocron"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// jobRecorder records the jobs run by the manager.
type jobRecorder struct {
	mtx       sync.Mutex
	generated []JobSignal
	verified  []JobSignal
	done      chan JobKind
	fail      bool
}

func newJobRecorder() *jobRecorder {
	return &jobRecorder{done: make(chan JobKind, 32)}
}

func (r *jobRecorder) generate(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (block.GenerateResult, error) {
	r.mtx.Lock()
	r.generated = append(r.generated, JobSignal{Kind: GenerateJob, Ticker: ticker, HourStart: hourStart, At: at})
	fail := r.fail
	r.mtx.Unlock()

	if fail {
		return block.GenerateResult{}, errors.New("store unreachable")
	}

	return block.GenerateResult{Outcome: block.Generated}, nil
}

func (r *jobRecorder) verify(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (block.VerifyResult, error) {
	r.mtx.Lock()
	r.verified = append(r.verified, JobSignal{Kind: VerifyJob, Ticker: ticker, HourStart: hourStart, At: at})
	r.mtx.Unlock()

	return block.VerifyResult{Outcome: block.Verified}, nil
}

func setupManager(t *testing.T, recorder *jobRecorder, now time.Time) *Manager {
	cfg := &ManagerConfig{
		Tickers:  []string{"^GSPC", "^IXIC"},
		Generate: recorder.generate,
		Verify:   recorder.verify,
		NotifyGenerated: func(ticker string, result block.GenerateResult, elapsed time.Duration) {
			recorder.done <- GenerateJob
		},
		NotifyVerified: func(ticker string, result block.VerifyResult, elapsed time.Duration) {
			recorder.done <- VerifyJob
		},
		JobScheduler: gocron.NewScheduler(time.UTC),
		Now:          func() time.Time { return now },
		Logger:       &log.Logger,
	}

	mgr, err := NewManager(cfg)
	assert.NoError(t, err)

	return mgr
}

func TestManagerConfigValidate(t *testing.T) {
	logger := zerolog.New(nil)
	recorder := newJobRecorder()

	baseCfg := &ManagerConfig{
		Tickers:      []string{"^GSPC"},
		Generate:     recorder.generate,
		Verify:       recorder.verify,
		JobScheduler: gocron.NewScheduler(time.UTC),
		Logger:       &logger,
	}

	tests := []struct {
		name        string
		modify      func(cfg *ManagerConfig)
		wantErr     bool
		errContains []string
	}{
		{
			name:    "valid config returns nil",
			modify:  func(cfg *ManagerConfig) {},
			wantErr: false,
		},
		{
			name:        "missing tickers",
			modify:      func(cfg *ManagerConfig) { cfg.Tickers = nil },
			wantErr:     true,
			errContains: []string{"no tickers provided"},
		},
		{
			name:        "negative lookback",
			modify:      func(cfg *ManagerConfig) { cfg.VerifyLookback = -1 },
			wantErr:     true,
			errContains: []string{"verify lookback cannot be negative"},
		},
		{
			name: "multiple missing fields",
			modify: func(cfg *ManagerConfig) {
				*cfg = ManagerConfig{}
			},
			wantErr: true,
			errContains: []string{
				"no tickers provided",
				"generate function cannot be nil",
				"verify function cannot be nil",
				"job scheduler cannot be nil",
				"logger cannot be nil",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *baseCfg
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				for _, substr := range tt.errContains {
					assert.True(t, strings.Contains(err.Error(), substr))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager(t *testing.T) {
	now := time.Date(2025, 2, 4, 14, 42, 51, 0, time.UTC)
	recorder := newJobRecorder()
	mgr := setupManager(t, recorder, now)

	// Ensure the generate and verify jobs are scheduled.
	assert.Equal(t, len(mgr.cfg.JobScheduler.Jobs()), 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure the trigger manager can be run.
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	// Ensure the generate job signals every ticker for the current hour.
	mgr.generateJob()
	for range 2 {
		assert.Equal(t, <-recorder.done, GenerateJob)
	}

	recorder.mtx.Lock()
	assert.Equal(t, len(recorder.generated), 2)
	for _, signal := range recorder.generated {
		assert.Equal(t, signal.HourStart, time.Date(2025, 2, 4, 14, 0, 0, 0, time.UTC))
		assert.Equal(t, signal.At, now)
	}
	recorder.mtx.Unlock()

	// Ensure the verify job signals every ticker for the closed hours in the lookback.
	mgr.verifyJob()
	for range 2 * defaultVerifyLookback {
		assert.Equal(t, <-recorder.done, VerifyJob)
	}

	recorder.mtx.Lock()
	assert.Equal(t, len(recorder.verified), 2*defaultVerifyLookback)
	hours := make(map[time.Time]int)
	for _, signal := range recorder.verified {
		hours[signal.HourStart]++
	}
	recorder.mtx.Unlock()
	assert.Equal(t, hours[time.Date(2025, 2, 4, 13, 0, 0, 0, time.UTC)], 2)
	assert.Equal(t, hours[time.Date(2025, 2, 4, 11, 0, 0, 0, time.UTC)], 2)
	assert.Equal(t, hours[time.Date(2025, 2, 4, 14, 0, 0, 0, time.UTC)], 0)

	stats := mgr.Stats()
	assert.Equal(t, stats.Generated, uint64(2))
	assert.Equal(t, stats.Verified, uint64(2*defaultVerifyLookback))
	assert.Equal(t, stats.Failed, uint64(0))

	// Ensure the trigger manager can be gracefully terminated.
	cancel()
	<-done
}

func TestManagerJobFailure(t *testing.T) {
	now := time.Date(2025, 2, 4, 14, 42, 51, 0, time.UTC)
	recorder := newJobRecorder()
	recorder.fail = true
	mgr := setupManager(t, recorder, now)

	// Ensure failed jobs are counted without notifying.
	signal := JobSignal{Kind: GenerateJob, Ticker: "^GSPC", HourStart: now, At: now}
	mgr.handleJobSignal(context.Background(), signal)
	assert.Equal(t, mgr.Stats().Failed, uint64(1))
	assert.Equal(t, len(recorder.done), 0)

	// Ensure signals beyond the channel capacity are dropped.
	for range bufferSize + 1 {
		mgr.SendJobSignal(signal)
	}
	assert.Equal(t, mgr.Stats().DroppedSignal, uint64(1))
}

func TestManagerShutdownWithBusyWorkers(t *testing.T) {
	now := time.Date(2025, 2, 4, 14, 42, 51, 0, time.UTC)
	recorder := newJobRecorder()
	mgr := setupManager(t, recorder, now)

	var calls atomic.Uint64
	started := make(chan struct{}, maxWorkers+1)
	release := make(chan struct{})
	mgr.cfg.Generate = func(ctx context.Context, ticker string, hourStart time.Time, at time.Time) (block.GenerateResult, error) {
		calls.Inc()
		started <- struct{}{}
		<-release
		return block.GenerateResult{Outcome: block.Generated}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	// Occupy every worker.
	signal := JobSignal{Kind: GenerateJob, Ticker: "^GSPC", HourStart: now, At: now}
	for range maxWorkers {
		mgr.SendJobSignal(signal)
	}
	for range maxWorkers {
		<-started
	}

	// Ensure a signal waiting on a free worker does not outlive shutdown.
	mgr.SendJobSignal(signal)
	time.Sleep(time.Millisecond * 50)
	cancel()
	time.Sleep(time.Millisecond * 50)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("expected the trigger manager to terminate")
	}
	assert.Equal(t, calls.Load(), uint64(maxWorkers))
}
