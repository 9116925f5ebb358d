package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/dnldd/blockcast/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blockcastCfg := service.BlockcastConfig{
		Tickers:              cfg.Tickers,
		FMPAPIKey:            cfg.FMPAPIKey,
		Backtest:             cfg.Backtest,
		BacktestDataFilepath: cfg.BacktestDataFilepath,
		Store:                cfg.Store,
		DBEndpoint:           cfg.DBEndpoint,
		DBUser:               cfg.DBUser,
		DBPass:               cfg.DBPass,
		PostgresDSN:          cfg.PostgresDSN,
		MetricsAddr:          cfg.MetricsAddr,
		BaselineMode:         cfg.BaselineMode,
		BaselineSessions:     cfg.BaselineSessions,
		BaselineHours:        cfg.BaselineHours,
		ForceDirectional:     cfg.ForceDirectional,
		Cancel:               cancel,
	}
	blockcast, err := service.NewBlockcast(ctx, &blockcastCfg)
	if err != nil {
		log.Printf("creating blockcast service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	blockcast.Run(ctx)
}
