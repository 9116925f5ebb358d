package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/blockcast/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createPredictionTableSQL = "CREATE TABLE IF NOT EXISTS prediction (id TEXT PRIMARY KEY, ticker TEXT NOT NULL, hourstart INTEGER NOT NULL, referenceopen REAL NOT NULL, direction TEXT NOT NULL, confidence REAL NOT NULL, tree TEXT NOT NULL, signals TEXT NOT NULL, createdon INTEGER NOT NULL, actualclose REAL, result TEXT, verifiedon INTEGER, UNIQUE(ticker, hourstart))"
	createPredictionIndexSQL = "CREATE INDEX IF NOT EXISTS prediction_pending_idx ON prediction (verifiedon, hourstart)"
	persistPredictionSQL     = "INSERT INTO prediction(id, ticker, hourstart, referenceopen, direction, confidence, tree, signals, createdon) VALUES(?,?,?,?,?,?,?,?,?) ON CONFLICT(ticker, hourstart) DO NOTHING"
	findPredictionSQL        = "SELECT id, ticker, hourstart, referenceopen, direction, confidence, tree, signals, createdon, actualclose, result, verifiedon FROM prediction WHERE ticker = ? AND hourstart = ?"
	findPredictionsSQL       = "SELECT id, ticker, hourstart, referenceopen, direction, confidence, tree, signals, createdon, actualclose, result, verifiedon FROM prediction WHERE ticker = ? AND hourstart >= ? AND hourstart < ? ORDER BY hourstart ASC"
	recordVerificationSQL    = "UPDATE prediction SET actualclose = ?, result = ?, verifiedon = ? WHERE ticker = ? AND hourstart = ? AND verifiedon IS NULL"
)

// rqliteClient defines the rqlite client requirements of the database.
type rqliteClient interface {
	// Execute executes the provided write statements.
	Execute(ctx context.Context, statements rqlitehttp.SQLStatements, opts *rqlitehttp.ExecuteOptions) (*rqlitehttp.ExecuteResponse, error)
	// Query executes the provided read statements.
	Query(ctx context.Context, statements rqlitehttp.SQLStatements, opts *rqlitehttp.QueryOptions) (*rqlitehttp.QueryResponse, error)
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DatabaseConfig) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Database represents the rqlite database connection.
type Database struct {
	cfg    *DatabaseConfig
	client rqliteClient
}

// Ensure the database implements the PredictionStore interface.
var _ shared.PredictionStore = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// execute runs the provided write statement in a transaction and returns its result.
func (db *Database) execute(ctx context.Context, sql string, params ...any) (*rqlitehttp.ExecuteResult, error) {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{{SQL: sql, PositionalParams: params}},
		&rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return nil, err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return nil, fmt.Errorf("statement %d -> %s", idx, errStr)
	}

	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no execute result returned")
	}

	return &resp.Results[0], nil
}

// query runs the provided read statement and returns its rows.
func (db *Database) query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	resp, err := db.client.Query(ctx, rqlitehttp.SQLStatements{{SQL: sql, PositionalParams: params}},
		&rqlitehttp.QueryOptions{Associative: true, Timings: true})
	if err != nil {
		return nil, err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return nil, fmt.Errorf("statement %d -> %s", idx, errStr)
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}

	return results[0].Rows, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createPredictionTableSQL},
		{SQL: createPredictionIndexSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("creating tables %d -> %s", idx, errStr)
	}

	return nil
}

// InsertPrediction atomically stores the provided prediction unless one already exists for its
// ticker and hour. A conflicting insert returns the stored record.
func (db *Database) InsertPrediction(ctx context.Context, pred *shared.BlockPrediction) (*shared.BlockPrediction, bool, error) {
	if pred == nil || pred.Ticker == "" {
		return nil, false, shared.ErrInvalidInput
	}

	signals, err := json.Marshal(pred.Signals)
	if err != nil {
		return nil, false, fmt.Errorf("encoding signals: %w", err)
	}

	res, err := db.execute(ctx, persistPredictionSQL, pred.ID, pred.Ticker, pred.HourStart.Unix(),
		pred.ReferenceOpen, pred.PredictedDirection.String(), pred.Confidence, pred.Tree.String(),
		string(signals), pred.CreatedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("persisting prediction %s: %w", pred.ID, err)
	}

	created := res.RowsAffected > 0
	if created {
		return pred.Clone(), true, nil
	}

	// The ticker hour already has a prediction, return the winning record.
	stored, err := db.FetchPrediction(ctx, pred.Ticker, pred.HourStart)
	if err != nil {
		return nil, false, fmt.Errorf("fetching conflicting prediction: %w", err)
	}

	return stored, false, nil
}

// FetchPrediction returns the prediction for the provided ticker and hour.
func (db *Database) FetchPrediction(ctx context.Context, ticker string, hourStart time.Time) (*shared.BlockPrediction, error) {
	rows, err := db.query(ctx, findPredictionSQL, ticker, shared.HourStart(hourStart).Unix())
	if err != nil {
		return nil, fmt.Errorf("querying prediction: %w", err)
	}

	if len(rows) == 0 {
		return nil, shared.ErrPredictionNotFound
	}

	pred, err := decodePrediction(rows[0])
	if err != nil {
		db.cfg.Logger.Error().Msgf("decoding prediction row: %s", spew.Sdump(rows[0]))
		return nil, err
	}

	return pred, nil
}

// RecordVerification sets the verification fields of the prediction for the provided ticker and
// hour if they are not already set.
func (db *Database) RecordVerification(ctx context.Context, ticker string, hourStart time.Time, v shared.Verification) (*shared.BlockPrediction, bool, error) {
	res, err := db.execute(ctx, recordVerificationSQL, v.ActualClose, v.Result.String(),
		v.VerifiedAt.Unix(), ticker, shared.HourStart(hourStart).Unix())
	if err != nil {
		return nil, false, fmt.Errorf("recording verification: %w", err)
	}

	stored, err := db.FetchPrediction(ctx, ticker, hourStart)
	if err != nil {
		return nil, false, err
	}

	return stored, res.RowsAffected > 0, nil
}

// FetchPredictions returns the predictions of the provided ticker with hour starts in
// [start, end), ordered by hour start.
func (db *Database) FetchPredictions(ctx context.Context, ticker string, start time.Time, end time.Time) ([]*shared.BlockPrediction, error) {
	rows, err := db.query(ctx, findPredictionsSQL, ticker, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}

	preds := make([]*shared.BlockPrediction, 0, len(rows))
	for idx := range rows {
		pred, err := decodePrediction(rows[idx])
		if err != nil {
			db.cfg.Logger.Error().Msgf("decoding prediction row: %s", spew.Sdump(rows[idx]))
			return nil, err
		}
		preds = append(preds, pred)
	}

	return preds, nil
}
