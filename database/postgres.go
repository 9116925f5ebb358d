package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/blockcast/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	predictionColumns = "id, ticker, hour_start, reference_open, direction, confidence, tree, signals, created_at, actual_close, result, verified_at"

	insertPredictionPgSQL = `
		INSERT INTO prediction (id, ticker, hour_start, reference_open, direction, confidence, tree, signals, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticker, hour_start) DO NOTHING
		RETURNING ` + predictionColumns
	findPredictionPgSQL = `
		SELECT ` + predictionColumns + `
		FROM prediction
		WHERE ticker = $1 AND hour_start = $2`
	findPredictionsPgSQL = `
		SELECT ` + predictionColumns + `
		FROM prediction
		WHERE ticker = $1 AND hour_start >= $2 AND hour_start < $3
		ORDER BY hour_start ASC`
	recordVerificationPgSQL = `
		UPDATE prediction
		SET actual_close = $3, result = $4, verified_at = $5
		WHERE ticker = $1 AND hour_start = $2 AND verified_at IS NULL
		RETURNING ` + predictionColumns

	// pgErrUniqueViolation is the PostgreSQL unique_violation error code.
	pgErrUniqueViolation = "23505"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// PostgresStore implements shared.PredictionStore using PostgreSQL.
type PostgresStore struct {
	pool *Pool
}

// Ensure the postgres store implements the PredictionStore interface.
var _ shared.PredictionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new postgres prediction store.
func NewPostgresStore(pool *Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// scanPrediction scans a prediction from the provided row.
func scanPrediction(row pgx.Row) (*shared.BlockPrediction, error) {
	var (
		pred        shared.BlockPrediction
		direction   string
		tree        string
		signals     []byte
		actualClose *float64
		result      *string
		verifiedAt  *time.Time
	)

	err := row.Scan(&pred.ID, &pred.Ticker, &pred.HourStart, &pred.ReferenceOpen, &direction,
		&pred.Confidence, &tree, &signals, &pred.CreatedAt, &actualClose, &result, &verifiedAt)
	if err != nil {
		return nil, err
	}

	pred.HourStart = pred.HourStart.UTC()
	pred.CreatedAt = pred.CreatedAt.UTC()

	pred.PredictedDirection, err = shared.ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	pred.Tree, err = shared.ParseTree(tree)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(signals, &pred.Signals)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling signals: %w", err)
	}

	pred.ActualClose = actualClose
	if result != nil {
		res, err := shared.ParseVerificationResult(*result)
		if err != nil {
			return nil, err
		}
		pred.Result = &res
	}
	if verifiedAt != nil {
		v := verifiedAt.UTC()
		pred.VerifiedAt = &v
	}

	return &pred, nil
}

// InsertPrediction atomically stores the provided prediction unless one already exists for its
// ticker and hour. A conflicting insert returns the stored record.
func (s *PostgresStore) InsertPrediction(ctx context.Context, pred *shared.BlockPrediction) (*shared.BlockPrediction, bool, error) {
	if pred == nil || pred.Ticker == "" {
		return nil, false, shared.ErrInvalidInput
	}

	signals, err := json.Marshal(pred.Signals)
	if err != nil {
		return nil, false, fmt.Errorf("encoding signals: %w", err)
	}

	row := s.pool.QueryRow(ctx, insertPredictionPgSQL, pred.ID, pred.Ticker, pred.HourStart.UTC(),
		pred.ReferenceOpen, pred.PredictedDirection.String(), pred.Confidence, pred.Tree.String(),
		signals, pred.CreatedAt.UTC())
	stored, err := scanPrediction(row)
	switch {
	case err == nil:
		return stored, true, nil
	case isNotFoundError(err):
		// Nothing was returned, the ticker hour already has a prediction.
	case isDuplicateKeyError(err):
		return nil, false, fmt.Errorf("prediction id %s already exists: %w", pred.ID, err)
	default:
		return nil, false, fmt.Errorf("persisting prediction %s: %w", pred.ID, err)
	}

	stored, err = s.FetchPrediction(ctx, pred.Ticker, pred.HourStart)
	if err != nil {
		return nil, false, fmt.Errorf("fetching conflicting prediction: %w", err)
	}

	return stored, false, nil
}

// FetchPrediction returns the prediction for the provided ticker and hour.
func (s *PostgresStore) FetchPrediction(ctx context.Context, ticker string, hourStart time.Time) (*shared.BlockPrediction, error) {
	row := s.pool.QueryRow(ctx, findPredictionPgSQL, ticker, shared.HourStart(hourStart))
	pred, err := scanPrediction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, shared.ErrPredictionNotFound
		}
		return nil, fmt.Errorf("querying prediction: %w", err)
	}

	return pred, nil
}

// RecordVerification sets the verification fields of the prediction for the provided ticker and
// hour if they are not already set.
func (s *PostgresStore) RecordVerification(ctx context.Context, ticker string, hourStart time.Time, v shared.Verification) (*shared.BlockPrediction, bool, error) {
	row := s.pool.QueryRow(ctx, recordVerificationPgSQL, ticker, shared.HourStart(hourStart),
		v.ActualClose, v.Result.String(), v.VerifiedAt.UTC())
	pred, err := scanPrediction(row)
	if err == nil {
		return pred, true, nil
	}
	if !isNotFoundError(err) {
		return nil, false, fmt.Errorf("recording verification: %w", err)
	}

	// Either the prediction does not exist or it has already been verified.
	pred, err = s.FetchPrediction(ctx, ticker, hourStart)
	if err != nil {
		return nil, false, err
	}

	return pred, false, nil
}

// FetchPredictions returns the predictions of the provided ticker with hour starts in
// [start, end), ordered by hour start.
func (s *PostgresStore) FetchPredictions(ctx context.Context, ticker string, start time.Time, end time.Time) ([]*shared.BlockPrediction, error) {
	rows, err := s.pool.Query(ctx, findPredictionsPgSQL, ticker, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	var preds []*shared.BlockPrediction
	for rows.Next() {
		pred, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		preds = append(preds, pred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating predictions: %w", err)
	}

	return preds, nil
}
