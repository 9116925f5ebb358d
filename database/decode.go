package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dnldd/blockcast/shared"
)

// toFloat converts the provided decoded json value to a float.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unexpected numeric value %v (%T)", v, v)
	}
}

// toInt converts the provided decoded json value to an integer.
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected integer value %v (%T)", v, v)
	}
}

// toString converts the provided decoded json value to a string.
func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected string value %v (%T)", v, v)
	}

	return s, nil
}

// decodePrediction decodes a prediction from the provided associative row.
func decodePrediction(row map[string]any) (*shared.BlockPrediction, error) {
	var pred shared.BlockPrediction
	var err error

	pred.ID, err = toString(row["id"])
	if err != nil {
		return nil, fmt.Errorf("decoding id: %w", err)
	}
	pred.Ticker, err = toString(row["ticker"])
	if err != nil {
		return nil, fmt.Errorf("decoding ticker: %w", err)
	}

	hourStart, err := toInt(row["hourstart"])
	if err != nil {
		return nil, fmt.Errorf("decoding hour start: %w", err)
	}
	pred.HourStart = time.Unix(hourStart, 0).UTC()

	pred.ReferenceOpen, err = toFloat(row["referenceopen"])
	if err != nil {
		return nil, fmt.Errorf("decoding reference open: %w", err)
	}

	direction, err := toString(row["direction"])
	if err != nil {
		return nil, fmt.Errorf("decoding direction: %w", err)
	}
	pred.PredictedDirection, err = shared.ParseDirection(direction)
	if err != nil {
		return nil, err
	}

	pred.Confidence, err = toFloat(row["confidence"])
	if err != nil {
		return nil, fmt.Errorf("decoding confidence: %w", err)
	}

	tree, err := toString(row["tree"])
	if err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}
	pred.Tree, err = shared.ParseTree(tree)
	if err != nil {
		return nil, err
	}

	signals, err := toString(row["signals"])
	if err != nil {
		return nil, fmt.Errorf("decoding signals: %w", err)
	}
	err = json.Unmarshal([]byte(signals), &pred.Signals)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling signals: %w", err)
	}

	createdOn, err := toInt(row["createdon"])
	if err != nil {
		return nil, fmt.Errorf("decoding created on: %w", err)
	}
	pred.CreatedAt = time.Unix(createdOn, 0).UTC()

	if v := row["actualclose"]; v != nil {
		actualClose, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("decoding actual close: %w", err)
		}
		pred.ActualClose = &actualClose
	}

	if v := row["result"]; v != nil {
		s, err := toString(v)
		if err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		result, err := shared.ParseVerificationResult(s)
		if err != nil {
			return nil, err
		}
		pred.Result = &result
	}

	if v := row["verifiedon"]; v != nil {
		verifiedOn, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("decoding verified on: %w", err)
		}
		verifiedAt := time.Unix(verifiedOn, 0).UTC()
		pred.VerifiedAt = &verifiedAt
	}

	return &pred, nil
}
