package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/pkg/logger"
)

// ErrNotFound is returned when no analysis request exists for an id
var ErrNotFound = errors.New("analysis request not found")

// RequestStore persists analysis requests. Every stage transition goes
// through a conditional UPDATE on the current status, so concurrent or
// duplicate executions of the same stage resolve to exactly one winner.
type RequestStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewRequestStore creates a new request store
func NewRequestStore(pool *pgxpool.Pool, log *logger.Logger) *RequestStore {
	return &RequestStore{pool: pool, logger: log}
}

const requestColumns = `
	id, user_id, image_path, notes, status,
	analysis_result, market_data, final_recommendation, error_message,
	created_at, updated_at`

// Create inserts a new request in pending status
func (s *RequestStore) Create(ctx context.Context, userID, imagePath, notes string) (*contracts.AnalysisRequest, error) {
	query := `
		INSERT INTO analysis_requests (id, user_id, image_path, notes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + requestColumns

	row := s.pool.QueryRow(ctx, query, uuid.New().String(), userID, imagePath, notes, contracts.StatusPending)
	return scanRequest(row)
}

// Get fetches a request by id
func (s *RequestStore) Get(ctx context.Context, id string) (*contracts.AnalysisRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM analysis_requests WHERE id = $1`

	req, err := scanRequest(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

// Claim attempts the from → to status transition without writing any
// payload. It returns false when the row was not in the expected
// status, which a duplicate trigger treats as a no-op.
func (s *RequestStore) Claim(ctx context.Context, id string, from, to contracts.Status) (bool, error) {
	if !contracts.CanTransition(from, to) {
		return false, fmt.Errorf("invalid transition %s -> %s", from, to)
	}

	query := `
		UPDATE analysis_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	tag, err := s.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to claim request %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CommitExtraction persists the extraction result and moves
// analyzing → enriching in one statement.
func (s *RequestStore) CommitExtraction(ctx context.Context, id string, result *contracts.ExtractionResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	return s.commit(ctx, id, "analysis_result", payload, contracts.StatusAnalyzing, contracts.StatusEnriching)
}

// CommitMarketData persists enrichment output and moves
// enriching → generating in one statement.
func (s *RequestStore) CommitMarketData(ctx context.Context, id string, data *contracts.MarketData) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal market data: %w", err)
	}
	return s.commit(ctx, id, "market_data", payload, contracts.StatusEnriching, contracts.StatusGenerating)
}

// CommitRecommendation persists the final recommendation and moves
// generating → complete in one statement. A true return means this
// caller won the transition and owns the credit deduction.
func (s *RequestStore) CommitRecommendation(ctx context.Context, id string, rec *contracts.Recommendation) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal recommendation: %w", err)
	}
	return s.commit(ctx, id, "final_recommendation", payload, contracts.StatusGenerating, contracts.StatusComplete)
}

func (s *RequestStore) commit(ctx context.Context, id, column string, payload []byte, from, to contracts.Status) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE analysis_requests
		SET %s = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`, column)

	tag, err := s.pool.Exec(ctx, query, payload, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to commit %s for request %s: %w", column, id, err)
	}

	won := tag.RowsAffected() == 1
	if !won {
		s.logger.WithFields(map[string]interface{}{
			"request_id": id,
			"expected":   from.String(),
		}).Warn("Concurrent transition lost, leaving record untouched")
	}
	return won, nil
}

// Fail moves a request to failed with a stage-tagged message. Terminal
// records are never overwritten, so reporting a failure after another
// worker already completed the request is harmless.
func (s *RequestStore) Fail(ctx context.Context, id, message string) error {
	query := `
		UPDATE analysis_requests
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)`

	tag, err := s.pool.Exec(ctx, query,
		contracts.StatusFailed, message, id, contracts.StatusComplete, contracts.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark request %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WithField("request_id", id).Warn("Request already terminal, failure not recorded")
	}
	return nil
}

// FailStale marks every non-terminal request untouched for longer than
// maxAge as failed and returns the affected ids.
func (s *RequestStore) FailStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	query := `
		UPDATE analysis_requests
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE status NOT IN ($3, $4) AND updated_at < NOW() - $5::interval
		RETURNING id`

	rows, err := s.pool.Query(ctx, query,
		contracts.StatusFailed, "El análisis expiró sin completarse",
		contracts.StatusComplete, contracts.StatusFailed, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByUser returns a user's requests, newest first
func (s *RequestStore) ListByUser(ctx context.Context, userID string, limit int) ([]contracts.AnalysisRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM analysis_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []contracts.AnalysisRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func scanRequest(row pgx.Row) (*contracts.AnalysisRequest, error) {
	var (
		req            contracts.AnalysisRequest
		extraction     []byte
		marketData     []byte
		recommendation []byte
	)

	err := row.Scan(
		&req.ID, &req.UserID, &req.ImagePath, &req.Notes, &req.Status,
		&extraction, &marketData, &recommendation, &req.ErrorMessage,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(extraction) > 0 {
		req.ExtractionResult = &contracts.ExtractionResult{}
		if err := json.Unmarshal(extraction, req.ExtractionResult); err != nil {
			return nil, fmt.Errorf("failed to decode analysis_result for %s: %w", req.ID, err)
		}
	}
	if len(marketData) > 0 {
		req.MarketData = &contracts.MarketData{}
		if err := json.Unmarshal(marketData, req.MarketData); err != nil {
			return nil, fmt.Errorf("failed to decode market_data for %s: %w", req.ID, err)
		}
	}
	if len(recommendation) > 0 {
		req.FinalRecommendation = &contracts.Recommendation{}
		if err := json.Unmarshal(recommendation, req.FinalRecommendation); err != nil {
			return nil, fmt.Errorf("failed to decode final_recommendation for %s: %w", req.ID, err)
		}
	}

	return &req, nil
}
